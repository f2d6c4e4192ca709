package model

import "gorm.io/datatypes"

type ExperienceLog struct {
	RecordModel
	UserID   uint              `gorm:"index;not null" json:"userId"`
	Amount   int               `json:"amount"`
	Source   string            `gorm:"size:64" json:"source"`
	Metadata datatypes.JSONMap `json:"metadata"`
}

func (ExperienceLog) TableName() string {
	return "experience_logs"
}

type Notification struct {
	RecordModel
	UserID  uint              `gorm:"index;not null" json:"userId"`
	Type    string            `gorm:"size:32" json:"type"`
	Message string            `gorm:"size:512" json:"message"`
	Payload datatypes.JSONMap `json:"payload"`
	IsRead  bool              `gorm:"default:false" json:"isRead"`
}

func (Notification) TableName() string {
	return "notifications"
}
