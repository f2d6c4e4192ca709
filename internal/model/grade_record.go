package model

import "time"

// swagger:model GradeRecord
type GradeRecord struct {
	RecordModel
	UserID      uint      `gorm:"uniqueIndex:idx_grade_key;not null" json:"userId"`
	CourseID    uint      `gorm:"uniqueIndex:idx_grade_key;not null" json:"courseId"`
	Score       int       `json:"score"`
	Grade       string    `gorm:"size:10" json:"grade"`
	GradePoint  float64   `json:"gradePoint"`
	Credits     int       `json:"credits"`
	CompletedAt time.Time `json:"completedAt"`
}

func (GradeRecord) TableName() string {
	return "grade_records"
}
