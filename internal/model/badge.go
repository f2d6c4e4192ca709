package model

import "time"

// CompletionCondition 课程结业时的判定结果，同时也是徽章的发放条件
type CompletionCondition string

const (
	ConditionPerfect   CompletionCondition = "perfect"
	ConditionCertified CompletionCondition = "certified"
	ConditionCompleted CompletionCondition = "completed"
	ConditionFailed    CompletionCondition = "failed"
)

type Badge struct {
	BaseModel
	Code      string              `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name      string              `gorm:"size:100;not null" json:"name"`
	Icon      string              `gorm:"size:255" json:"icon"`
	Condition CompletionCondition `gorm:"column:award_condition;size:20;index;not null" json:"condition"`
}

func (Badge) TableName() string {
	return "badges"
}

type BadgeGrant struct {
	RecordModel
	UserID    uint      `gorm:"uniqueIndex:idx_badge_grant_key;not null" json:"userId"`
	BadgeID   uint      `gorm:"uniqueIndex:idx_badge_grant_key;not null" json:"badgeId"`
	CourseID  uint      `json:"courseId"` // 首次获得时的课程
	GrantedAt time.Time `json:"grantedAt"`
}

func (BadgeGrant) TableName() string {
	return "badge_grants"
}
