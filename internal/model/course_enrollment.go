package model

import "time"

// swagger:model CourseEnrollment
type CourseEnrollment struct {
	RecordModel
	UserID                   uint         `gorm:"uniqueIndex:idx_enrollment_key;not null" json:"userId"`
	CourseID                 uint         `gorm:"uniqueIndex:idx_enrollment_key;not null" json:"courseId"`
	Status                   CourseStatus `gorm:"size:20;not null;default:'available'" json:"status"`
	IsActive                 bool         `gorm:"default:false;index" json:"isActive"`
	IsCurrent                bool         `gorm:"default:false" json:"isCurrent"`
	StartedAt                *time.Time   `json:"startedAt,omitempty"`
	CompletedAt              *time.Time   `json:"completedAt,omitempty"`
	TimeOutAt                *time.Time   `json:"timeOutAt,omitempty"`
	CertificationEligibility bool         `gorm:"default:true" json:"certificationEligibility"`
}

func (CourseEnrollment) TableName() string {
	return "course_enrollments"
}
