package model

import (
	"time"

	"gorm.io/datatypes"
)

// swagger:model Course
type Course struct {
	BaseModel
	Title         string `gorm:"size:255;not null" json:"title"`
	Description   string `gorm:"type:text" json:"description"`
	Credits       int    `gorm:"default:1" json:"credits"`
	TimeLimitDays int    `gorm:"default:0" json:"timeLimitDays"` // 0 表示不限时
	LevelRequired int    `gorm:"default:0" json:"levelRequired"`
	RankRequired  int    `gorm:"default:0" json:"rankRequired"`
	IsVisible     bool   `gorm:"default:true" json:"isVisible"`
}

func (Course) TableName() string {
	return "courses"
}

// ExamSection 期末考试的单个大题
type ExamSection struct {
	Title            string `json:"title"`
	MaxPoints        int    `json:"maxPoints"`
	Materials        string `json:"materials"`
	Task             string `json:"task"`
	Criteria         string `json:"criteria"`
	TimeLimitMinutes int    `json:"timeLimitMinutes,omitempty"` // 0 表示只受章节时限约束
}

type ExamSettings struct {
	Sections []ExamSection `json:"sections"`
}

// swagger:model Chapter
type Chapter struct {
	BaseModel
	CourseID       uint       `gorm:"index:idx_chapter_order;not null" json:"courseId"`
	OrderIndex     int        `gorm:"index:idx_chapter_order;not null" json:"orderIndex"`
	Title          string     `gorm:"size:255;not null" json:"title"`
	LessonURL      string     `gorm:"size:512" json:"lessonUrl"` // 为空表示没有视频/音频课
	Materials      string     `gorm:"type:text" json:"materials"`
	Task           string     `gorm:"type:text" json:"task"`
	Criteria       string     `gorm:"type:text" json:"criteria"`
	PassingScore   int        `gorm:"default:70" json:"passingScore"`
	TimeLimitHours int        `gorm:"default:0" json:"timeLimitHours"` // 0 表示不限时
	ReleaseTime    *time.Time `json:"releaseTime,omitempty"`
	IsVisible      bool       `gorm:"default:true" json:"isVisible"`
	IsPerfectOnly  bool       `gorm:"default:false" json:"isPerfectOnly"`
	IsFinalExam    bool       `gorm:"default:false" json:"isFinalExam"`

	ExamSettings datatypes.JSONType[ExamSettings] `json:"examSettings"`
}

func (Chapter) TableName() string {
	return "chapters"
}

func (c *Chapter) HasLesson() bool {
	return c.LessonURL != ""
}

func (c *Chapter) Sections() []ExamSection {
	return c.ExamSettings.Data().Sections
}
