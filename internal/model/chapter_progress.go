package model

import (
	"time"

	"gorm.io/datatypes"
)

// SectionResult 考试大题的作答结果
type SectionResult struct {
	Score       int       `json:"score"`
	RawScore    int       `json:"rawScore"`
	Feedback    string    `json:"feedback"`
	TimedOut    bool      `json:"timedOut"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type SectionResults map[int]SectionResult

// swagger:model ChapterProgress
type ChapterProgress struct {
	RecordModel
	UserID           uint          `gorm:"uniqueIndex:idx_progress_key;not null" json:"userId"`
	CourseID         uint          `gorm:"uniqueIndex:idx_progress_key;not null" json:"courseId"`
	ChapterID        uint          `gorm:"uniqueIndex:idx_progress_key;not null" json:"chapterId"`
	Status           ChapterStatus `gorm:"size:32;not null;default:'NOT_STARTED'" json:"status"`
	LessonWatchRate  int           `gorm:"default:0" json:"lessonWatchRate"`
	Score            int           `gorm:"default:0" json:"score"`
	BestScore        *int          `json:"bestScore,omitempty"`
	BestSubmissionID *uint         `json:"bestSubmissionId,omitempty"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	IsTimedOut       bool          `gorm:"default:false" json:"isTimedOut"`
	TimeOutAt        *time.Time    `json:"timeOutAt,omitempty"`

	// 以下仅期末考试章节使用
	SectionScores    datatypes.JSONType[SectionResults] `json:"sectionScores"`
	CurrentSection   int                                `gorm:"default:0" json:"currentSection"`
	SectionStartedAt *time.Time                         `json:"sectionStartedAt,omitempty"`
	Summary          string                             `gorm:"type:text" json:"summary,omitempty"`
}

func (ChapterProgress) TableName() string {
	return "chapter_progresses"
}

// Results 返回可写的大题结果副本
func (p *ChapterProgress) Results() SectionResults {
	out := SectionResults{}
	for k, v := range p.SectionScores.Data() {
		out[k] = v
	}
	return out
}

func (p *ChapterProgress) SetResults(r SectionResults) {
	p.SectionScores = datatypes.NewJSONType(r)
}

// swagger:model Submission
type Submission struct {
	RecordModel
	UserID       uint      `gorm:"index:idx_submission_key;not null" json:"userId"`
	CourseID     uint      `gorm:"index:idx_submission_key;not null" json:"courseId"`
	ChapterID    uint      `gorm:"index:idx_submission_key;not null" json:"chapterId"`
	SectionIndex int       `gorm:"default:-1" json:"sectionIndex"` // -1 表示普通章节任务
	Content      string    `gorm:"type:text" json:"content"`
	Score        int       `json:"score"`
	MaxScore     int       `json:"maxScore"`
	Feedback     string    `gorm:"type:text" json:"feedback"`
	NextStep     string    `gorm:"type:text" json:"nextStep,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

func (Submission) TableName() string {
	return "submissions"
}
