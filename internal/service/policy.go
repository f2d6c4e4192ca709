package service

import (
	"learning_platform_backend/internal/config"
	"sync"
)

// ProgressPolicy 进度引擎的可调参数，可在配置热更新时替换
type ProgressPolicy struct {
	PassingScore                int
	LessonCompletionRate        int
	ExamTimeoutMultiplier       float64
	ChapterCompletionXP         int
	CourseCompletionXPPerCredit int
}

func DefaultProgressPolicy() ProgressPolicy {
	return ProgressPolicy{
		PassingScore:                70,
		LessonCompletionRate:        95,
		ExamTimeoutMultiplier:       0.8,
		ChapterCompletionXP:         10,
		CourseCompletionXPPerCredit: 100,
	}
}

func PolicyFromConfig(cfg config.ProgressConfig) ProgressPolicy {
	p := DefaultProgressPolicy()
	if cfg.PassingScore > 0 {
		p.PassingScore = cfg.PassingScore
	}
	if cfg.LessonCompletionRate > 0 {
		p.LessonCompletionRate = cfg.LessonCompletionRate
	}
	if cfg.ExamTimeoutMultiplier > 0 {
		p.ExamTimeoutMultiplier = cfg.ExamTimeoutMultiplier
	}
	if cfg.ChapterCompletionXP > 0 {
		p.ChapterCompletionXP = cfg.ChapterCompletionXP
	}
	if cfg.CourseCompletionXPCredit > 0 {
		p.CourseCompletionXPPerCredit = cfg.CourseCompletionXPCredit
	}
	return p
}

type PolicyHolder struct {
	mu     sync.RWMutex
	policy ProgressPolicy
}

func NewPolicyHolder(p ProgressPolicy) *PolicyHolder {
	return &PolicyHolder{policy: p}
}

func (h *PolicyHolder) Get() ProgressPolicy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

func (h *PolicyHolder) Set(p ProgressPolicy) {
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
}

// passingScoreFor 章节未配置及格线时使用全局默认值
func (h *PolicyHolder) passingScoreFor(chapterPassing int) int {
	if chapterPassing > 0 {
		return chapterPassing
	}
	return h.Get().PassingScore
}
