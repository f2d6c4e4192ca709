package service

import (
	"learning_platform_backend/internal/model"
	"time"
)

// TimeoutResult 超时判定结果
type TimeoutResult struct {
	IsTimedOut bool       `json:"isTimedOut"`
	TimeOutAt  *time.Time `json:"timeOutAt,omitempty"`
	// Applied 本次调用是否执行了超时处理；重复检查时为 false
	Applied bool `json:"applied"`
}

// TimeoutEngine 纯粹的期限计算，不做任何持久化。
// 章节时限单位为小时，课程时限单位为天。
type TimeoutEngine struct {
	now func() time.Time
}

func NewTimeoutEngine(now func() time.Time) *TimeoutEngine {
	if now == nil {
		now = time.Now
	}
	return &TimeoutEngine{now: now}
}

func (e *TimeoutEngine) Now() time.Time {
	return e.now()
}

func ChapterDeadline(startedAt time.Time, limitHours int) time.Time {
	return startedAt.Add(time.Duration(limitHours) * time.Hour)
}

func CourseDeadline(startedAt time.Time, limitDays int) time.Time {
	return startedAt.Add(time.Duration(limitDays) * 24 * time.Hour)
}

// Expired 判断 startedAt + limit 是否已过；limit <= 0 或未开始视为不限时
func (e *TimeoutEngine) Expired(startedAt *time.Time, deadline func(time.Time) time.Time) TimeoutResult {
	if startedAt == nil || deadline == nil {
		return TimeoutResult{}
	}
	at := deadline(*startedAt)
	if e.now().Before(at) {
		return TimeoutResult{}
	}
	return TimeoutResult{IsTimedOut: true, TimeOutAt: &at}
}

// CheckChapter 已持久化的超时标记优先，保证重复检查结果一致
func (e *TimeoutEngine) CheckChapter(p *model.ChapterProgress, limitHours int) TimeoutResult {
	if p.IsTimedOut {
		return TimeoutResult{IsTimedOut: true, TimeOutAt: p.TimeOutAt}
	}
	if p.Status.IsTerminal() || limitHours <= 0 {
		return TimeoutResult{}
	}
	return e.Expired(p.StartedAt, func(t time.Time) time.Time { return ChapterDeadline(t, limitHours) })
}

// CheckCourse 课程已因超时失败时直接返回已记录的期限
func (e *TimeoutEngine) CheckCourse(en *model.CourseEnrollment, limitDays int) TimeoutResult {
	if en.Status == model.CourseFailed && en.TimeOutAt != nil && !e.now().Before(*en.TimeOutAt) {
		return TimeoutResult{IsTimedOut: true, TimeOutAt: en.TimeOutAt}
	}
	if en.Status != model.CourseActive || limitDays <= 0 {
		return TimeoutResult{}
	}
	return e.Expired(en.StartedAt, func(t time.Time) time.Time { return CourseDeadline(t, limitDays) })
}
