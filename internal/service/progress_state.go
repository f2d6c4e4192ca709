package service

import (
	"learning_platform_backend/internal/model"
	"time"
)

// NextAction 章节状态迁移后需要由编排层执行的后续动作
type NextAction int

const (
	NoAction NextAction = iota
	UnlockNextChapter
	CompleteCourse
)

func (a NextAction) String() string {
	switch a {
	case UnlockNextChapter:
		return "UNLOCK_NEXT_CHAPTER"
	case CompleteCourse:
		return "COMPLETE_COURSE"
	default:
		return "NONE"
	}
}

func (a NextAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ResolveNextAction 章节完成后，有下一章则解锁，否则结业
func ResolveNextAction(completed bool, next *model.Chapter) NextAction {
	if !completed {
		return NoAction
	}
	if next != nil {
		return UnlockNextChapter
	}
	return CompleteCourse
}

func markStarted(p *model.ChapterProgress, now time.Time) {
	if p.StartedAt == nil {
		t := now
		p.StartedAt = &t
	}
}

func markCompleted(p *model.ChapterProgress, now time.Time) {
	t := now
	p.Status = model.ChapterCompleted
	p.CompletedAt = &t
}

// ApplyWatchRate 记录最新观看进度（不是最大值），返回迁移前状态
func ApplyWatchRate(p *model.ChapterProgress, rate, completionRate int, now time.Time) model.ChapterStatus {
	from := p.Status
	p.LessonWatchRate = rate
	markStarted(p, now)

	switch p.Status {
	case model.ChapterNotStarted:
		if rate >= completionRate {
			p.Status = model.ChapterLessonCompleted
		} else if rate > 0 {
			p.Status = model.ChapterLessonInProgress
		}
	case model.ChapterLessonInProgress:
		if rate >= completionRate {
			p.Status = model.ChapterLessonCompleted
		}
	}
	return from
}

// CanSubmit 是否允许提交任务
func CanSubmit(p *model.ChapterProgress, ch *model.Chapter) bool {
	switch p.Status {
	case model.ChapterLessonCompleted, model.ChapterTaskInProgress, model.ChapterCompleted:
		return true
	default:
		return !ch.HasLesson()
	}
}

// ApplySubmissionScore 写入评分结果；已完成的章节只刷新最佳成绩，不再迁移
func ApplySubmissionScore(p *model.ChapterProgress, score, passingScore int, submissionID uint, now time.Time) (from model.ChapterStatus, completed bool) {
	from = p.Status
	markStarted(p, now)

	if p.BestScore == nil || score > *p.BestScore {
		s, id := score, submissionID
		p.BestScore = &s
		p.BestSubmissionID = &id
	}

	if p.Status.IsTerminal() {
		return from, false
	}

	p.Score = score
	if score >= passingScore {
		markCompleted(p, now)
		return from, true
	}
	p.Status = model.ChapterTaskInProgress
	return from, false
}

// ForceTimeout 章节超时：强制完成且分数为 0
func ForceTimeout(p *model.ChapterProgress, now time.Time) model.ChapterStatus {
	from := p.Status
	t := now
	p.IsTimedOut = true
	p.TimeOutAt = &t
	p.Score = 0
	markCompleted(p, now)
	return from
}

// FlagTimeout 只记录超时，不改变状态（期末考试按倍率扣分）
func FlagTimeout(p *model.ChapterProgress, now time.Time) {
	t := now
	p.IsTimedOut = true
	p.TimeOutAt = &t
}
