package service

import (
	"context"
	"errors"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/internal/util"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"learning_platform_backend/pkg/tracing"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	chapterMachine  = "chapter"
	chapterMaxScore = 100
)

// ProgressResult 章节操作的返回值，包含编排层执行的后续动作
type ProgressResult struct {
	Progress      *model.ChapterProgress `json:"progress"`
	Submission    *model.Submission      `json:"submission,omitempty"`
	Action        NextAction             `json:"nextAction"`
	NextChapterID *uint                  `json:"nextChapterId,omitempty"`
	Course        *CompletionOutcome     `json:"course,omitempty"`
	Timeout       TimeoutResult          `json:"timeout"`
}

type ProgressService struct {
	DB             *gorm.DB
	CourseRepo     *repository.CourseRepository
	ProgressRepo   *repository.ProgressRepository
	EnrollmentRepo *repository.EnrollmentRepository
	Courses        *CourseService
	Evaluator      Evaluator
	Bus            eventbus.Publisher
	Timeout        *TimeoutEngine
	Policy         *PolicyHolder
}

func NewProgressService(
	db *gorm.DB,
	courseRepo *repository.CourseRepository,
	progressRepo *repository.ProgressRepository,
	enrollmentRepo *repository.EnrollmentRepository,
	courses *CourseService,
	evaluator Evaluator,
	bus eventbus.Publisher,
	timeout *TimeoutEngine,
	policy *PolicyHolder,
) *ProgressService {
	if policy == nil {
		policy = NewPolicyHolder(DefaultProgressPolicy())
	}
	return &ProgressService{
		DB:             db,
		CourseRepo:     courseRepo,
		ProgressRepo:   progressRepo,
		EnrollmentRepo: enrollmentRepo,
		Courses:        courses,
		Evaluator:      evaluator,
		Bus:            bus,
		Timeout:        timeout,
		Policy:         policy,
	}
}

type progressTx struct {
	courses  *repository.CourseRepository
	progress *repository.ProgressRepository
}

func (s *ProgressService) repos(tx *gorm.DB) progressTx {
	return progressTx{
		courses:  s.CourseRepo.WithTx(tx),
		progress: s.ProgressRepo.WithTx(tx),
	}
}

type chapterAccess struct {
	course  *model.Course
	chapter *model.Chapter
}

// findChapter 课程与章节存在且章节可见
func (s *ProgressService) findChapter(ctx context.Context, op string, courseID, chapterID uint) (*chapterAccess, error) {
	r := s.repos(s.DB.WithContext(ctx))
	course, err := r.courses.FindCourse(courseID)
	if err != nil {
		return nil, notFoundOr(err, op, "course %d not found", courseID)
	}
	chapter, err := r.courses.FindChapter(courseID, chapterID)
	if err != nil {
		return nil, notFoundOr(err, op, "chapter %d not found in course %d", chapterID, courseID)
	}
	if !chapter.IsVisible {
		return nil, util.NotFound(op, "chapter %d not found in course %d", chapterID, courseID)
	}
	return &chapterAccess{course: course, chapter: chapter}, nil
}

// access 学习类操作的前置检查：章节已发布、课程未超时且处于进行中
func (s *ProgressService) access(ctx context.Context, op string, userID, courseID, chapterID uint) (*chapterAccess, error) {
	acc, err := s.findChapter(ctx, op, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	if rt := acc.chapter.ReleaseTime; rt != nil && s.Timeout.Now().Before(*rt) {
		return nil, util.Conflict(op, "chapter %d is not released until %s", chapterID, rt.Format(util.TimeFormat))
	}

	res, err := s.Courses.CheckCourseTimeout(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if res.IsTimedOut {
		return nil, util.Conflict(op, "course %d has timed out", courseID)
	}
	en, err := s.EnrollmentRepo.WithTx(s.DB.WithContext(ctx)).Find(userID, courseID)
	if err != nil {
		return nil, notFoundOr(err, op, "course %d is not granted to user %d", courseID, userID)
	}
	if en.Status != model.CourseActive {
		return nil, util.Conflict(op, "course %d is %s, not active", courseID, en.Status)
	}
	return acc, nil
}

// loadOrUnlockTx 锁定进度行；首次访问已解锁的章节时创建
func (s *ProgressService) loadOrUnlockTx(r progressTx, op string, userID uint, acc *chapterAccess) (*model.ChapterProgress, error) {
	courseID, chapterID := acc.course.ID, acc.chapter.ID
	p, err := r.progress.FindForUpdate(userID, courseID, chapterID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	chapters, err := r.courses.ListChapters(courseID)
	if err != nil {
		return nil, err
	}
	existing, err := r.progress.ListByUserCourse(userID, courseID)
	if err != nil {
		return nil, err
	}
	if !newChapterGate(chapters, existing).Unlocked(chapterID) {
		return nil, util.Conflict(op, "chapter %d is locked", chapterID)
	}
	if _, err := r.progress.CreateIfAbsent(&model.ChapterProgress{
		UserID:    userID,
		CourseID:  courseID,
		ChapterID: chapterID,
		Status:    model.ChapterNotStarted,
	}); err != nil {
		return nil, err
	}
	return r.progress.FindForUpdate(userID, courseID, chapterID)
}

// applyChapterTimeoutTx 惰性超时检查。
// 普通章节强制完成（0 分）并解锁下一章；期末考试只记录超时，之后的大题按倍率扣分。
func (s *ProgressService) applyChapterTimeoutTx(tx *gorm.DB, p *model.ChapterProgress, acc *chapterAccess, now time.Time, batch *eventBatch, result *ProgressResult) error {
	res := s.Timeout.CheckChapter(p, acc.chapter.TimeLimitHours)
	result.Timeout = res
	if !res.IsTimedOut || p.IsTimedOut {
		return nil
	}

	r := s.repos(tx)
	from := p.Status
	if acc.chapter.IsFinalExam {
		FlagTimeout(p, now)
	} else {
		ForceTimeout(p, now)
	}
	if err := r.progress.Save(p); err != nil {
		return err
	}

	monitoring.Timeouts.WithLabelValues(chapterMachine).Inc()
	result.Timeout = TimeoutResult{IsTimedOut: true, TimeOutAt: p.TimeOutAt, Applied: true}
	batch.add(eventbus.TimeoutOccurred, p.UserID, p.CourseID, p.ChapterID, map[string]interface{}{
		"scope":     chapterMachine,
		"timeOutAt": p.TimeOutAt,
		"exam":      acc.chapter.IsFinalExam,
	})
	logger.Log.Info("Chapter timed out",
		zap.Uint("userID", p.UserID),
		zap.Uint("courseID", p.CourseID),
		zap.Uint("chapterID", p.ChapterID),
		zap.Bool("exam", acc.chapter.IsFinalExam),
	)
	if acc.chapter.IsFinalExam {
		return nil
	}

	batch.statusChanged(chapterMachine, p.UserID, p.CourseID, p.ChapterID, string(from), string(p.Status))
	batch.add(eventbus.ChapterCompleted, p.UserID, p.CourseID, p.ChapterID, map[string]interface{}{
		"score":    0,
		"timedOut": true,
	})
	return s.afterCompletionTx(tx, p, now, batch, result)
}

// nextChapterTx 按解锁规则找下一章，nil 表示已是课程需要完成的最后一章
func (s *ProgressService) nextChapterTx(tx *gorm.DB, p *model.ChapterProgress) (*model.Chapter, error) {
	r := s.repos(tx)
	chapters, err := r.courses.ListChapters(p.CourseID)
	if err != nil {
		return nil, err
	}
	existing, err := r.progress.ListByUserCourse(p.UserID, p.CourseID)
	if err != nil {
		return nil, err
	}
	return newChapterGate(chapters, existing).Next(p.ChapterID), nil
}

// afterCompletionTx 执行章节完成后的动作：解锁下一章或结业
func (s *ProgressService) afterCompletionTx(tx *gorm.DB, p *model.ChapterProgress, now time.Time, batch *eventBatch, result *ProgressResult) error {
	r := s.repos(tx)
	next, err := s.nextChapterTx(tx, p)
	if err != nil {
		return err
	}
	result.Action = ResolveNextAction(true, next)

	switch result.Action {
	case UnlockNextChapter:
		if _, err := r.progress.CreateIfAbsent(&model.ChapterProgress{
			UserID:    p.UserID,
			CourseID:  p.CourseID,
			ChapterID: next.ID,
			Status:    model.ChapterNotStarted,
		}); err != nil {
			return err
		}
		id := next.ID
		result.NextChapterID = &id
	case CompleteCourse:
		out, err := s.Courses.completeCourseTx(tx, p.UserID, p.CourseID, now, batch)
		if err != nil {
			return err
		}
		result.Course = out
	}
	return nil
}

// StartChapter 打开章节，开始计时
func (s *ProgressService) StartChapter(ctx context.Context, userID, courseID, chapterID uint) (result *ProgressResult, err error) {
	const op = "progress.start"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	acc, err := s.access(ctx, op, userID, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		result = &ProgressResult{}
		r := s.repos(tx)
		p, err := s.loadOrUnlockTx(r, op, userID, acc)
		if err != nil {
			return err
		}
		result.Progress = p
		if err := s.applyChapterTimeoutTx(tx, p, acc, now, batch, result); err != nil {
			return err
		}
		if p.StartedAt == nil {
			markStarted(p, now)
			return r.progress.Save(p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return result, nil
}

// RecordWatchProgress 记录视频/音频的观看进度（0-100）
func (s *ProgressService) RecordWatchProgress(ctx context.Context, userID, courseID, chapterID uint, rate int) (result *ProgressResult, err error) {
	const op = "progress.watch"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	if rate < 0 || rate > 100 {
		return nil, util.Validation(op, "watch rate %d out of range [0, 100]", rate)
	}
	acc, err := s.access(ctx, op, userID, courseID, chapterID)
	if err != nil {
		return nil, err
	}

	threshold := s.Policy.Get().LessonCompletionRate
	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		result = &ProgressResult{}
		r := s.repos(tx)
		p, err := s.loadOrUnlockTx(r, op, userID, acc)
		if err != nil {
			return err
		}
		result.Progress = p
		if err := s.applyChapterTimeoutTx(tx, p, acc, now, batch, result); err != nil {
			return err
		}

		from := ApplyWatchRate(p, rate, threshold, now)
		if err := r.progress.Save(p); err != nil {
			return err
		}
		batch.statusChanged(chapterMachine, userID, courseID, chapterID, string(from), string(p.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return result, nil
}

// RecordSubmission 提交章节任务。
// 评分在事务外进行，评分失败时不写入任何数据；评分成功后重新加锁校验状态再落库。
func (s *ProgressService) RecordSubmission(ctx context.Context, userID, courseID, chapterID uint, content string) (result *ProgressResult, err error) {
	const op = "progress.submit"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	span.SetAttributes(attribute.Int64("chapter.id", int64(chapterID)))
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(content) == "" {
		return nil, util.Validation(op, "submission content is empty")
	}
	acc, err := s.access(ctx, op, userID, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	if acc.chapter.IsFinalExam {
		return nil, util.Validation(op, "chapter %d is a final exam, submit it by section", chapterID)
	}

	// 先在独立事务中完成惰性超时检查，已超时的结果需要保留
	now := s.Timeout.Now()
	batch := newEventBatch(now)
	pre := &ProgressResult{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		pre = &ProgressResult{}
		p, err := s.loadOrUnlockTx(s.repos(tx), op, userID, acc)
		if err != nil {
			return err
		}
		pre.Progress = p
		return s.applyChapterTimeoutTx(tx, p, acc, now, batch, pre)
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	// 本次调用触发的超时是正常结果，提交内容不再评分
	if pre.Timeout.Applied {
		return pre, nil
	}
	if pre.Progress.IsTimedOut {
		return nil, util.Conflict(op, "chapter %d has timed out", chapterID)
	}
	if !CanSubmit(pre.Progress, acc.chapter) {
		return nil, util.Conflict(op, "lesson of chapter %d is not completed", chapterID)
	}

	eval, err := s.Evaluator.Evaluate(ctx, EvaluationRequest{
		Materials:  acc.chapter.Materials,
		Task:       acc.chapter.Task,
		Criteria:   acc.chapter.Criteria,
		Submission: content,
		MaxScore:   chapterMaxScore,
	})
	if err != nil {
		logger.Log.Warn("Submission evaluation failed",
			zap.Uint("userID", userID),
			zap.Uint("chapterID", chapterID),
			zap.Error(err),
		)
		return nil, util.EvaluationFailed(op, err)
	}
	score := clampScore(eval.Score, chapterMaxScore)
	passing := s.Policy.passingScoreFor(acc.chapter.PassingScore)

	now = s.Timeout.Now()
	batch = newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		result = &ProgressResult{}
		r := s.repos(tx)
		p, err := r.progress.FindForUpdate(userID, courseID, chapterID)
		if err != nil {
			return notFoundOr(err, op, "no progress for chapter %d", chapterID)
		}
		if p.IsTimedOut {
			return util.Conflict(op, "chapter %d has timed out", chapterID)
		}
		if !CanSubmit(p, acc.chapter) {
			return util.Conflict(op, "lesson of chapter %d is not completed", chapterID)
		}

		sub := &model.Submission{
			UserID:       userID,
			CourseID:     courseID,
			ChapterID:    chapterID,
			SectionIndex: -1,
			Content:      content,
			Score:        score,
			MaxScore:     chapterMaxScore,
			Feedback:     eval.Feedback,
			NextStep:     eval.NextStep,
			SubmittedAt:  now,
		}
		if err := r.progress.CreateSubmission(sub); err != nil {
			return err
		}

		from, completed := ApplySubmissionScore(p, score, passing, sub.ID, now)
		if err := r.progress.Save(p); err != nil {
			return err
		}
		result.Progress = p
		result.Submission = sub
		batch.statusChanged(chapterMachine, userID, courseID, chapterID, string(from), string(p.Status))
		if !completed {
			return nil
		}
		batch.add(eventbus.ChapterCompleted, userID, courseID, chapterID, map[string]interface{}{
			"score":    score,
			"timedOut": false,
		})
		return s.afterCompletionTx(tx, p, now, batch, result)
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return result, nil
}

// CheckTimeout 检查章节是否超时，重复调用结果一致。
// 课程已结束（完成、失败等）时只返回已保存的超时标记，不再推进进度。
func (s *ProgressService) CheckTimeout(ctx context.Context, userID, courseID, chapterID uint) (result *ProgressResult, err error) {
	const op = "progress.check_timeout"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	acc, err := s.findChapter(ctx, op, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		result = &ProgressResult{}
		p, err := s.repos(tx).progress.FindForUpdate(userID, courseID, chapterID)
		if err != nil {
			return notFoundOr(err, op, "no progress for chapter %d", chapterID)
		}
		result.Progress = p
		en, err := s.EnrollmentRepo.WithTx(tx).FindForUpdate(userID, courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d is not granted to user %d", courseID, userID)
		}
		if en.Status != model.CourseActive {
			result.Timeout = TimeoutResult{IsTimedOut: p.IsTimedOut, TimeOutAt: p.TimeOutAt}
			return nil
		}
		return s.applyChapterTimeoutTx(tx, p, acc, now, batch, result)
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return result, nil
}

// ChapterView 章节及其进度
type ChapterView struct {
	Chapter  model.Chapter          `json:"chapter"`
	Progress *model.ChapterProgress `json:"progress,omitempty"`
	Unlocked bool                   `json:"unlocked"`
}

type CourseProgressView struct {
	Enrollment        *model.CourseEnrollment `json:"enrollment"`
	Chapters          []ChapterView           `json:"chapters"`
	CompletedChapters int                     `json:"completedChapters"`
	TotalChapters     int                     `json:"totalChapters"`
}

func (s *ProgressService) GetCourseProgress(ctx context.Context, userID, courseID uint) (*CourseProgressView, error) {
	const op = "progress.course"
	db := s.DB.WithContext(ctx)
	r := s.repos(db)
	if _, err := r.courses.FindCourse(courseID); err != nil {
		return nil, notFoundOr(err, op, "course %d not found", courseID)
	}
	en, err := s.EnrollmentRepo.WithTx(db).Find(userID, courseID)
	if err != nil {
		return nil, notFoundOr(err, op, "course %d is not granted to user %d", courseID, userID)
	}
	chapters, err := r.courses.ListChapters(courseID)
	if err != nil {
		return nil, err
	}
	progress, err := r.progress.ListByUserCourse(userID, courseID)
	if err != nil {
		return nil, err
	}

	gate := newChapterGate(chapters, progress)
	view := &CourseProgressView{Enrollment: en}
	for _, ch := range chapters {
		if !ch.IsVisible {
			continue
		}
		p := gate.progress[ch.ID]
		view.Chapters = append(view.Chapters, ChapterView{
			Chapter:  ch,
			Progress: p,
			Unlocked: en.Status == model.CourseActive && gate.Unlocked(ch.ID),
		})
		view.TotalChapters++
		if p != nil && p.Status == model.ChapterCompleted {
			view.CompletedChapters++
		}
	}
	return view, nil
}

func (s *ProgressService) ListSubmissions(ctx context.Context, userID, courseID, chapterID uint) ([]model.Submission, error) {
	return s.ProgressRepo.WithTx(s.DB.WithContext(ctx)).ListSubmissions(userID, courseID, chapterID)
}
