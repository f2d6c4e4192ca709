package service

import (
	"context"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/internal/util"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/tracing"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SectionOutcome 单个大题的评分结果
type SectionOutcome struct {
	Index     int    `json:"index"`
	Score     int    `json:"score"`
	RawScore  int    `json:"rawScore"`
	MaxPoints int    `json:"maxPoints"`
	Feedback  string `json:"feedback"`
	NextStep  string `json:"nextStep,omitempty"`
	TimedOut  bool   `json:"timedOut"`
}

type ExamResult struct {
	Progress      *model.ChapterProgress `json:"progress"`
	Section       SectionOutcome         `json:"section"`
	Finished      bool                   `json:"finished"`
	TotalScore    int                    `json:"totalScore"`
	Grade         *Grade                 `json:"grade,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	Action        NextAction             `json:"nextAction"`
	NextChapterID *uint                  `json:"nextChapterId,omitempty"`
	Course        *CompletionOutcome     `json:"course,omitempty"`
}

// ExamSectionView 考试大题及作答情况，不包含评分标准
type ExamSectionView struct {
	Index            int                  `json:"index"`
	Title            string               `json:"title"`
	MaxPoints        int                  `json:"maxPoints"`
	Materials        string               `json:"materials"`
	Task             string               `json:"task"`
	TimeLimitMinutes int                  `json:"timeLimitMinutes,omitempty"`
	Result           *model.SectionResult `json:"result,omitempty"`
}

type ExamState struct {
	Progress       *model.ChapterProgress `json:"progress"`
	Sections       []ExamSectionView      `json:"sections"`
	CurrentSection int                    `json:"currentSection"`
	Finished       bool                   `json:"finished"`
	Deadline       *time.Time             `json:"deadline,omitempty"`
}

type ExamService struct {
	DB         *gorm.DB
	Progress   *ProgressService
	GradeRepo  *repository.GradeRepository
	Evaluator  Evaluator
	Summarizer Summarizer
	Bus        eventbus.Publisher
}

func NewExamService(db *gorm.DB, progress *ProgressService, gradeRepo *repository.GradeRepository, evaluator Evaluator, summarizer Summarizer, bus eventbus.Publisher) *ExamService {
	return &ExamService{
		DB:         db,
		Progress:   progress,
		GradeRepo:  gradeRepo,
		Evaluator:  evaluator,
		Summarizer: summarizer,
		Bus:        bus,
	}
}

// sectionStart 第一个大题从章节开始计时
func sectionStart(p *model.ChapterProgress) *time.Time {
	if p.SectionStartedAt != nil {
		return p.SectionStartedAt
	}
	return p.StartedAt
}

func sectionExpired(p *model.ChapterProgress, section model.ExamSection, now time.Time) bool {
	start := sectionStart(p)
	if section.TimeLimitMinutes <= 0 || start == nil {
		return false
	}
	return !now.Before(start.Add(time.Duration(section.TimeLimitMinutes) * time.Minute))
}

func (s *ExamService) checkSubmittable(op string, p *model.ChapterProgress, ch *model.Chapter, index int) error {
	if p.Status.IsTerminal() {
		return util.Conflict(op, "exam of chapter %d is already submitted", ch.ID)
	}
	if index != p.CurrentSection {
		return util.Conflict(op, "section %d is not the current section %d", index, p.CurrentSection)
	}
	if !CanSubmit(p, ch) {
		return util.Conflict(op, "lesson of chapter %d is not completed", ch.ID)
	}
	return nil
}

// GetExamState 查看考试进度，首次访问时创建进度行
func (s *ExamService) GetExamState(ctx context.Context, userID, courseID, chapterID uint) (*ExamState, error) {
	const op = "exam.state"
	acc, err := s.Progress.findChapter(ctx, op, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	if !acc.chapter.IsFinalExam {
		return nil, util.Validation(op, "chapter %d is not a final exam", chapterID)
	}
	// 课程结束后只读查看已有的考试记录
	var p *model.ChapterProgress
	db := s.DB.WithContext(ctx)
	if en, err := s.Progress.EnrollmentRepo.WithTx(db).Find(userID, courseID); err == nil && en.Status != model.CourseActive {
		if existing, err := s.Progress.ProgressRepo.WithTx(db).Find(userID, courseID, chapterID); err == nil {
			p = existing
		}
	}
	if p == nil {
		started, err := s.Progress.StartChapter(ctx, userID, courseID, chapterID)
		if err != nil {
			return nil, err
		}
		p = started.Progress
	}
	results := p.Results()
	state := &ExamState{
		Progress:       p,
		CurrentSection: p.CurrentSection,
		Finished:       p.Status.IsTerminal(),
	}
	if p.StartedAt != nil && acc.chapter.TimeLimitHours > 0 {
		d := ChapterDeadline(*p.StartedAt, acc.chapter.TimeLimitHours)
		state.Deadline = &d
	}
	for i, sec := range acc.chapter.Sections() {
		view := ExamSectionView{
			Index:            i,
			Title:            sec.Title,
			MaxPoints:        sec.MaxPoints,
			Materials:        sec.Materials,
			Task:             sec.Task,
			TimeLimitMinutes: sec.TimeLimitMinutes,
		}
		if r, ok := results[i]; ok {
			r := r
			view.Result = &r
		}
		state.Sections = append(state.Sections, view)
	}
	return state, nil
}

// SubmitSection 提交当前大题；最后一个大题提交后汇总成绩并完成章节
func (s *ExamService) SubmitSection(ctx context.Context, userID, courseID, chapterID uint, index int, content string) (result *ExamResult, err error) {
	const op = "exam.submit_section"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	span.SetAttributes(attribute.Int64("chapter.id", int64(chapterID)), attribute.Int("exam.section", index))
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(content) == "" {
		return nil, util.Validation(op, "submission content is empty")
	}
	acc, err := s.Progress.access(ctx, op, userID, courseID, chapterID)
	if err != nil {
		return nil, err
	}
	ch := acc.chapter
	if !ch.IsFinalExam {
		return nil, util.Validation(op, "chapter %d is not a final exam", chapterID)
	}
	sections := ch.Sections()
	if len(sections) == 0 {
		return nil, util.Conflict(op, "exam of chapter %d has no sections", chapterID)
	}
	if index < 0 || index >= len(sections) {
		return nil, util.Validation(op, "section index %d out of range [0, %d)", index, len(sections))
	}
	section := sections[index]

	now := s.Progress.Timeout.Now()
	batch := newEventBatch(now)
	var pre *model.ChapterProgress
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		p, err := s.Progress.loadOrUnlockTx(s.Progress.repos(tx), op, userID, acc)
		if err != nil {
			return err
		}
		pre = p
		return s.Progress.applyChapterTimeoutTx(tx, p, acc, now, batch, &ProgressResult{})
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	if err := s.checkSubmittable(op, pre, ch, index); err != nil {
		return nil, err
	}

	eval, err := s.Evaluator.Evaluate(ctx, EvaluationRequest{
		Materials:  section.Materials,
		Task:       section.Task,
		Criteria:   section.Criteria,
		Submission: content,
		MaxScore:   section.MaxPoints,
	})
	if err != nil {
		logger.Log.Warn("Exam section evaluation failed",
			zap.Uint("userID", userID),
			zap.Uint("chapterID", chapterID),
			zap.Int("section", index),
			zap.Error(err),
		)
		return nil, util.EvaluationFailed(op, err)
	}
	raw := clampScore(eval.Score, section.MaxPoints)
	multiplier := s.Progress.Policy.Get().ExamTimeoutMultiplier

	now = s.Progress.Timeout.Now()
	batch = newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		result = &ExamResult{}
		r := s.Progress.repos(tx)
		p, err := r.progress.FindForUpdate(userID, courseID, chapterID)
		if err != nil {
			return notFoundOr(err, op, "no progress for chapter %d", chapterID)
		}
		if err := s.checkSubmittable(op, p, ch, index); err != nil {
			return err
		}
		scratch := &ProgressResult{}
		if err := s.Progress.applyChapterTimeoutTx(tx, p, acc, now, batch, scratch); err != nil {
			return err
		}

		timedOut := p.IsTimedOut || sectionExpired(p, section, now)
		score := raw
		if timedOut {
			score = ApplyTimeoutPenalty(raw, multiplier)
		}

		from := p.Status
		markStarted(p, now)
		p.Status = model.ChapterTaskInProgress

		sub := &model.Submission{
			UserID:       userID,
			CourseID:     courseID,
			ChapterID:    chapterID,
			SectionIndex: index,
			Content:      content,
			Score:        score,
			MaxScore:     section.MaxPoints,
			Feedback:     eval.Feedback,
			NextStep:     eval.NextStep,
			SubmittedAt:  now,
		}
		if err := r.progress.CreateSubmission(sub); err != nil {
			return err
		}

		results := p.Results()
		results[index] = model.SectionResult{
			Score:       score,
			RawScore:    raw,
			Feedback:    eval.Feedback,
			TimedOut:    timedOut,
			SubmittedAt: now,
		}
		p.SetResults(results)
		p.CurrentSection = index + 1
		started := now
		p.SectionStartedAt = &started

		result.Section = SectionOutcome{
			Index:     index,
			Score:     score,
			RawScore:  raw,
			MaxPoints: section.MaxPoints,
			Feedback:  eval.Feedback,
			NextStep:  eval.NextStep,
			TimedOut:  timedOut,
		}
		result.Progress = p

		if index < len(sections)-1 {
			if err := r.progress.Save(p); err != nil {
				return err
			}
			batch.statusChanged(chapterMachine, userID, courseID, chapterID, string(from), string(p.Status))
			return nil
		}

		total := AggregateSectionScores(results, len(sections))
		grade := GradeForScore(total)
		p.Score = total
		best, id := total, sub.ID
		p.BestScore = &best
		p.BestSubmissionID = &id
		markCompleted(p, now)
		if err := r.progress.Save(p); err != nil {
			return err
		}

		// 考试是最后一章时以考试成绩作为课程成绩；否则课程成绩在结业时按各章平均计算
		after, err := s.Progress.nextChapterTx(tx, p)
		if err != nil {
			return err
		}
		if after == nil {
			if _, err := s.GradeRepo.WithTx(tx).CreateIfAbsent(&model.GradeRecord{
				UserID:      userID,
				CourseID:    courseID,
				Score:       total,
				Grade:       grade.Label,
				GradePoint:  grade.Point,
				Credits:     acc.course.Credits,
				CompletedAt: now,
			}); err != nil {
				return err
			}
		}

		result.Finished = true
		result.TotalScore = total
		result.Grade = &grade
		batch.statusChanged(chapterMachine, userID, courseID, chapterID, string(from), string(p.Status))
		batch.add(eventbus.ChapterCompleted, userID, courseID, chapterID, map[string]interface{}{
			"score":    total,
			"grade":    grade.Label,
			"exam":     true,
			"timedOut": p.IsTimedOut,
		})

		next := &ProgressResult{}
		if err := s.Progress.afterCompletionTx(tx, p, now, batch, next); err != nil {
			return err
		}
		result.Action = next.Action
		result.NextChapterID = next.NextChapterID
		result.Course = next.Course
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)

	if result.Finished {
		result.Summary = s.summarize(ctx, sections, result.Progress.Results())
		if err := s.Progress.ProgressRepo.WithTx(s.DB.WithContext(ctx)).UpdateSummary(result.Progress.ID, result.Summary); err != nil {
			logger.Log.Warn("Failed to store exam summary", zap.Uint("progressID", result.Progress.ID), zap.Error(err))
		} else {
			result.Progress.Summary = result.Summary
		}
	}
	return result, nil
}

// summarize 总结生成失败不影响考试结果
func (s *ExamService) summarize(ctx context.Context, sections []model.ExamSection, results model.SectionResults) string {
	if s.Summarizer == nil {
		return fallbackSummary
	}
	input := make([]SectionSummary, 0, len(sections))
	for i, sec := range sections {
		r := results[i]
		input = append(input, SectionSummary{
			Title:     sec.Title,
			Score:     r.Score,
			MaxPoints: sec.MaxPoints,
			Feedback:  r.Feedback,
			TimedOut:  r.TimedOut,
		})
	}
	summary, err := s.Summarizer.Summarize(ctx, input)
	if err != nil || strings.TrimSpace(summary) == "" {
		logger.Log.Warn("Exam summary unavailable, using fallback", zap.Error(err))
		return fallbackSummary
	}
	return summary
}
