package service

import (
	"context"
	"errors"
	"fmt"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/pkg/database"
	"learning_platform_backend/pkg/eventbus"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errEvaluatorDown = errors.New("evaluator down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubEvaluator 依次返回预设分数
type stubEvaluator struct {
	scores   []int
	err      error
	requests []EvaluationRequest
}

func (e *stubEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error) {
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	if len(e.scores) == 0 {
		return nil, errors.New("no score queued")
	}
	score := e.scores[0]
	e.scores = e.scores[1:]
	return &EvaluationResult{Score: score, Feedback: fmt.Sprintf("scored %d", score)}, nil
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, sections []SectionSummary) (string, error) {
	return s.summary, s.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) handle(ctx context.Context, ev eventbus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) count(t eventbus.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db         *gorm.DB
	clock      *fakeClock
	bus        *eventbus.Bus
	events     *eventRecorder
	evaluator  *stubEvaluator
	summarizer *stubSummarizer
	policy     *PolicyHolder

	users       *repository.UserRepository
	progressRep *repository.ProgressRepository
	enrollments *repository.EnrollmentRepository
	grades      *repository.GradeRepository
	badges      *repository.BadgeRepository

	courses  *CourseService
	progress *ProgressService
	exam     *ExamService
	sweeper  *TimeoutSweeper
}

func setup(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	f := &fixture{
		db:         db,
		clock:      &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)},
		bus:        eventbus.New(),
		events:     &eventRecorder{},
		evaluator:  &stubEvaluator{},
		summarizer: &stubSummarizer{err: errors.New("summarizer down")},
		policy:     NewPolicyHolder(DefaultProgressPolicy()),
	}
	require.NoError(t, f.bus.SubscribeAll(f.events.handle))

	f.users = repository.NewUserRepository(db)
	f.progressRep = repository.NewProgressRepository(db)
	f.enrollments = repository.NewEnrollmentRepository(db)
	f.grades = repository.NewGradeRepository(db)
	f.badges = repository.NewBadgeRepository(db)
	courseRepo := repository.NewCourseRepository(db)

	engine := NewTimeoutEngine(f.clock.Now)
	f.courses = NewCourseService(db, courseRepo, f.enrollments, f.progressRep, f.grades, f.badges, f.users, f.bus, engine)
	f.progress = NewProgressService(db, courseRepo, f.progressRep, f.enrollments, f.courses, f.evaluator, f.bus, engine, f.policy)
	f.exam = NewExamService(db, f.progress, f.grades, f.evaluator, f.summarizer, f.bus)
	f.sweeper = NewTimeoutSweeper(f.enrollments, f.progressRep, f.courses, f.progress, nil, time.Minute)
	return f
}

func (f *fixture) createUser(t *testing.T, level, rank int) *model.User {
	t.Helper()
	u := &model.User{
		Name:  "student",
		Email: fmt.Sprintf("student-%d-%d@example.com", time.Now().UnixNano(), level),
		Role:  model.Student,
		Level: level,
		Rank:  rank,
	}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

// createCourse 章节按传入顺序编号
func (f *fixture) createCourse(t *testing.T, course model.Course, chapters ...model.Chapter) (*model.Course, []model.Chapter) {
	t.Helper()
	if course.Title == "" {
		course.Title = "Go 入门"
	}
	if course.Credits == 0 {
		course.Credits = 2
	}
	course.IsVisible = true
	require.NoError(t, f.db.Create(&course).Error)

	for i := range chapters {
		chapters[i].CourseID = course.ID
		chapters[i].OrderIndex = i + 1
		chapters[i].IsVisible = true
		if chapters[i].Title == "" {
			chapters[i].Title = fmt.Sprintf("第 %d 章", i+1)
		}
		require.NoError(t, f.db.Create(&chapters[i]).Error)
	}
	return &course, chapters
}

// enroll 开放并激活课程
func (f *fixture) enroll(t *testing.T, userID, courseID uint) *model.CourseEnrollment {
	t.Helper()
	ctx := context.Background()
	_, err := f.courses.GrantCourse(ctx, userID, courseID)
	require.NoError(t, err)
	en, err := f.courses.ActivateCourse(ctx, userID, courseID)
	require.NoError(t, err)
	return en
}

// submit 以给定分数提交章节任务
func (f *fixture) submit(t *testing.T, userID, courseID, chapterID uint, score int) *ProgressResult {
	t.Helper()
	f.evaluator.scores = append(f.evaluator.scores, score)
	res, err := f.progress.RecordSubmission(context.Background(), userID, courseID, chapterID, "my answer")
	require.NoError(t, err)
	return res
}

func (f *fixture) findProgress(t *testing.T, userID, courseID, chapterID uint) *model.ChapterProgress {
	t.Helper()
	p, err := f.progressRep.Find(userID, courseID, chapterID)
	require.NoError(t, err)
	return p
}

func (f *fixture) findEnrollment(t *testing.T, userID, courseID uint) *model.CourseEnrollment {
	t.Helper()
	en, err := f.enrollments.Find(userID, courseID)
	require.NoError(t, err)
	return en
}

func examChapter(maxPoints ...int) model.Chapter {
	sections := make([]model.ExamSection, 0, len(maxPoints))
	for i, mp := range maxPoints {
		sections = append(sections, model.ExamSection{
			Title:     fmt.Sprintf("大题 %d", i+1),
			MaxPoints: mp,
			Task:      "answer the question",
		})
	}
	return model.Chapter{
		Title:        "期末考试",
		IsFinalExam:  true,
		ExamSettings: datatypes.NewJSONType(model.ExamSettings{Sections: sections}),
	}
}
