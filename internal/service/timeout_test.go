package service

import (
	"learning_platform_backend/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckChapter(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	engine := NewTimeoutEngine(clock.Now)
	started := clock.Now()
	p := &model.ChapterProgress{Status: model.ChapterLessonInProgress, StartedAt: &started}

	clock.Advance(2*time.Hour - time.Second)
	assert.False(t, engine.CheckChapter(p, 2).IsTimedOut)

	clock.Advance(time.Second)
	res := engine.CheckChapter(p, 2)
	require.True(t, res.IsTimedOut)
	assert.True(t, res.TimeOutAt.Equal(started.Add(2*time.Hour)))
	assert.False(t, res.Applied)
}

func TestCheckChapterUnlimited(t *testing.T) {
	engine := NewTimeoutEngine(func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) })
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &model.ChapterProgress{Status: model.ChapterTaskInProgress, StartedAt: &started}

	assert.False(t, engine.CheckChapter(p, 0).IsTimedOut)
	assert.False(t, engine.CheckChapter(&model.ChapterProgress{Status: model.ChapterNotStarted}, 1).IsTimedOut)

	p.Status = model.ChapterCompleted
	assert.False(t, engine.CheckChapter(p, 1).IsTimedOut)
}

func TestCheckChapterPersistedFlag(t *testing.T) {
	engine := NewTimeoutEngine(nil)
	at := time.Date(2025, 4, 1, 11, 0, 0, 0, time.UTC)
	p := &model.ChapterProgress{Status: model.ChapterCompleted, IsTimedOut: true, TimeOutAt: &at}

	res := engine.CheckChapter(p, 0)
	assert.True(t, res.IsTimedOut)
	assert.Equal(t, &at, res.TimeOutAt)
}

func TestCheckCourseUsesDays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	engine := NewTimeoutEngine(clock.Now)
	started := clock.Now()
	en := &model.CourseEnrollment{Status: model.CourseActive, StartedAt: &started}

	clock.Advance(71 * time.Hour)
	assert.False(t, engine.CheckCourse(en, 3).IsTimedOut)

	clock.Advance(time.Hour)
	res := engine.CheckCourse(en, 3)
	require.True(t, res.IsTimedOut)
	assert.True(t, res.TimeOutAt.Equal(started.Add(72*time.Hour)))

	assert.False(t, engine.CheckCourse(en, 0).IsTimedOut)
}

func TestCheckCourseFailed(t *testing.T) {
	now := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	engine := NewTimeoutEngine(func() time.Time { return now })
	at := now.Add(-time.Hour)

	failed := &model.CourseEnrollment{Status: model.CourseFailed, TimeOutAt: &at}
	res := engine.CheckCourse(failed, 3)
	assert.True(t, res.IsTimedOut)
	assert.Equal(t, &at, res.TimeOutAt)

	available := &model.CourseEnrollment{Status: model.CourseAvailable}
	assert.False(t, engine.CheckCourse(available, 3).IsTimedOut)
}

func TestDeadlines(t *testing.T) {
	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(5*time.Hour), ChapterDeadline(start, 5))
	assert.Equal(t, time.Date(2025, 4, 8, 9, 0, 0, 0, time.UTC), CourseDeadline(start, 7))
}
