package service

import (
	"learning_platform_backend/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func TestApplyWatchRate(t *testing.T) {
	p := &model.ChapterProgress{Status: model.ChapterNotStarted}

	from := ApplyWatchRate(p, 40, 95, testNow)
	assert.Equal(t, model.ChapterNotStarted, from)
	assert.Equal(t, model.ChapterLessonInProgress, p.Status)
	require.NotNil(t, p.StartedAt)

	// 保存最新值，而不是最大值
	ApplyWatchRate(p, 20, 95, testNow)
	assert.Equal(t, 20, p.LessonWatchRate)
	assert.Equal(t, model.ChapterLessonInProgress, p.Status)

	ApplyWatchRate(p, 95, 95, testNow)
	assert.Equal(t, model.ChapterLessonCompleted, p.Status)

	// 状态不回退
	ApplyWatchRate(p, 10, 95, testNow)
	assert.Equal(t, model.ChapterLessonCompleted, p.Status)
	assert.Equal(t, 10, p.LessonWatchRate)
}

func TestApplyWatchRateZero(t *testing.T) {
	p := &model.ChapterProgress{Status: model.ChapterNotStarted}
	ApplyWatchRate(p, 0, 95, testNow)
	assert.Equal(t, model.ChapterNotStarted, p.Status)

	ApplyWatchRate(p, 100, 95, testNow)
	assert.Equal(t, model.ChapterLessonCompleted, p.Status)
}

func TestCanSubmit(t *testing.T) {
	withLesson := &model.Chapter{LessonURL: "https://cdn.example.com/1.mp4"}
	noLesson := &model.Chapter{}

	assert.False(t, CanSubmit(&model.ChapterProgress{Status: model.ChapterNotStarted}, withLesson))
	assert.False(t, CanSubmit(&model.ChapterProgress{Status: model.ChapterLessonInProgress}, withLesson))
	assert.True(t, CanSubmit(&model.ChapterProgress{Status: model.ChapterLessonCompleted}, withLesson))
	assert.True(t, CanSubmit(&model.ChapterProgress{Status: model.ChapterTaskInProgress}, withLesson))
	assert.True(t, CanSubmit(&model.ChapterProgress{Status: model.ChapterNotStarted}, noLesson))
}

func TestApplySubmissionScore(t *testing.T) {
	p := &model.ChapterProgress{Status: model.ChapterLessonCompleted}

	from, completed := ApplySubmissionScore(p, 60, 70, 1, testNow)
	assert.Equal(t, model.ChapterLessonCompleted, from)
	assert.False(t, completed)
	assert.Equal(t, model.ChapterTaskInProgress, p.Status)
	assert.Equal(t, 60, *p.BestScore)

	_, completed = ApplySubmissionScore(p, 80, 70, 2, testNow)
	assert.True(t, completed)
	assert.Equal(t, model.ChapterCompleted, p.Status)
	assert.Equal(t, 80, p.Score)
	assert.Equal(t, uint(2), *p.BestSubmissionID)
	require.NotNil(t, p.CompletedAt)

	// 完成后的再次提交只刷新最佳成绩
	_, completed = ApplySubmissionScore(p, 97, 70, 3, testNow)
	assert.False(t, completed)
	assert.Equal(t, model.ChapterCompleted, p.Status)
	assert.Equal(t, 97, *p.BestScore)
	assert.Equal(t, uint(3), *p.BestSubmissionID)
	assert.Equal(t, 80, p.Score)

	ApplySubmissionScore(p, 50, 70, 4, testNow)
	assert.Equal(t, 97, *p.BestScore)
	assert.Equal(t, uint(3), *p.BestSubmissionID)
}

func TestForceTimeout(t *testing.T) {
	p := &model.ChapterProgress{Status: model.ChapterTaskInProgress, Score: 40}
	from := ForceTimeout(p, testNow)

	assert.Equal(t, model.ChapterTaskInProgress, from)
	assert.Equal(t, model.ChapterCompleted, p.Status)
	assert.True(t, p.IsTimedOut)
	assert.Equal(t, 0, p.Score)
	assert.True(t, p.TimeOutAt.Equal(testNow))
}

func TestFlagTimeoutKeepsStatus(t *testing.T) {
	p := &model.ChapterProgress{Status: model.ChapterTaskInProgress}
	FlagTimeout(p, testNow)
	assert.True(t, p.IsTimedOut)
	assert.Equal(t, model.ChapterTaskInProgress, p.Status)
}

func TestResolveNextAction(t *testing.T) {
	assert.Equal(t, NoAction, ResolveNextAction(false, &model.Chapter{}))
	assert.Equal(t, UnlockNextChapter, ResolveNextAction(true, &model.Chapter{}))
	assert.Equal(t, CompleteCourse, ResolveNextAction(true, nil))

	text, err := CompleteCourse.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE_COURSE", string(text))
}

func gateChapters() []model.Chapter {
	chapters := []model.Chapter{
		{OrderIndex: 1, IsVisible: true},
		{OrderIndex: 2, IsVisible: true},
		{OrderIndex: 3, IsVisible: true, IsPerfectOnly: true},
		{OrderIndex: 4, IsVisible: true},
	}
	for i := range chapters {
		chapters[i].ID = uint(i + 1)
	}
	return chapters
}

func completedWith(chapterID uint, best int) model.ChapterProgress {
	return model.ChapterProgress{ChapterID: chapterID, Status: model.ChapterCompleted, BestScore: intp(best)}
}

func TestChapterGateSkipsPerfectOnly(t *testing.T) {
	progress := []model.ChapterProgress{completedWith(1, 100), completedWith(2, 80)}
	gate := newChapterGate(gateChapters(), progress)

	next := gate.Next(2)
	require.NotNil(t, next)
	assert.Equal(t, uint(4), next.ID)
	assert.False(t, gate.Unlocked(3))
	assert.True(t, gate.Unlocked(4))

	var required []uint
	for _, ch := range gate.Required() {
		required = append(required, ch.ID)
	}
	assert.Equal(t, []uint{1, 2, 4}, required)
}

func TestChapterGateUnlocksPerfectOnly(t *testing.T) {
	progress := []model.ChapterProgress{completedWith(1, 100), completedWith(2, 96)}
	gate := newChapterGate(gateChapters(), progress)

	next := gate.Next(2)
	require.NotNil(t, next)
	assert.Equal(t, uint(3), next.ID)
	assert.True(t, gate.Unlocked(3))
	assert.False(t, gate.Unlocked(4))
	assert.Nil(t, gate.Next(4))
}

func TestChapterGateSkipsInvisible(t *testing.T) {
	chapters := gateChapters()
	chapters[1].IsVisible = false
	gate := newChapterGate(chapters, []model.ChapterProgress{completedWith(1, 70)})

	next := gate.Next(1)
	require.NotNil(t, next)
	assert.Equal(t, uint(4), next.ID)
	assert.False(t, gate.Unlocked(2))
	assert.Len(t, gate.Required(), 2)
}
