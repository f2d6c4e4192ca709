package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChapterStatus(t *testing.T) {
	st, err := ParseChapterStatus(" lesson_completed ")
	require.NoError(t, err)
	assert.Equal(t, ChapterLessonCompleted, st)

	_, err = ParseChapterStatus("DONE")
	assert.Error(t, err)

	assert.Less(t, ChapterLessonInProgress.Rank(), ChapterTaskInProgress.Rank())
	assert.True(t, ChapterCompleted.IsTerminal())
}

func TestCourseStatusSets(t *testing.T) {
	for _, st := range []CourseStatus{CourseCompleted, CoursePerfect, CourseFailed} {
		assert.True(t, st.IsTerminal(), st)
		assert.True(t, st.Selectable(), st)
	}
	assert.True(t, CourseActive.Selectable())
	assert.False(t, CourseBlocked.Selectable())

	assert.True(t, CourseActive.Resettable())
	assert.True(t, CourseFailed.Resettable())
	assert.False(t, CoursePerfect.Resettable())
}

func TestStatusScan(t *testing.T) {
	var st CourseStatus
	require.NoError(t, st.Scan([]byte("Active")))
	assert.Equal(t, CourseActive, st)
	assert.Error(t, st.Scan(42))

	_, err := CourseStatus("graduated").Value()
	assert.Error(t, err)
}
