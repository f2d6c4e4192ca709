package service

import (
	"context"
	"errors"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/util"
	"learning_platform_backend/pkg/eventbus"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func countActive(t *testing.T, f *fixture, userID uint) (active, current int) {
	t.Helper()
	list, err := f.enrollments.ListByUser(userID)
	require.NoError(t, err)
	for _, en := range list {
		if en.IsActive {
			active++
		}
		if en.IsCurrent {
			current++
		}
	}
	return active, current
}

func TestActivateCourseSingleActive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	courseA, chaptersA := f.createCourse(t, model.Course{Title: "A", TimeLimitDays: 7}, model.Chapter{}, model.Chapter{})
	courseB, _ := f.createCourse(t, model.Course{Title: "B"}, model.Chapter{})

	_, err := f.courses.GrantCourse(ctx, user.ID, courseB.ID)
	require.NoError(t, err)

	en := f.enroll(t, user.ID, courseA.ID)
	assert.Equal(t, model.CourseActive, en.Status)
	assert.True(t, en.IsActive)
	assert.True(t, en.IsCurrent)
	require.NotNil(t, en.TimeOutAt)
	assert.True(t, en.TimeOutAt.Equal(f.clock.Now().Add(7*24*time.Hour)))

	first := f.findProgress(t, user.ID, courseA.ID, chaptersA[0].ID)
	assert.Equal(t, model.ChapterNotStarted, first.Status)

	assert.Equal(t, model.CourseBlocked, f.findEnrollment(t, user.ID, courseB.ID).Status)

	_, err = f.courses.ActivateCourse(ctx, user.ID, courseB.ID)
	assert.True(t, errors.Is(err, util.ErrStateConflict))

	// 重复激活同一门课程不改变状态
	again, err := f.courses.ActivateCourse(ctx, user.ID, courseA.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseActive, again.Status)
	assert.True(t, again.StartedAt.Equal(*en.StartedAt))

	active, current := countActive(t, f, user.ID)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, current)
}

func TestGrantCourse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 1, 0)
	open, _ := f.createCourse(t, model.Course{Title: "open"}, model.Chapter{})
	advanced, _ := f.createCourse(t, model.Course{Title: "advanced", LevelRequired: 3}, model.Chapter{})
	ranked, _ := f.createCourse(t, model.Course{Title: "ranked", RankRequired: 2}, model.Chapter{})

	en, err := f.courses.GrantCourse(ctx, user.ID, open.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseAvailable, en.Status)

	restricted, err := f.courses.GrantCourse(ctx, user.ID, advanced.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseRestricted, restricted.Status)

	en, err = f.courses.GrantCourse(ctx, user.ID, ranked.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseRestricted, en.Status)

	_, err = f.courses.ActivateCourse(ctx, user.ID, advanced.ID)
	assert.True(t, errors.Is(err, util.ErrStateConflict))

	// 已有报名记录时原样返回
	again, err := f.courses.GrantCourse(ctx, user.ID, advanced.ID)
	require.NoError(t, err)
	assert.Equal(t, restricted.ID, again.ID)
	assert.Equal(t, model.CourseRestricted, again.Status)

	_, err = f.courses.GrantCourse(ctx, user.ID, 9999)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestGrantWhileAnotherActive(t *testing.T) {
	f := setup(t)
	user := f.createUser(t, 0, 0)
	courseA, _ := f.createCourse(t, model.Course{Title: "A"}, model.Chapter{})
	courseB, _ := f.createCourse(t, model.Course{Title: "B"}, model.Chapter{})
	f.enroll(t, user.ID, courseA.ID)

	en, err := f.courses.GrantCourse(context.Background(), user.ID, courseB.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseBlocked, en.Status)
}

func TestSelectCourse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	courseA, chaptersA := f.createCourse(t, model.Course{Title: "A"}, model.Chapter{})
	courseB, _ := f.createCourse(t, model.Course{Title: "B"}, model.Chapter{})

	f.enroll(t, user.ID, courseA.ID)
	f.submit(t, user.ID, courseA.ID, chaptersA[0].ID, 90)
	f.enroll(t, user.ID, courseB.ID)

	en, err := f.courses.SelectCourse(ctx, user.ID, courseA.ID)
	require.NoError(t, err)
	assert.True(t, en.IsCurrent)
	assert.False(t, f.findEnrollment(t, user.ID, courseB.ID).IsCurrent)
	assert.True(t, f.findEnrollment(t, user.ID, courseB.ID).IsActive)

	_, current := countActive(t, f, user.ID)
	assert.Equal(t, 1, current)

	_, err = f.courses.SelectCourse(ctx, user.ID, 9999)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestSelectCourseNotSelectable(t *testing.T) {
	f := setup(t)
	user := f.createUser(t, 0, 0)
	course, _ := f.createCourse(t, model.Course{}, model.Chapter{})
	_, err := f.courses.GrantCourse(context.Background(), user.ID, course.ID)
	require.NoError(t, err)

	_, err = f.courses.SelectCourse(context.Background(), user.ID, course.ID)
	assert.True(t, errors.Is(err, util.ErrStateConflict))
}

func TestFormatCourse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	courseA, chaptersA := f.createCourse(t, model.Course{Title: "A"}, model.Chapter{}, model.Chapter{})
	courseB, _ := f.createCourse(t, model.Course{Title: "B"}, model.Chapter{})

	_, err := f.courses.GrantCourse(ctx, user.ID, courseB.ID)
	require.NoError(t, err)
	f.enroll(t, user.ID, courseA.ID)
	f.submit(t, user.ID, courseA.ID, chaptersA[0].ID, 90)

	en, err := f.courses.FormatCourse(ctx, user.ID, courseA.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseAvailable, en.Status)
	assert.False(t, en.IsActive)
	assert.False(t, en.IsCurrent)
	assert.Nil(t, en.StartedAt)

	progress, err := f.progressRep.ListByUserCourse(user.ID, courseA.ID)
	require.NoError(t, err)
	assert.Empty(t, progress)
	assert.Equal(t, model.CourseAvailable, f.findEnrollment(t, user.ID, courseB.ID).Status)

	_, err = f.courses.FormatCourse(ctx, user.ID, courseB.ID)
	assert.True(t, errors.Is(err, util.ErrStateConflict))

	// 重置后可以重新开始
	f.enroll(t, user.ID, courseA.ID)
	first := f.findProgress(t, user.ID, courseA.ID, chaptersA[0].ID)
	assert.Equal(t, model.ChapterNotStarted, first.Status)
}

func TestFormatFailedCourse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	course, _ := f.createCourse(t, model.Course{TimeLimitDays: 1}, model.Chapter{})
	f.enroll(t, user.ID, course.ID)

	_, err := f.courses.HandleTimeout(ctx, user.ID, course.ID)
	require.NoError(t, err)
	u, err := f.users.FindByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, u.GPA)

	en, err := f.courses.FormatCourse(ctx, user.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseAvailable, en.Status)
	assert.True(t, en.CertificationEligibility)

	_, err = f.grades.FindByUserCourse(user.ID, course.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestCompletionGrantsBadgeOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	course, chapters := f.createCourse(t, model.Course{}, model.Chapter{})
	f.enroll(t, user.ID, course.ID)

	res := f.submit(t, user.ID, course.ID, chapters[0].ID, 100)
	require.NotNil(t, res.Course)
	assert.True(t, res.Course.BadgeGranted)
	require.NotNil(t, res.Course.Badge)
	assert.Equal(t, "course_perfect", res.Course.Badge.Code)

	out, err := f.courses.HandleCourseCompletion(ctx, user.ID, course.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadyCompleted)
	assert.False(t, out.BadgeGranted)
	assert.Equal(t, model.ConditionPerfect, out.Condition)
	assert.Equal(t, 100, out.FinalScore)

	grants, err := f.badges.ListGrants(user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
	assert.Equal(t, 1, f.events.count(eventbus.BadgeGranted))
	assert.Equal(t, 1, f.events.count(eventbus.CourseCompleted))
}

func TestCompletionConditions(t *testing.T) {
	cases := []struct {
		name     string
		scores   []int
		cond     model.CompletionCondition
		status   model.CourseStatus
		eligible bool
	}{
		{"perfect", []int{95, 100}, model.ConditionPerfect, model.CoursePerfect, true},
		{"certified", []int{90, 85}, model.ConditionCertified, model.CourseCompleted, true},
		{"completed", []int{100, 70}, model.ConditionCompleted, model.CourseCompleted, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := setup(t)
			user := f.createUser(t, 0, 0)
			course, chapters := f.createCourse(t, model.Course{}, model.Chapter{}, model.Chapter{})
			f.enroll(t, user.ID, course.ID)

			f.submit(t, user.ID, course.ID, chapters[0].ID, c.scores[0])
			res := f.submit(t, user.ID, course.ID, chapters[1].ID, c.scores[1])
			require.NotNil(t, res.Course)
			assert.Equal(t, c.cond, res.Course.Condition)
			assert.Equal(t, c.status, res.Course.Status)
			assert.Equal(t, c.eligible, res.Course.CertificationEligibility)

			en := f.findEnrollment(t, user.ID, course.ID)
			assert.Equal(t, c.status, en.Status)
			assert.Equal(t, c.eligible, en.CertificationEligibility)
		})
	}
}

func TestCompletionReleasesBlocked(t *testing.T) {
	f := setup(t)
	user := f.createUser(t, 0, 0)
	courseA, chaptersA := f.createCourse(t, model.Course{Title: "A"}, model.Chapter{})
	courseB, _ := f.createCourse(t, model.Course{Title: "B"}, model.Chapter{})

	_, err := f.courses.GrantCourse(context.Background(), user.ID, courseB.ID)
	require.NoError(t, err)
	f.enroll(t, user.ID, courseA.ID)
	assert.Equal(t, model.CourseBlocked, f.findEnrollment(t, user.ID, courseB.ID).Status)

	f.submit(t, user.ID, courseA.ID, chaptersA[0].ID, 80)
	assert.Equal(t, model.CourseAvailable, f.findEnrollment(t, user.ID, courseB.ID).Status)
}

func TestCompletionRequiresAllChapters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	course, chapters := f.createCourse(t, model.Course{}, model.Chapter{}, model.Chapter{})
	f.enroll(t, user.ID, course.ID)
	f.submit(t, user.ID, course.ID, chapters[0].ID, 90)

	_, err := f.courses.HandleCourseCompletion(ctx, user.ID, course.ID)
	assert.True(t, errors.Is(err, util.ErrStateConflict))
	assert.Equal(t, model.CourseActive, f.findEnrollment(t, user.ID, course.ID).Status)
}

func TestHandleTimeout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.createUser(t, 0, 0)
	course, _ := f.createCourse(t, model.Course{Credits: 2}, model.Chapter{})
	other, _ := f.createCourse(t, model.Course{Title: "other"}, model.Chapter{})

	_, err := f.courses.HandleTimeout(ctx, user.ID, course.ID)
	assert.True(t, errors.Is(err, util.ErrNotFound))

	_, err = f.courses.GrantCourse(ctx, user.ID, other.ID)
	require.NoError(t, err)
	_, err = f.courses.HandleTimeout(ctx, user.ID, other.ID)
	assert.True(t, errors.Is(err, util.ErrStateConflict))

	f.enroll(t, user.ID, course.ID)
	en, err := f.courses.HandleTimeout(ctx, user.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CourseFailed, en.Status)
	assert.False(t, en.IsActive)
	assert.False(t, en.CertificationEligibility)
	require.NotNil(t, en.TimeOutAt)
	assert.True(t, en.TimeOutAt.Equal(f.clock.Now()))
	assert.Equal(t, model.CourseAvailable, f.findEnrollment(t, user.ID, other.ID).Status)

	// 重复处理是幂等的
	f.clock.Advance(time.Hour)
	again, err := f.courses.HandleTimeout(ctx, user.ID, course.ID)
	require.NoError(t, err)
	assert.True(t, again.TimeOutAt.Equal(*en.TimeOutAt))
	assert.Equal(t, 1, f.events.count(eventbus.TimeoutOccurred))

	report, err := f.courses.GetGPA(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "不可", report.Records[0].Grade)
	assert.Equal(t, 2, report.Credits)
	assert.Equal(t, 0.0, report.GPA)
}

func TestListCourses(t *testing.T) {
	f := setup(t)
	user := f.createUser(t, 0, 0)
	courseA, chaptersA := f.createCourse(t, model.Course{Title: "A"}, model.Chapter{})
	courseB, _ := f.createCourse(t, model.Course{Title: "B"}, model.Chapter{})
	_, err := f.courses.GrantCourse(context.Background(), user.ID, courseB.ID)
	require.NoError(t, err)
	f.enroll(t, user.ID, courseA.ID)
	f.submit(t, user.ID, courseA.ID, chaptersA[0].ID, 75)

	list, err := f.courses.ListCourses(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	byCourse := map[uint]CourseOverview{}
	for _, item := range list {
		byCourse[item.Enrollment.CourseID] = item
	}
	require.NotNil(t, byCourse[courseA.ID].Grade)
	assert.Equal(t, "良", byCourse[courseA.ID].Grade.Grade)
	assert.Nil(t, byCourse[courseB.ID].Grade)
	assert.Equal(t, "B", byCourse[courseB.ID].Course.Title)
}
