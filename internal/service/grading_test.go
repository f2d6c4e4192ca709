package service

import (
	"learning_platform_backend/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestGradeForScore(t *testing.T) {
	cases := []struct {
		score int
		label string
		point float64
	}{
		{100, "秀", 4.0},
		{90, "秀", 4.0},
		{89, "優", 3.0},
		{80, "優", 3.0},
		{79, "良", 2.0},
		{70, "良", 2.0},
		{69, "可", 1.0},
		{60, "可", 1.0},
		{59, "不可", 0.0},
		{0, "不可", 0.0},
	}
	for _, c := range cases {
		g := GradeForScore(c.score)
		assert.Equal(t, c.label, g.Label, "score %d", c.score)
		assert.Equal(t, c.point, g.Point, "score %d", c.score)
	}
}

func TestCalculateGPA(t *testing.T) {
	records := []model.GradeRecord{
		{GradePoint: 4.0, Credits: 2},
		{GradePoint: 2.0, Credits: 2},
	}
	assert.Equal(t, 3.0, CalculateGPA(records))

	records = append(records, model.GradeRecord{GradePoint: 0, Credits: 1})
	assert.Equal(t, 2.4, CalculateGPA(records))

	assert.Equal(t, 0.0, CalculateGPA(nil))
	assert.Equal(t, 0.0, CalculateGPA([]model.GradeRecord{{GradePoint: 4.0, Credits: 0}}))
}

func TestAggregateSectionScores(t *testing.T) {
	results := model.SectionResults{
		0: {Score: 28},
		1: {Score: 25},
		2: {Score: 35},
	}
	assert.Equal(t, 29, AggregateSectionScores(results, 3))

	// 缺失的大题按 0 分
	delete(results, 2)
	assert.Equal(t, 18, AggregateSectionScores(results, 3))
	assert.Equal(t, 0, AggregateSectionScores(results, 0))
}

func TestApplyTimeoutPenalty(t *testing.T) {
	assert.Equal(t, 16, ApplyTimeoutPenalty(20, 0.8))
	assert.Equal(t, 24, ApplyTimeoutPenalty(30, 0.8))
	assert.Equal(t, 7, ApplyTimeoutPenalty(9, 0.8))
	assert.Equal(t, 0, ApplyTimeoutPenalty(0, 0.8))
}

func TestClassifyCompletion(t *testing.T) {
	assert.Equal(t, model.ConditionPerfect, ClassifyCompletion([]*int{intp(95), intp(100)}))
	assert.Equal(t, model.ConditionCertified, ClassifyCompletion([]*int{intp(94), intp(100)}))
	assert.Equal(t, model.ConditionCertified, ClassifyCompletion([]*int{intp(85), intp(85)}))
	assert.Equal(t, model.ConditionCompleted, ClassifyCompletion([]*int{intp(84), intp(100)}))
	assert.Equal(t, model.ConditionFailed, ClassifyCompletion([]*int{intp(100), nil}))
}

func TestFinalScore(t *testing.T) {
	assert.Equal(t, 90, FinalScore([]*int{intp(80), intp(100)}))
	assert.Equal(t, 50, FinalScore([]*int{intp(100), nil}))
	assert.Equal(t, 0, FinalScore(nil))
}

func TestStatusForCondition(t *testing.T) {
	status, eligible := StatusForCondition(model.ConditionPerfect)
	assert.Equal(t, model.CoursePerfect, status)
	assert.True(t, eligible)

	status, eligible = StatusForCondition(model.ConditionCertified)
	assert.Equal(t, model.CourseCompleted, status)
	assert.True(t, eligible)

	status, eligible = StatusForCondition(model.ConditionCompleted)
	assert.Equal(t, model.CourseCompleted, status)
	assert.False(t, eligible)

	status, eligible = StatusForCondition(model.ConditionFailed)
	assert.Equal(t, model.CourseFailed, status)
	assert.False(t, eligible)
}

func TestConditionForEnrollment(t *testing.T) {
	assert.Equal(t, model.ConditionPerfect, ConditionForEnrollment(&model.CourseEnrollment{Status: model.CoursePerfect}))
	assert.Equal(t, model.ConditionCertified, ConditionForEnrollment(&model.CourseEnrollment{Status: model.CourseCompleted, CertificationEligibility: true}))
	assert.Equal(t, model.ConditionCompleted, ConditionForEnrollment(&model.CourseEnrollment{Status: model.CourseCompleted}))
	assert.Equal(t, model.ConditionFailed, ConditionForEnrollment(&model.CourseEnrollment{Status: model.CourseFailed}))
}
