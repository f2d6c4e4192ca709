package service

import (
	"learning_platform_backend/internal/model"
	"math"
)

const (
	PerfectThreshold   = 95
	CertifiedThreshold = 85
)

// Grade 成绩等级与绩点
type Grade struct {
	Label string  `json:"label"`
	Point float64 `json:"point"`
}

// GradeForScore 考试与课程总评共用同一套分段
func GradeForScore(score int) Grade {
	switch {
	case score >= 90:
		return Grade{Label: "秀", Point: 4.0}
	case score >= 80:
		return Grade{Label: "優", Point: 3.0}
	case score >= 70:
		return Grade{Label: "良", Point: 2.0}
	case score >= 60:
		return Grade{Label: "可", Point: 1.0}
	default:
		return Grade{Label: "不可", Point: 0.0}
	}
}

// CalculateGPA Σ(gradePoint × credits) / Σ(credits)
func CalculateGPA(records []model.GradeRecord) float64 {
	var weighted float64
	var credits int
	for _, r := range records {
		weighted += r.GradePoint * float64(r.Credits)
		credits += r.Credits
	}
	if credits == 0 {
		return 0
	}
	return math.Round(weighted/float64(credits)*100) / 100
}

// AggregateSectionScores 未作答的大题按 0 分计入平均
func AggregateSectionScores(results model.SectionResults, sectionCount int) int {
	if sectionCount <= 0 {
		return 0
	}
	sum := 0
	for i := 0; i < sectionCount; i++ {
		if r, ok := results[i]; ok {
			sum += r.Score
		}
	}
	return int(math.Round(float64(sum) / float64(sectionCount)))
}

// ApplyTimeoutPenalty 超时大题按倍率折算并向下取整
func ApplyTimeoutPenalty(raw int, multiplier float64) int {
	return int(math.Floor(float64(raw)*multiplier + 1e-9))
}

// ClassifyCompletion 根据各章节最佳分数判定结业类型，nil 表示该章节没有任何提交
func ClassifyCompletion(best []*int) model.CompletionCondition {
	allPerfect, allCertified := true, true
	for _, s := range best {
		if s == nil {
			return model.ConditionFailed
		}
		if *s < PerfectThreshold {
			allPerfect = false
		}
		if *s < CertifiedThreshold {
			allCertified = false
		}
	}
	switch {
	case allPerfect:
		return model.ConditionPerfect
	case allCertified:
		return model.ConditionCertified
	default:
		return model.ConditionCompleted
	}
}

// FinalScore 课程总评：各章节最佳分数的平均值，缺失按 0 计
func FinalScore(best []*int) int {
	if len(best) == 0 {
		return 0
	}
	sum := 0
	for _, s := range best {
		if s != nil {
			sum += *s
		}
	}
	return int(math.Round(float64(sum) / float64(len(best))))
}

// StatusForCondition 结业类型到课程状态及认证资格的映射
func StatusForCondition(cond model.CompletionCondition) (model.CourseStatus, bool) {
	switch cond {
	case model.ConditionPerfect:
		return model.CoursePerfect, true
	case model.ConditionCertified:
		return model.CourseCompleted, true
	case model.ConditionCompleted:
		return model.CourseCompleted, false
	default:
		return model.CourseFailed, false
	}
}

// ConditionForEnrollment 从已结业的报名记录反推结业类型
func ConditionForEnrollment(en *model.CourseEnrollment) model.CompletionCondition {
	switch {
	case en.Status == model.CoursePerfect:
		return model.ConditionPerfect
	case en.Status == model.CourseCompleted && en.CertificationEligibility:
		return model.ConditionCertified
	case en.Status == model.CourseCompleted:
		return model.ConditionCompleted
	default:
		return model.ConditionFailed
	}
}
