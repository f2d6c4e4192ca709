package service

import "context"

// EvaluationRequest 交给评分器的一次提交
type EvaluationRequest struct {
	Materials  string
	Task       string
	Criteria   string
	Submission string
	MaxScore   int
}

type EvaluationResult struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	NextStep string `json:"nextStep"`
}

// Evaluator 外部评分服务，可能失败或超时
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error)
}

// SectionSummary 期末考试各大题得分，用于生成总结
type SectionSummary struct {
	Title     string `json:"title"`
	Score     int    `json:"score"`
	MaxPoints int    `json:"maxPoints"`
	Feedback  string `json:"feedback"`
	TimedOut  bool   `json:"timedOut"`
}

// Summarizer 生成考试总结，失败时调用方使用固定文案
type Summarizer interface {
	Summarize(ctx context.Context, sections []SectionSummary) (string, error)
}

func clampScore(score, max int) int {
	if score < 0 {
		return 0
	}
	if max > 0 && score > max {
		return max
	}
	return score
}
