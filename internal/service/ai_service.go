package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"learning_platform_backend/internal/config"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const fallbackSummary = "考试已完成，详细总结暂时无法生成，请稍后在成绩页面查看各大题反馈。"

// AIService 通过 OpenAI 兼容接口实现评分与总结
type AIService struct {
	config config.AIConfig
	client *resty.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	return &AIService{config: cfg, client: client}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []AIChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *AIService) chat(ctx context.Context, operation string, messages []AIChatMessage) (string, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		monitoring.EvaluatorDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}()

	var result ChatCompletionResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(ChatCompletionRequest{Model: s.config.Model, Messages: messages}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		outcome = "error"
		return "", err
	}
	if resp.IsError() {
		outcome = "error"
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		outcome = "error"
		return "", errors.New(result.Error.Message)
	}
	if len(result.Choices) == 0 {
		outcome = "error"
		return "", errors.New("AI returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// Evaluate 要求模型只返回 JSON：{"score":int,"feedback":string,"nextStep":string}
func (s *AIService) Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error) {
	system := fmt.Sprintf("你是一名严格的课程评分老师。请根据评分标准给学生的提交打分，满分 %d 分。"+
		"只输出 JSON，格式为 {\"score\": 整数, \"feedback\": \"评语\", \"nextStep\": \"下一步建议\"}，不要输出其它内容。", req.MaxScore)
	user := fmt.Sprintf("【学习资料】\n%s\n\n【任务】\n%s\n\n【评分标准】\n%s\n\n【学生提交】\n%s",
		req.Materials, req.Task, req.Criteria, req.Submission)

	content, err := s.chat(ctx, "evaluate", []AIChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, err
	}

	result, err := parseEvaluation(content)
	if err != nil {
		logger.Log.Warn("Unparseable evaluator response", zap.String("content", content), zap.Error(err))
		return nil, err
	}
	result.Score = clampScore(result.Score, req.MaxScore)
	return result, nil
}

func (s *AIService) Summarize(ctx context.Context, sections []SectionSummary) (string, error) {
	data, err := json.Marshal(sections)
	if err != nil {
		return "", err
	}
	content, err := s.chat(ctx, "summarize", []AIChatMessage{
		{Role: "system", Content: "你是一名课程导师。请根据期末考试各大题的得分与评语，用三到五句话总结学生的表现，并指出最需要加强的部分。"},
		{Role: "user", Content: string(data)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// parseEvaluation 兼容模型把 JSON 包在 ``` 代码块里的情况
func parseEvaluation(content string) (*EvaluationResult, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var result EvaluationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decode evaluation: %w", err)
	}
	return &result, nil
}
