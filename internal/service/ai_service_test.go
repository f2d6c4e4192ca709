package service

import (
	"context"
	"encoding/json"
	"learning_platform_backend/internal/config"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestParseEvaluation(t *testing.T) {
	res, err := parseEvaluation("```json\n{\"score\": 88, \"feedback\": \"不错\", \"nextStep\": \"复习指针\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 88, res.Score)
	assert.Equal(t, "复习指针", res.NextStep)

	res, err = parseEvaluation("评分如下：{\"score\": 40, \"feedback\": \"ok\"}")
	require.NoError(t, err)
	assert.Equal(t, 40, res.Score)

	_, err = parseEvaluation("no json here")
	assert.Error(t, err)
}

func TestAIServiceEvaluateRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		chatReply(w, `{"score": 130, "feedback": "满分以上", "nextStep": ""}`)
	}))
	defer srv.Close()

	ai := NewAIService(config.AIConfig{BaseURL: srv.URL, APIKey: "secret", Model: "test", RetryCount: 2})
	res, err := ai.Evaluate(context.Background(), EvaluationRequest{Task: "t", Submission: "s", MaxScore: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAIServiceEvaluateClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	ai := NewAIService(config.AIConfig{BaseURL: srv.URL, RetryCount: 2})
	_, err := ai.Evaluate(context.Background(), EvaluationRequest{Submission: "s", MaxScore: 10})
	assert.Error(t, err)
}

func TestAIServiceSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(w, "  表现良好，需要加强第二题。 ")
	}))
	defer srv.Close()

	ai := NewAIService(config.AIConfig{BaseURL: srv.URL})
	summary, err := ai.Summarize(context.Background(), []SectionSummary{{Title: "大题 1", Score: 20, MaxPoints: 40}})
	require.NoError(t, err)
	assert.Equal(t, "表现良好，需要加强第二题。", summary)
}
