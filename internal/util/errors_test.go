package util

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrValidation, KindOf(Validation("op", "bad %d", 1)))
	assert.Equal(t, ErrNotFound, KindOf(NotFound("op", "missing")))
	assert.Equal(t, ErrStateConflict, KindOf(fmt.Errorf("wrapped: %w", Conflict("op", "locked"))))
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestEvaluationFailedUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := EvaluationFailed("progress.submit", cause)
	assert.True(t, errors.Is(err, ErrEvaluationFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "progress.submit: evaluator unavailable: timeout", err.Error())
}

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{Validation("op", "bad"), http.StatusBadRequest},
		{NotFound("op", "missing"), http.StatusNotFound},
		{Conflict("op", "locked"), http.StatusConflict},
		{EvaluationFailed("op", errors.New("down")), http.StatusBadGateway},
		{errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		HandleError(ctx, c.err)
		assert.Equal(t, c.code, w.Code, c.err.Error())
	}
}
