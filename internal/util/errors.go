package util

import (
	"errors"
	"fmt"
)

// 错误分类，配合 errors.Is 使用
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrEvaluationFailure = errors.New("evaluation failure")
)

// AppError 带操作上下文的业务错误
type AppError struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	return e.Kind == target
}

func Validation(op, format string, args ...interface{}) error {
	return &AppError{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...interface{}) error {
	return &AppError{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op, format string, args ...interface{}) error {
	return &AppError{Kind: ErrStateConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

func EvaluationFailed(op string, err error) error {
	return &AppError{Kind: ErrEvaluationFailure, Op: op, Message: "evaluator unavailable", Err: err}
}

// KindOf 返回错误所属分类，未分类返回 nil
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrStateConflict, ErrEvaluationFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
