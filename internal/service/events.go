package service

import (
	"context"
	"errors"
	"fmt"
	"learning_platform_backend/internal/util"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// eventBatch 事务内收集的事件，提交成功后才发布
type eventBatch struct {
	now    time.Time
	events []eventbus.Event
}

func newEventBatch(now time.Time) *eventBatch {
	return &eventBatch{now: now}
}

func (b *eventBatch) add(t eventbus.EventType, userID, courseID, chapterID uint, payload map[string]interface{}) {
	ev := eventbus.NewEvent(t, userID, courseID, chapterID, payload)
	ev.OccurredAt = b.now
	b.events = append(b.events, ev)
}

// statusChanged 记录一次状态迁移，相同状态不产生事件
func (b *eventBatch) statusChanged(machine string, userID, courseID, chapterID uint, from, to string) {
	if from == to {
		return
	}
	monitoring.StatusTransitions.WithLabelValues(machine, from, to).Inc()
	b.add(eventbus.StatusChanged, userID, courseID, chapterID, map[string]interface{}{
		"machine": machine,
		"from":    from,
		"to":      to,
	})
}

func (b *eventBatch) reset() {
	b.events = nil
}

// publish 订阅者失败只记录日志，不影响已提交的状态
func publish(ctx context.Context, bus eventbus.Publisher, batch *eventBatch) {
	if bus == nil || batch == nil || len(batch.events) == 0 {
		return
	}
	if err := bus.Publish(ctx, batch.events...); err != nil {
		logger.Log.Warn("Event subscribers failed", zap.Int("events", len(batch.events)), zap.Error(err))
	}
}

// notFoundOr 把 gorm 的记录不存在转换为业务错误
func notFoundOr(err error, op, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.NotFound(op, format, args...)
	}
	return fmt.Errorf("%s: %w", op, err)
}
