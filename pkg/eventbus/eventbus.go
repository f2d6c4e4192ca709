// Package eventbus 进程内同步发布/订阅。
// 订阅者的失败不会影响发布方的事务，但会被记录并返回给调用方。
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	StatusChanged    EventType = "STATUS_CHANGED"
	ChapterCompleted EventType = "CHAPTER_COMPLETED"
	CourseCompleted  EventType = "COURSE_COMPLETED"
	TimeoutOccurred  EventType = "TIMEOUT_OCCURRED"
	BadgeGranted     EventType = "BADGE_GRANTED"
)

type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	UserID     uint                   `json:"userId"`
	CourseID   uint                   `json:"courseId"`
	ChapterID  uint                   `json:"chapterId,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

func NewEvent(t EventType, userID, courseID, chapterID uint, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		UserID:     userID,
		CourseID:   courseID,
		ChapterID:  chapterID,
		OccurredAt: time.Now(),
		Payload:    payload,
	}
}

type Handler func(ctx context.Context, event Event) error

// Publisher 引擎只依赖发布能力
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

var ErrNilHandler = errors.New("handler cannot be nil")

type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]Handler
	allHandlers []Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

func (b *Bus) Subscribe(t EventType, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
	return nil
}

func (b *Bus) SubscribeAll(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, h)
	return nil
}

// Publish 依次同步执行所有订阅者，单个订阅者失败不会中断其余订阅者
func (b *Bus) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, event := range events {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.allHandlers))
		handlers = append(handlers, b.handlers[event.Type]...)
		handlers = append(handlers, b.allHandlers...)
		b.mu.RUnlock()

		monitoring.EventsPublished.WithLabelValues(string(event.Type)).Inc()

		for _, h := range handlers {
			if err := b.execute(ctx, event, h); err != nil {
				monitoring.EventHandlerFailures.WithLabelValues(string(event.Type)).Inc()
				logger.Log.Error("event handler failed",
					zap.String("event_type", string(event.Type)),
					zap.String("event_id", event.ID),
					zap.Uint("user_id", event.UserID),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("%s: %w", event.Type, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) execute(ctx context.Context, event Event, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}
