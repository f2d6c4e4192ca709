package service

import (
	"context"
	"fmt"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/pkg/eventbus"

	"gorm.io/datatypes"
)

type NotificationService struct {
	Repo *repository.NotificationRepository
}

func NewNotificationService(repo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{Repo: repo}
}

func (s *NotificationService) Notify(ctx context.Context, userID uint, typ, message string, payload map[string]interface{}) error {
	return s.Repo.WithContext(ctx).Create(&model.Notification{
		UserID:  userID,
		Type:    typ,
		Message: message,
		Payload: datatypes.JSONMap(payload),
	})
}

func (s *NotificationService) List(ctx context.Context, userID uint, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Repo.WithContext(ctx).ListByUser(userID, limit)
}

// Register 只订阅面向学员的事件，状态迁移不发通知
func (s *NotificationService) Register(bus *eventbus.Bus) error {
	for _, t := range []eventbus.EventType{
		eventbus.ChapterCompleted,
		eventbus.CourseCompleted,
		eventbus.TimeoutOccurred,
		eventbus.BadgeGranted,
	} {
		if err := bus.Subscribe(t, s.onEvent); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotificationService) onEvent(ctx context.Context, ev eventbus.Event) error {
	payload := map[string]interface{}{
		"eventId":   ev.ID,
		"courseId":  ev.CourseID,
		"chapterId": ev.ChapterID,
	}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	return s.Notify(ctx, ev.UserID, string(ev.Type), notificationMessage(ev), payload)
}

func notificationMessage(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.ChapterCompleted:
		if timedOut, _ := ev.Payload["timedOut"].(bool); timedOut && ev.Payload["exam"] == nil {
			return "章节已超时，系统已按 0 分完成该章节。"
		}
		return fmt.Sprintf("章节已完成，得分 %d。", payloadInt(ev.Payload, "score"))
	case eventbus.CourseCompleted:
		return fmt.Sprintf("课程已结业，最终成绩 %d（%v）。", payloadInt(ev.Payload, "finalScore"), ev.Payload["grade"])
	case eventbus.TimeoutOccurred:
		if ev.Payload["scope"] == courseMachine {
			return "课程学习期限已到，课程已判定为未通过。"
		}
		return "章节学习时间已到。"
	case eventbus.BadgeGranted:
		return fmt.Sprintf("获得徽章「%v」！", ev.Payload["badgeName"])
	default:
		return string(ev.Type)
	}
}
