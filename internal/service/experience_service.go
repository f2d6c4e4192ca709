package service

import (
	"context"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const xpPerLevel = 200

type ExperienceResult struct {
	XP        int  `json:"xp"`
	OldLevel  int  `json:"oldLevel"`
	NewLevel  int  `json:"newLevel"`
	IsLevelUp bool `json:"isLevelUp"`
}

// ExperienceService 订阅完成事件并发放经验
type ExperienceService struct {
	DB            *gorm.DB
	UserRepo      *repository.UserRepository
	Notifications *NotificationService
	Policy        *PolicyHolder
}

func NewExperienceService(db *gorm.DB, userRepo *repository.UserRepository, notifications *NotificationService, policy *PolicyHolder) *ExperienceService {
	return &ExperienceService{DB: db, UserRepo: userRepo, Notifications: notifications, Policy: policy}
}

// calculateLevel 每 200 XP 升一级
func calculateLevel(xp int) (int, int) {
	level := xp / xpPerLevel
	nextLevelXP := (level + 1) * xpPerLevel
	return level, nextLevelXP
}

func (s *ExperienceService) AddExperience(ctx context.Context, userID uint, amount int, source string, metadata map[string]interface{}) (*ExperienceResult, error) {
	var result *ExperienceResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := s.UserRepo.WithTx(tx)
		user, err := users.FindForUpdate(userID)
		if err != nil {
			return notFoundOr(err, "experience.add", "user %d not found", userID)
		}
		xp := user.XP + amount
		level, _ := calculateLevel(xp)
		if err := users.UpdateExperience(userID, xp, level); err != nil {
			return err
		}
		if err := users.CreateExperienceLog(&model.ExperienceLog{
			UserID:   userID,
			Amount:   amount,
			Source:   source,
			Metadata: datatypes.JSONMap(metadata),
		}); err != nil {
			return err
		}
		result = &ExperienceResult{
			XP:        xp,
			OldLevel:  user.Level,
			NewLevel:  level,
			IsLevelUp: level > user.Level,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IsLevelUp && s.Notifications != nil {
		if err := s.Notifications.Notify(ctx, userID, "LEVEL_UP", "恭喜升级！", map[string]interface{}{
			"oldLevel": result.OldLevel,
			"newLevel": result.NewLevel,
		}); err != nil {
			logger.Log.Warn("Failed to notify level up", zap.Uint("userID", userID), zap.Error(err))
		}
	}
	return result, nil
}

func (s *ExperienceService) Register(bus *eventbus.Bus) error {
	if err := bus.Subscribe(eventbus.ChapterCompleted, s.onChapterCompleted); err != nil {
		return err
	}
	return bus.Subscribe(eventbus.CourseCompleted, s.onCourseCompleted)
}

// onChapterCompleted 超时强制完成的章节不发经验
func (s *ExperienceService) onChapterCompleted(ctx context.Context, ev eventbus.Event) error {
	if timedOut, _ := ev.Payload["timedOut"].(bool); timedOut {
		return nil
	}
	amount := s.Policy.Get().ChapterCompletionXP
	if amount <= 0 {
		return nil
	}
	_, err := s.AddExperience(ctx, ev.UserID, amount, "chapter_completed", map[string]interface{}{
		"courseId":  ev.CourseID,
		"chapterId": ev.ChapterID,
		"eventId":   ev.ID,
	})
	return err
}

func (s *ExperienceService) onCourseCompleted(ctx context.Context, ev eventbus.Event) error {
	if cond, _ := ev.Payload["condition"].(string); cond == string(model.ConditionFailed) {
		return nil
	}
	amount := payloadInt(ev.Payload, "credits") * s.Policy.Get().CourseCompletionXPPerCredit
	if amount <= 0 {
		return nil
	}
	_, err := s.AddExperience(ctx, ev.UserID, amount, "course_completed", map[string]interface{}{
		"courseId": ev.CourseID,
		"eventId":  ev.ID,
	})
	return err
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
