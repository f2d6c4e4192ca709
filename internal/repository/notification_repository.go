package repository

import (
	"context"
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	DB *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{DB: db}
}

func (r *NotificationRepository) WithContext(ctx context.Context) *NotificationRepository {
	return &NotificationRepository{DB: r.DB.WithContext(ctx)}
}

func (r *NotificationRepository) Create(n *model.Notification) error {
	return r.DB.Create(n).Error
}

func (r *NotificationRepository) ListByUser(userID uint, limit int) ([]model.Notification, error) {
	var list []model.Notification
	err := r.DB.Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&list).Error
	return list, err
}
