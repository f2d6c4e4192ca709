package repository

import (
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeRepository struct {
	DB *gorm.DB
}

func NewBadgeRepository(db *gorm.DB) *BadgeRepository {
	return &BadgeRepository{DB: db}
}

func (r *BadgeRepository) WithTx(tx *gorm.DB) *BadgeRepository {
	return &BadgeRepository{DB: tx}
}

func (r *BadgeRepository) FindByCondition(cond model.CompletionCondition) (*model.Badge, error) {
	var b model.Badge
	if err := r.DB.Where("award_condition = ?", cond).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// Grant 每个 (user, badge) 只发放一次，返回是否为新发放
func (r *BadgeRepository) Grant(g *model.BadgeGrant) (bool, error) {
	res := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(g)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *BadgeRepository) ListGrants(userID uint) ([]model.BadgeGrant, error) {
	var list []model.BadgeGrant
	err := r.DB.Where("user_id = ?", userID).Order("granted_at asc").Find(&list).Error
	return list, err
}
