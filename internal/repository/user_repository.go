package repository

import (
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{DB: tx}
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var user model.User
	if err := r.DB.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindForUpdate(id uint) (*model.User, error) {
	var user model.User
	if err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateGPA(id uint, gpa float64) error {
	return r.DB.Model(&model.User{}).Where("id = ?", id).Update("gpa", gpa).Error
}

func (r *UserRepository) UpdateExperience(id uint, xp, level int) error {
	return r.DB.Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"xp": xp, "level": level}).Error
}

func (r *UserRepository) CreateExperienceLog(l *model.ExperienceLog) error {
	return r.DB.Create(l).Error
}
