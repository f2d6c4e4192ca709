package repository

import (
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnrollmentRepository struct {
	DB *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: db}
}

func (r *EnrollmentRepository) WithTx(tx *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: tx}
}

func (r *EnrollmentRepository) Find(userID, courseID uint) (*model.CourseEnrollment, error) {
	var e model.CourseEnrollment
	if err := r.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentRepository) FindForUpdate(userID, courseID uint) (*model.CourseEnrollment, error) {
	var e model.CourseEnrollment
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByUserForUpdate 锁定用户的全部报名记录，用于维护 isActive / isCurrent 唯一性
func (r *EnrollmentRepository) ListByUserForUpdate(userID uint) ([]model.CourseEnrollment, error) {
	var list []model.CourseEnrollment
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Order("id asc").
		Find(&list).Error
	return list, err
}

func (r *EnrollmentRepository) ListByUser(userID uint) ([]model.CourseEnrollment, error) {
	var list []model.CourseEnrollment
	err := r.DB.Where("user_id = ?", userID).Order("id asc").Find(&list).Error
	return list, err
}

func (r *EnrollmentRepository) Create(e *model.CourseEnrollment) error {
	return r.DB.Create(e).Error
}

func (r *EnrollmentRepository) Save(e *model.CourseEnrollment) error {
	return r.DB.Save(e).Error
}

// ReleaseBlocked 把被占用而封锁的课程恢复为可激活
func (r *EnrollmentRepository) ReleaseBlocked(userID uint) error {
	return r.DB.Model(&model.CourseEnrollment{}).
		Where("user_id = ? AND status = ?", userID, model.CourseBlocked).
		Update("status", model.CourseAvailable).Error
}

// ListActive 定时巡检使用，返回所有进行中的报名
func (r *EnrollmentRepository) ListActive() ([]model.CourseEnrollment, error) {
	var list []model.CourseEnrollment
	err := r.DB.Where("status = ?", model.CourseActive).Order("id asc").Find(&list).Error
	return list, err
}
