package repository

import (
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GradeRepository struct {
	DB *gorm.DB
}

func NewGradeRepository(db *gorm.DB) *GradeRepository {
	return &GradeRepository{DB: db}
}

func (r *GradeRepository) WithTx(tx *gorm.DB) *GradeRepository {
	return &GradeRepository{DB: tx}
}

// CreateIfAbsent 成绩记录一经创建不可修改
func (r *GradeRepository) CreateIfAbsent(g *model.GradeRecord) (bool, error) {
	res := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(g)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GradeRepository) FindByUserCourse(userID, courseID uint) (*model.GradeRecord, error) {
	var g model.GradeRecord
	if err := r.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GradeRepository) ListByUser(userID uint) ([]model.GradeRecord, error) {
	var list []model.GradeRecord
	err := r.DB.Where("user_id = ?", userID).Order("completed_at asc").Find(&list).Error
	return list, err
}

func (r *GradeRepository) DeleteByUserCourse(userID, courseID uint) error {
	return r.DB.Where("user_id = ? AND course_id = ?", userID, courseID).Delete(&model.GradeRecord{}).Error
}
