package repository

import (
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

func (r *ProgressRepository) WithTx(tx *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: tx}
}

func (r *ProgressRepository) Find(userID, courseID, chapterID uint) (*model.ChapterProgress, error) {
	var p model.ChapterProgress
	err := r.DB.Where("user_id = ? AND course_id = ? AND chapter_id = ?", userID, courseID, chapterID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindForUpdate 在事务内锁定进度行
func (r *ProgressRepository) FindForUpdate(userID, courseID, chapterID uint) (*model.ChapterProgress, error) {
	var p model.ChapterProgress
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND course_id = ? AND chapter_id = ?", userID, courseID, chapterID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateIfAbsent 幂等创建，已存在时不做修改
func (r *ProgressRepository) CreateIfAbsent(p *model.ChapterProgress) (bool, error) {
	res := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ProgressRepository) Save(p *model.ChapterProgress) error {
	return r.DB.Save(p).Error
}

func (r *ProgressRepository) ListByUserCourse(userID, courseID uint) ([]model.ChapterProgress, error) {
	var list []model.ChapterProgress
	err := r.DB.Where("user_id = ? AND course_id = ?", userID, courseID).Order("id asc").Find(&list).Error
	return list, err
}

// ListOpen 返回已开始但未完成的章节进度
func (r *ProgressRepository) ListOpen(userID, courseID uint) ([]model.ChapterProgress, error) {
	var list []model.ChapterProgress
	err := r.DB.Where("user_id = ? AND course_id = ? AND status <> ? AND started_at IS NOT NULL",
		userID, courseID, model.ChapterCompleted).
		Find(&list).Error
	return list, err
}

func (r *ProgressRepository) DeleteByUserCourse(userID, courseID uint) error {
	return r.DB.Where("user_id = ? AND course_id = ?", userID, courseID).Delete(&model.ChapterProgress{}).Error
}

func (r *ProgressRepository) CreateSubmission(s *model.Submission) error {
	return r.DB.Create(s).Error
}

func (r *ProgressRepository) ListSubmissions(userID, courseID, chapterID uint) ([]model.Submission, error) {
	var list []model.Submission
	err := r.DB.Where("user_id = ? AND course_id = ? AND chapter_id = ?", userID, courseID, chapterID).
		Order("submitted_at desc").
		Find(&list).Error
	return list, err
}

// UpdateSummary 考试总结在事务提交后单独写入
func (r *ProgressRepository) UpdateSummary(id uint, summary string) error {
	return r.DB.Model(&model.ChapterProgress{}).Where("id = ?", id).Update("summary", summary).Error
}
