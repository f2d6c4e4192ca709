package repository

import (
	"learning_platform_backend/internal/model"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) WithTx(tx *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: tx}
}

func (r *CourseRepository) FindCourse(id uint) (*model.Course, error) {
	var c model.Course
	if err := r.DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CourseRepository) FindChapter(courseID, chapterID uint) (*model.Chapter, error) {
	var ch model.Chapter
	if err := r.DB.Where("id = ? AND course_id = ?", chapterID, courseID).First(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChapters 按 order_index 升序返回课程下全部章节
func (r *CourseRepository) ListChapters(courseID uint) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := r.DB.Where("course_id = ?", courseID).Order("order_index asc, id asc").Find(&chapters).Error
	return chapters, err
}
