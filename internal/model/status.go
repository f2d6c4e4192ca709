package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// ChapterStatus 章节进度状态机
type ChapterStatus string

const (
	ChapterNotStarted       ChapterStatus = "NOT_STARTED"
	ChapterLessonInProgress ChapterStatus = "LESSON_IN_PROGRESS"
	ChapterLessonCompleted  ChapterStatus = "LESSON_COMPLETED"
	ChapterTaskInProgress   ChapterStatus = "TASK_IN_PROGRESS"
	ChapterCompleted        ChapterStatus = "COMPLETED"
)

var chapterStatusRank = map[ChapterStatus]int{
	ChapterNotStarted:       0,
	ChapterLessonInProgress: 1,
	ChapterLessonCompleted:  2,
	ChapterTaskInProgress:   3,
	ChapterCompleted:        4,
}

// ParseChapterStatus 兼容历史数据中的大小写差异
func ParseChapterStatus(s string) (ChapterStatus, error) {
	st := ChapterStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := chapterStatusRank[st]; !ok {
		return "", fmt.Errorf("invalid chapter status %q", s)
	}
	return st, nil
}

func (s ChapterStatus) Valid() bool {
	_, ok := chapterStatusRank[s]
	return ok
}

// Rank 状态在状态机中的先后顺序，用于保证不回退
func (s ChapterStatus) Rank() int {
	return chapterStatusRank[s]
}

func (s ChapterStatus) IsTerminal() bool {
	return s == ChapterCompleted
}

func (s ChapterStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid chapter status %q", string(s))
	}
	return string(s), nil
}

func (s *ChapterStatus) Scan(value interface{}) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	st, err := ParseChapterStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// CourseStatus 课程报名状态机
type CourseStatus string

const (
	CourseRestricted CourseStatus = "restricted"
	CourseBlocked    CourseStatus = "blocked"
	CourseAvailable  CourseStatus = "available"
	CourseActive     CourseStatus = "active"
	CourseCompleted  CourseStatus = "completed"
	CoursePerfect    CourseStatus = "perfect"
	CourseFailed     CourseStatus = "failed"
)

var courseStatuses = map[CourseStatus]struct{}{
	CourseRestricted: {},
	CourseBlocked:    {},
	CourseAvailable:  {},
	CourseActive:     {},
	CourseCompleted:  {},
	CoursePerfect:    {},
	CourseFailed:     {},
}

func ParseCourseStatus(s string) (CourseStatus, error) {
	st := CourseStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := courseStatuses[st]; !ok {
		return "", fmt.Errorf("invalid course status %q", s)
	}
	return st, nil
}

func (s CourseStatus) Valid() bool {
	_, ok := courseStatuses[s]
	return ok
}

func (s CourseStatus) IsTerminal() bool {
	return s == CourseCompleted || s == CoursePerfect || s == CourseFailed
}

// Selectable 可以被设为当前课程的状态
func (s CourseStatus) Selectable() bool {
	return s == CourseActive || s.IsTerminal()
}

// Resettable 可以被重置（format）的状态
func (s CourseStatus) Resettable() bool {
	return s == CourseActive || s == CourseFailed
}

func (s CourseStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid course status %q", string(s))
	}
	return string(s), nil
}

func (s *CourseStatus) Scan(value interface{}) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	st, err := ParseCourseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func scanString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("cannot scan %T into status", value)
	}
}
