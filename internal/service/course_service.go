package service

import (
	"context"
	"errors"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/internal/util"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"learning_platform_backend/pkg/tracing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const courseMachine = "course"

// CompletionOutcome 课程结业结果
type CompletionOutcome struct {
	Condition                model.CompletionCondition `json:"condition"`
	Status                   model.CourseStatus        `json:"status"`
	FinalScore               int                       `json:"finalScore"`
	Grade                    Grade                     `json:"grade"`
	CertificationEligibility bool                      `json:"certificationEligibility"`
	GPA                      float64                   `json:"gpa"`
	Badge                    *model.Badge              `json:"badge,omitempty"`
	BadgeGranted             bool                      `json:"badgeGranted"`
	AlreadyCompleted         bool                      `json:"alreadyCompleted"`
}

type CourseService struct {
	DB             *gorm.DB
	CourseRepo     *repository.CourseRepository
	EnrollmentRepo *repository.EnrollmentRepository
	ProgressRepo   *repository.ProgressRepository
	GradeRepo      *repository.GradeRepository
	BadgeRepo      *repository.BadgeRepository
	UserRepo       *repository.UserRepository
	Bus            eventbus.Publisher
	Timeout        *TimeoutEngine
}

func NewCourseService(
	db *gorm.DB,
	courseRepo *repository.CourseRepository,
	enrollmentRepo *repository.EnrollmentRepository,
	progressRepo *repository.ProgressRepository,
	gradeRepo *repository.GradeRepository,
	badgeRepo *repository.BadgeRepository,
	userRepo *repository.UserRepository,
	bus eventbus.Publisher,
	timeout *TimeoutEngine,
) *CourseService {
	return &CourseService{
		DB:             db,
		CourseRepo:     courseRepo,
		EnrollmentRepo: enrollmentRepo,
		ProgressRepo:   progressRepo,
		GradeRepo:      gradeRepo,
		BadgeRepo:      badgeRepo,
		UserRepo:       userRepo,
		Bus:            bus,
		Timeout:        timeout,
	}
}

// courseTx 同一事务内使用的仓储集合
type courseTx struct {
	courses     *repository.CourseRepository
	enrollments *repository.EnrollmentRepository
	progress    *repository.ProgressRepository
	grades      *repository.GradeRepository
	badges      *repository.BadgeRepository
	users       *repository.UserRepository
}

func (s *CourseService) repos(tx *gorm.DB) courseTx {
	return courseTx{
		courses:     s.CourseRepo.WithTx(tx),
		enrollments: s.EnrollmentRepo.WithTx(tx),
		progress:    s.ProgressRepo.WithTx(tx),
		grades:      s.GradeRepo.WithTx(tx),
		badges:      s.BadgeRepo.WithTx(tx),
		users:       s.UserRepo.WithTx(tx),
	}
}

func meetsRequirements(user *model.User, course *model.Course) bool {
	return user.Level >= course.LevelRequired && user.Rank >= course.RankRequired
}

func hasActive(list []model.CourseEnrollment, exceptCourseID uint) bool {
	for _, e := range list {
		if e.CourseID != exceptCourseID && e.Status == model.CourseActive {
			return true
		}
	}
	return false
}

// GrantCourse 为用户开放课程，已存在报名记录时原样返回
func (s *CourseService) GrantCourse(ctx context.Context, userID, courseID uint) (en *model.CourseEnrollment, err error) {
	const op = "course.grant"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	batch := newEventBatch(s.Timeout.Now())
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		r := s.repos(tx)
		user, err := r.users.FindByID(userID)
		if err != nil {
			return notFoundOr(err, op, "user %d not found", userID)
		}
		course, err := r.courses.FindCourse(courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d not found", courseID)
		}

		list, err := r.enrollments.ListByUserForUpdate(userID)
		if err != nil {
			return err
		}
		for i := range list {
			if list[i].CourseID == courseID {
				en = &list[i]
				return nil
			}
		}

		status := model.CourseAvailable
		switch {
		case !meetsRequirements(user, course):
			status = model.CourseRestricted
		case hasActive(list, courseID):
			status = model.CourseBlocked
		}
		en = &model.CourseEnrollment{
			UserID:                   userID,
			CourseID:                 courseID,
			Status:                   status,
			CertificationEligibility: true,
		}
		if err := r.enrollments.Create(en); err != nil {
			return err
		}
		batch.statusChanged(courseMachine, userID, courseID, 0, "none", string(status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return en, nil
}

// ActivateCourse 开始学习课程；同一用户同时只能有一门进行中的课程
func (s *CourseService) ActivateCourse(ctx context.Context, userID, courseID uint) (en *model.CourseEnrollment, err error) {
	const op = "course.activate"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		r := s.repos(tx)
		user, err := r.users.FindByID(userID)
		if err != nil {
			return notFoundOr(err, op, "user %d not found", userID)
		}
		course, err := r.courses.FindCourse(courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d not found", courseID)
		}

		list, err := r.enrollments.ListByUserForUpdate(userID)
		if err != nil {
			return err
		}
		var target *model.CourseEnrollment
		for i := range list {
			if list[i].CourseID == courseID {
				target = &list[i]
				continue
			}
			if list[i].Status == model.CourseActive {
				return util.Conflict(op, "course %d is already active", list[i].CourseID)
			}
		}

		if target != nil {
			if target.Status == model.CourseActive {
				en = target
				return nil
			}
			if target.Status.IsTerminal() {
				return util.Conflict(op, "course %d is already %s", courseID, target.Status)
			}
		}
		if !meetsRequirements(user, course) {
			return util.Conflict(op, "level or rank requirement not met for course %d", courseID)
		}

		for i := range list {
			other := &list[i]
			if other.CourseID == courseID {
				continue
			}
			changed := false
			if other.Status == model.CourseAvailable {
				other.Status = model.CourseBlocked
				batch.statusChanged(courseMachine, userID, other.CourseID, 0, string(model.CourseAvailable), string(model.CourseBlocked))
				changed = true
			}
			if other.IsCurrent {
				other.IsCurrent = false
				changed = true
			}
			if changed {
				if err := r.enrollments.Save(other); err != nil {
					return err
				}
			}
		}

		from := "none"
		if target == nil {
			target = &model.CourseEnrollment{UserID: userID, CourseID: courseID}
		} else {
			from = string(target.Status)
		}
		started := now
		target.Status = model.CourseActive
		target.IsActive = true
		target.IsCurrent = true
		target.StartedAt = &started
		target.CompletedAt = nil
		target.TimeOutAt = nil
		target.CertificationEligibility = true
		if course.TimeLimitDays > 0 {
			deadline := CourseDeadline(now, course.TimeLimitDays)
			target.TimeOutAt = &deadline
		}
		if target.ID == 0 {
			err = r.enrollments.Create(target)
		} else {
			err = r.enrollments.Save(target)
		}
		if err != nil {
			return err
		}

		chapters, err := r.courses.ListChapters(courseID)
		if err != nil {
			return err
		}
		if first := newChapterGate(chapters, nil).Next(0); first != nil {
			if _, err := r.progress.CreateIfAbsent(&model.ChapterProgress{
				UserID:    userID,
				CourseID:  courseID,
				ChapterID: first.ID,
				Status:    model.ChapterNotStarted,
			}); err != nil {
				return err
			}
		}

		batch.statusChanged(courseMachine, userID, courseID, 0, from, string(model.CourseActive))
		en = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	logger.Log.Info("Course activated", zap.Uint("userID", userID), zap.Uint("courseID", courseID))
	return en, nil
}

// SelectCourse 切换当前查看的课程，只改变 isCurrent
func (s *CourseService) SelectCourse(ctx context.Context, userID, courseID uint) (en *model.CourseEnrollment, err error) {
	const op = "course.select"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos(tx)
		list, err := r.enrollments.ListByUserForUpdate(userID)
		if err != nil {
			return err
		}
		for i := range list {
			if list[i].CourseID == courseID {
				en = &list[i]
			}
		}
		if en == nil {
			return util.NotFound(op, "course %d is not granted to user %d", courseID, userID)
		}
		if !en.Status.Selectable() {
			return util.Conflict(op, "course %d is %s and cannot be selected", courseID, en.Status)
		}
		for i := range list {
			e := &list[i]
			want := e.CourseID == courseID
			if e.IsCurrent == want {
				continue
			}
			e.IsCurrent = want
			if err := r.enrollments.Save(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return en, nil
}

// FormatCourse 重置进行中或已失败的课程，清空章节进度
func (s *CourseService) FormatCourse(ctx context.Context, userID, courseID uint) (en *model.CourseEnrollment, err error) {
	const op = "course.format"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	batch := newEventBatch(s.Timeout.Now())
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		r := s.repos(tx)
		list, err := r.enrollments.ListByUserForUpdate(userID)
		if err != nil {
			return err
		}
		for i := range list {
			if list[i].CourseID == courseID {
				en = &list[i]
			}
		}
		if en == nil {
			return util.NotFound(op, "course %d is not granted to user %d", courseID, userID)
		}
		if !en.Status.Resettable() {
			return util.Conflict(op, "course %d is %s and cannot be reset", courseID, en.Status)
		}

		from := en.Status
		if err := r.progress.DeleteByUserCourse(userID, courseID); err != nil {
			return err
		}
		if err := r.grades.DeleteByUserCourse(userID, courseID); err != nil {
			return err
		}
		if _, err := s.recalculateGPA(r, userID); err != nil {
			return err
		}

		en.Status = model.CourseAvailable
		if hasActive(list, courseID) {
			en.Status = model.CourseBlocked
		}
		en.IsActive = false
		en.IsCurrent = false
		en.StartedAt = nil
		en.CompletedAt = nil
		en.TimeOutAt = nil
		en.CertificationEligibility = true
		if err := r.enrollments.Save(en); err != nil {
			return err
		}
		if from == model.CourseActive {
			if err := r.enrollments.ReleaseBlocked(userID); err != nil {
				return err
			}
		}
		batch.statusChanged(courseMachine, userID, courseID, 0, string(from), string(en.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return en, nil
}

// HandleTimeout 把进行中的课程判为超时失败
func (s *CourseService) HandleTimeout(ctx context.Context, userID, courseID uint) (en *model.CourseEnrollment, err error) {
	const op = "course.handle_timeout"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		r := s.repos(tx)
		course, err := r.courses.FindCourse(courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d not found", courseID)
		}
		en, err = r.enrollments.FindForUpdate(userID, courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d is not granted to user %d", courseID, userID)
		}
		switch en.Status {
		case model.CourseFailed:
			return nil
		case model.CourseActive:
			return s.handleTimeoutTx(r, en, course, now, batch)
		default:
			return util.Conflict(op, "course %d is %s and cannot time out", courseID, en.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return en, nil
}

// CheckCourseTimeout 惰性检查课程期限，过期则立即判为失败
func (s *CourseService) CheckCourseTimeout(ctx context.Context, userID, courseID uint) (res TimeoutResult, err error) {
	const op = "course.check_timeout"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		r := s.repos(tx)
		course, err := r.courses.FindCourse(courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d not found", courseID)
		}
		en, err := r.enrollments.FindForUpdate(userID, courseID)
		if err != nil {
			return notFoundOr(err, op, "course %d is not granted to user %d", courseID, userID)
		}
		res = s.Timeout.CheckCourse(en, course.TimeLimitDays)
		if !res.IsTimedOut || en.Status != model.CourseActive {
			return nil
		}
		if err := s.handleTimeoutTx(r, en, course, now, batch); err != nil {
			return err
		}
		res.Applied = true
		return nil
	})
	if err != nil {
		return TimeoutResult{}, err
	}
	publish(ctx, s.Bus, batch)
	return res, nil
}

func (s *CourseService) handleTimeoutTx(r courseTx, en *model.CourseEnrollment, course *model.Course, now time.Time, batch *eventBatch) error {
	from := en.Status
	en.Status = model.CourseFailed
	en.IsActive = false
	en.CertificationEligibility = false
	if en.TimeOutAt == nil || en.TimeOutAt.After(now) {
		t := now
		en.TimeOutAt = &t
	}
	if err := r.enrollments.Save(en); err != nil {
		return err
	}

	fail := GradeForScore(0)
	if _, err := r.grades.CreateIfAbsent(&model.GradeRecord{
		UserID:      en.UserID,
		CourseID:    en.CourseID,
		Score:       0,
		Grade:       fail.Label,
		GradePoint:  fail.Point,
		Credits:     course.Credits,
		CompletedAt: now,
	}); err != nil {
		return err
	}
	if _, err := s.recalculateGPA(r, en.UserID); err != nil {
		return err
	}
	if err := r.enrollments.ReleaseBlocked(en.UserID); err != nil {
		return err
	}

	monitoring.Timeouts.WithLabelValues("course").Inc()
	batch.add(eventbus.TimeoutOccurred, en.UserID, en.CourseID, 0, map[string]interface{}{
		"scope":     "course",
		"timeOutAt": en.TimeOutAt,
	})
	batch.statusChanged(courseMachine, en.UserID, en.CourseID, 0, string(from), string(en.Status))
	logger.Log.Info("Course timed out",
		zap.Uint("userID", en.UserID),
		zap.Uint("courseID", en.CourseID),
	)
	return nil
}

// HandleCourseCompletion 最后一个章节完成后的结业处理，重复调用只会重新尝试发放徽章
func (s *CourseService) HandleCourseCompletion(ctx context.Context, userID, courseID uint) (out *CompletionOutcome, err error) {
	const op = "course.complete"
	ctx, span := tracing.StartSpan(ctx, op, userID, courseID)
	defer func() { tracing.End(span, err) }()

	now := s.Timeout.Now()
	batch := newEventBatch(now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.reset()
		out, err = s.completeCourseTx(tx, userID, courseID, now, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Bus, batch)
	return out, nil
}

func (s *CourseService) completeCourseTx(tx *gorm.DB, userID, courseID uint, now time.Time, batch *eventBatch) (*CompletionOutcome, error) {
	const op = "course.complete"
	r := s.repos(tx)
	course, err := r.courses.FindCourse(courseID)
	if err != nil {
		return nil, notFoundOr(err, op, "course %d not found", courseID)
	}
	en, err := r.enrollments.FindForUpdate(userID, courseID)
	if err != nil {
		return nil, notFoundOr(err, op, "course %d is not granted to user %d", courseID, userID)
	}

	if en.Status.IsTerminal() {
		out := &CompletionOutcome{
			Condition:                ConditionForEnrollment(en),
			Status:                   en.Status,
			CertificationEligibility: en.CertificationEligibility,
			AlreadyCompleted:         true,
		}
		if g, err := r.grades.FindByUserCourse(userID, courseID); err == nil {
			out.FinalScore = g.Score
			out.Grade = Grade{Label: g.Grade, Point: g.GradePoint}
		}
		if err := s.grantBadge(r, en, out, now, batch); err != nil {
			return nil, err
		}
		return out, nil
	}
	if en.Status != model.CourseActive {
		return nil, util.Conflict(op, "course %d is %s and cannot be completed", courseID, en.Status)
	}

	chapters, err := r.courses.ListChapters(courseID)
	if err != nil {
		return nil, err
	}
	progress, err := r.progress.ListByUserCourse(userID, courseID)
	if err != nil {
		return nil, err
	}
	gate := newChapterGate(chapters, progress)
	required := gate.Required()
	if len(required) == 0 {
		return nil, util.Conflict(op, "course %d has no chapters", courseID)
	}

	best := make([]*int, 0, len(required))
	for _, ch := range required {
		p := gate.progress[ch.ID]
		if p == nil || p.Status != model.ChapterCompleted {
			return nil, util.Conflict(op, "chapter %d of course %d is not completed", ch.ID, courseID)
		}
		best = append(best, p.BestScore)
	}

	cond := ClassifyCompletion(best)
	status, eligible := StatusForCondition(cond)
	final := FinalScore(best)
	grade := GradeForScore(final)

	from := en.Status
	completed := now
	en.Status = status
	en.IsActive = false
	en.CompletedAt = &completed
	en.CertificationEligibility = eligible
	if err := r.enrollments.Save(en); err != nil {
		return nil, err
	}

	if _, err := r.grades.CreateIfAbsent(&model.GradeRecord{
		UserID:      userID,
		CourseID:    courseID,
		Score:       final,
		Grade:       grade.Label,
		GradePoint:  grade.Point,
		Credits:     course.Credits,
		CompletedAt: now,
	}); err != nil {
		return nil, err
	}
	// 期末考试可能已经写入了成绩，以已有记录为准
	if g, err := r.grades.FindByUserCourse(userID, courseID); err == nil {
		final = g.Score
		grade = Grade{Label: g.Grade, Point: g.GradePoint}
	}
	gpa, err := s.recalculateGPA(r, userID)
	if err != nil {
		return nil, err
	}
	if err := r.enrollments.ReleaseBlocked(userID); err != nil {
		return nil, err
	}

	out := &CompletionOutcome{
		Condition:                cond,
		Status:                   status,
		FinalScore:               final,
		Grade:                    grade,
		CertificationEligibility: eligible,
		GPA:                      gpa,
	}
	batch.statusChanged(courseMachine, userID, courseID, 0, string(from), string(status))
	batch.add(eventbus.CourseCompleted, userID, courseID, 0, map[string]interface{}{
		"condition":  string(cond),
		"finalScore": final,
		"grade":      grade.Label,
		"credits":    course.Credits,
	})
	if err := s.grantBadge(r, en, out, now, batch); err != nil {
		return nil, err
	}

	logger.Log.Info("Course completed",
		zap.Uint("userID", userID),
		zap.Uint("courseID", courseID),
		zap.String("condition", string(cond)),
		zap.Int("finalScore", final),
	)
	return out, nil
}

// grantBadge 每个 (user, badge) 只发放一次，只有新发放时产生事件
func (s *CourseService) grantBadge(r courseTx, en *model.CourseEnrollment, out *CompletionOutcome, now time.Time, batch *eventBatch) error {
	if out.Condition == model.ConditionFailed {
		return nil
	}
	badge, err := r.badges.FindByCondition(out.Condition)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Log.Warn("No badge configured for completion condition", zap.String("condition", string(out.Condition)))
		return nil
	}
	if err != nil {
		return err
	}
	granted, err := r.badges.Grant(&model.BadgeGrant{
		UserID:    en.UserID,
		BadgeID:   badge.ID,
		CourseID:  en.CourseID,
		GrantedAt: now,
	})
	if err != nil {
		return err
	}
	out.Badge = badge
	out.BadgeGranted = granted
	if granted {
		batch.add(eventbus.BadgeGranted, en.UserID, en.CourseID, 0, map[string]interface{}{
			"badgeId":   badge.ID,
			"badgeCode": badge.Code,
			"badgeName": badge.Name,
			"condition": string(out.Condition),
		})
	}
	return nil
}

func (s *CourseService) recalculateGPA(r courseTx, userID uint) (float64, error) {
	records, err := r.grades.ListByUser(userID)
	if err != nil {
		return 0, err
	}
	gpa := CalculateGPA(records)
	if err := r.users.UpdateGPA(userID, gpa); err != nil {
		return 0, err
	}
	return gpa, nil
}

// CourseOverview 课程列表中的一项
type CourseOverview struct {
	Enrollment model.CourseEnrollment `json:"enrollment"`
	Course     *model.Course          `json:"course,omitempty"`
	Grade      *model.GradeRecord     `json:"grade,omitempty"`
}

func (s *CourseService) ListCourses(ctx context.Context, userID uint) ([]CourseOverview, error) {
	db := s.DB.WithContext(ctx)
	r := s.repos(db)
	list, err := r.enrollments.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	out := make([]CourseOverview, 0, len(list))
	for _, en := range list {
		item := CourseOverview{Enrollment: en}
		if c, err := r.courses.FindCourse(en.CourseID); err == nil {
			item.Course = c
		}
		if g, err := r.grades.FindByUserCourse(userID, en.CourseID); err == nil {
			item.Grade = g
		}
		out = append(out, item)
	}
	return out, nil
}

// GPAReport 用户成绩汇总
type GPAReport struct {
	GPA     float64             `json:"gpa"`
	Credits int                 `json:"credits"`
	Records []model.GradeRecord `json:"records"`
	Badges  []model.BadgeGrant  `json:"badges"`
}

func (s *CourseService) GetGPA(ctx context.Context, userID uint) (*GPAReport, error) {
	const op = "course.gpa"
	r := s.repos(s.DB.WithContext(ctx))
	if _, err := r.users.FindByID(userID); err != nil {
		return nil, notFoundOr(err, op, "user %d not found", userID)
	}
	records, err := r.grades.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	badges, err := r.badges.ListGrants(userID)
	if err != nil {
		return nil, err
	}
	report := &GPAReport{GPA: CalculateGPA(records), Records: records, Badges: badges}
	for _, g := range records {
		report.Credits += g.Credits
	}
	return report, nil
}
