package service

import (
	"context"
	"errors"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockKey = "learning:timeout_sweep:lock"

// Locker 多实例部署时保证同一时间只有一个巡检在运行
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// 只有持有者才能释放锁
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		if err := unlockScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logger.Log.Warn("Failed to release sweep lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}

type SweepReport struct {
	Enrollments      int  `json:"enrollments"`
	CoursesTimedOut  int  `json:"coursesTimedOut"`
	ChaptersTimedOut int  `json:"chaptersTimedOut"`
	Errors           int  `json:"errors"`
	Skipped          bool `json:"skipped"`
}

// TimeoutSweeper 定时巡检所有进行中的课程，补齐没有被惰性检查触发的超时
type TimeoutSweeper struct {
	EnrollmentRepo *repository.EnrollmentRepository
	ProgressRepo   *repository.ProgressRepository
	Courses        *CourseService
	Progress       *ProgressService
	Locker         Locker
	LockTTL        time.Duration
}

func NewTimeoutSweeper(enrollmentRepo *repository.EnrollmentRepository, progressRepo *repository.ProgressRepository, courses *CourseService, progress *ProgressService, locker Locker, lockTTL time.Duration) *TimeoutSweeper {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &TimeoutSweeper{
		EnrollmentRepo: enrollmentRepo,
		ProgressRepo:   progressRepo,
		Courses:        courses,
		Progress:       progress,
		Locker:         locker,
		LockTTL:        lockTTL,
	}
}

func (s *TimeoutSweeper) CheckAllTimeouts(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, sweepLockKey, s.LockTTL)
		if err != nil {
			monitoring.SweepRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		if !ok {
			logger.Log.Info("Timeout sweep already running elsewhere, skipping")
			monitoring.SweepRuns.WithLabelValues("skipped").Inc()
			report.Skipped = true
			return report, nil
		}
		defer release()
	}

	active, err := s.EnrollmentRepo.WithTx(s.EnrollmentRepo.DB.WithContext(ctx)).ListActive()
	if err != nil {
		monitoring.SweepRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	report.Enrollments = len(active)

	for _, en := range active {
		res, err := s.Courses.CheckCourseTimeout(ctx, en.UserID, en.CourseID)
		if err != nil {
			report.Errors++
			logger.Log.Error("Course timeout check failed",
				zap.Uint("userID", en.UserID),
				zap.Uint("courseID", en.CourseID),
				zap.Error(err),
			)
			continue
		}
		if res.IsTimedOut {
			if res.Applied {
				report.CoursesTimedOut++
			}
			continue
		}

		open, err := s.ProgressRepo.WithTx(s.ProgressRepo.DB.WithContext(ctx)).ListOpen(en.UserID, en.CourseID)
		if err != nil {
			report.Errors++
			continue
		}
		for _, p := range open {
			result, err := s.Progress.CheckTimeout(ctx, p.UserID, p.CourseID, p.ChapterID)
			if err != nil {
				report.Errors++
				logger.Log.Error("Chapter timeout check failed",
					zap.Uint("userID", p.UserID),
					zap.Uint("chapterID", p.ChapterID),
					zap.Error(err),
				)
				continue
			}
			if result.Timeout.Applied {
				report.ChaptersTimedOut++
			}
		}
	}

	outcome := "ok"
	if report.Errors > 0 {
		outcome = "partial"
	}
	monitoring.SweepRuns.WithLabelValues(outcome).Inc()
	logger.Log.Info("Timeout sweep finished",
		zap.Int("enrollments", report.Enrollments),
		zap.Int("coursesTimedOut", report.CoursesTimedOut),
		zap.Int("chaptersTimedOut", report.ChaptersTimedOut),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// Schedule 按 cron 表达式注册巡检任务，由调用方负责 Start / Stop
func (s *TimeoutSweeper) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := s.CheckAllTimeouts(context.Background()); err != nil {
			logger.Log.Error("Scheduled timeout sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
