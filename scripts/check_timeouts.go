// 手动触发超时巡检脚本
//
// 巡检已集成到主应用的定时任务中（默认每天 03:00 执行）。
// 此脚本用于停机维护后补跑，或在调整课程时限后立即生效。
//
// 用法: go run scripts/check_timeouts.go

package main

import (
	"context"
	"learning_platform_backend/internal/config"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/internal/service"
	"learning_platform_backend/pkg/database"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"
	"log"
	"time"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	var locker service.Locker
	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Redis 连接失败: %v", err)
		}
		defer rdb.Close()
		locker = service.NewRedisLocker(rdb)
	}

	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	progressRepo := repository.NewProgressRepository(db)

	// 脚本只做超时处理，不挂载经验与通知订阅者
	bus := eventbus.New()
	clock := service.NewTimeoutEngine(time.Now)
	courses := service.NewCourseService(db, courseRepo, enrollmentRepo, progressRepo,
		repository.NewGradeRepository(db), repository.NewBadgeRepository(db), repository.NewUserRepository(db), bus, clock)
	progress := service.NewProgressService(db, courseRepo, progressRepo, enrollmentRepo, courses,
		service.NewAIService(cfg.AI), bus, clock, service.NewPolicyHolder(service.PolicyFromConfig(cfg.Progress)))
	sweeper := service.NewTimeoutSweeper(enrollmentRepo, progressRepo, courses, progress, locker, cfg.Scheduler.LockTTL)

	log.Println("手动触发超时巡检...")
	report, err := sweeper.CheckAllTimeouts(context.Background())
	if err != nil {
		log.Fatalf("巡检失败: %v", err)
	}
	log.Printf("完成！进行中课程 %d，课程超时 %d，章节超时 %d，失败 %d",
		report.Enrollments, report.CoursesTimedOut, report.ChaptersTimedOut, report.Errors)
}
