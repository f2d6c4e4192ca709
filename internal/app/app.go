package app

import (
	"context"
	"learning_platform_backend/internal/config"
	"learning_platform_backend/internal/controller"
	"learning_platform_backend/internal/repository"
	"learning_platform_backend/internal/service"
	"learning_platform_backend/pkg/configwatcher"
	"learning_platform_backend/pkg/database"
	"learning_platform_backend/pkg/eventbus"
	"learning_platform_backend/pkg/logger"
	"learning_platform_backend/pkg/monitoring"
	"learning_platform_backend/pkg/security"
	"learning_platform_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const configFile = "configs/config.yaml"

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	Bus             *eventbus.Bus
	services        *services
	scheduler       *cron.Cron
	tracer          *sdktrace.TracerProvider
	stopWatcher     context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user         *repository.UserRepository
	course       *repository.CourseRepository
	enrollment   *repository.EnrollmentRepository
	progress     *repository.ProgressRepository
	grade        *repository.GradeRepository
	badge        *repository.BadgeRepository
	notification *repository.NotificationRepository
}

type services struct {
	policy       *service.PolicyHolder
	timeout      *service.TimeoutEngine
	ai           *service.AIService
	course       *service.CourseService
	progress     *service.ProgressService
	exam         *service.ExamService
	experience   *service.ExperienceService
	notification *service.NotificationService
	sweeper      *service.TimeoutSweeper
}

type controllers struct {
	course       *controller.CourseController
	progress     *controller.ProgressController
	exam         *controller.ExamController
	notification *controller.NotificationController
	sweep        *controller.SweepController
	health       *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:         repository.NewUserRepository(db),
		course:       repository.NewCourseRepository(db),
		enrollment:   repository.NewEnrollmentRepository(db),
		progress:     repository.NewProgressRepository(db),
		grade:        repository.NewGradeRepository(db),
		badge:        repository.NewBadgeRepository(db),
		notification: repository.NewNotificationRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client, bus *eventbus.Bus) *services {
	s := &services{}

	s.policy = service.NewPolicyHolder(service.PolicyFromConfig(cfg.Progress))
	s.timeout = service.NewTimeoutEngine(time.Now)
	s.ai = service.NewAIService(cfg.AI)

	s.course = service.NewCourseService(db, repos.course, repos.enrollment, repos.progress, repos.grade, repos.badge, repos.user, bus, s.timeout)
	s.progress = service.NewProgressService(db, repos.course, repos.progress, repos.enrollment, s.course, s.ai, bus, s.timeout, s.policy)
	s.exam = service.NewExamService(db, s.progress, repos.grade, s.ai, s.ai, bus)

	s.notification = service.NewNotificationService(repos.notification)
	s.experience = service.NewExperienceService(db, repos.user, s.notification, s.policy)

	var locker service.Locker
	if rdb != nil {
		locker = service.NewRedisLocker(rdb)
	}
	s.sweeper = service.NewTimeoutSweeper(repos.enrollment, repos.progress, s.course, s.progress, locker, cfg.Scheduler.LockTTL)

	return s
}

// subscribe 注册事件订阅者，全部在启动阶段完成
func (a *App) subscribe(bus *eventbus.Bus, s *services) error {
	if err := s.experience.Register(bus); err != nil {
		return err
	}
	if err := s.notification.Register(bus); err != nil {
		return err
	}
	return bus.Subscribe(eventbus.StatusChanged, func(ctx context.Context, ev eventbus.Event) error {
		logger.Log.Debug("Status changed",
			zap.Uint("userID", ev.UserID),
			zap.Uint("courseID", ev.CourseID),
			zap.Uint("chapterID", ev.ChapterID),
			zap.Any("payload", ev.Payload),
		)
		return nil
	})
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		course:       controller.NewCourseController(s.course),
		progress:     controller.NewProgressController(s.progress),
		exam:         controller.NewExamController(s.exam),
		notification: controller.NewNotificationController(s.notification),
		sweep:        controller.NewSweepController(s.sweeper),
		health:       controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ByIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 每日超时巡检与配置热更新
func (a *App) startBackgroundTasks(s *services) {
	c, err := s.sweeper.Schedule(a.Config.Scheduler.TimeoutSweepSpec)
	if err != nil {
		logger.Log.Error("Invalid timeout sweep schedule", zap.String("spec", a.Config.Scheduler.TimeoutSweepSpec), zap.Error(err))
	} else {
		c.Start()
		a.scheduler = c
		logger.Log.Info("Timeout sweep scheduled", zap.String("spec", a.Config.Scheduler.TimeoutSweepSpec))
	}

	a.RegisterConfigCallback(func(cfg *config.Config) {
		s.policy.Set(service.PolicyFromConfig(cfg.Progress))
		logger.Log.Info("Progress policy reloaded",
			zap.Int("passingScore", cfg.Progress.PassingScore),
			zap.Int("lessonCompletionRate", cfg.Progress.LessonCompletionRate),
		)
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatcher = cancel
	go func() {
		path, _ := filepath.Abs(configFile)
		err := configwatcher.WatchConfig(ctx, path, func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		})
		if err != nil {
			logger.Log.Warn("Config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// release 模式默认不自动迁移，需要 -migrate 显式开启
	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Bus:    eventbus.New(),
	}
	if cfg.MigrateOnly {
		return app
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
			log.Fatalf("Failed to initialize redis: %v", err)
		}
		app.Redis = rdb
	}

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("learning-platform", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, app.Redis, app.Bus)
	app.services = services
	if err := app.subscribe(app.Bus, services); err != nil {
		logger.Log.Fatal("Failed to register event subscribers", zap.Error(err))
	}
	controllers := app.initControllers(services, db, app.Redis)

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if a.stopWatcher != nil {
		a.stopWatcher()
	}
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	log.Println("Server exiting")
}
