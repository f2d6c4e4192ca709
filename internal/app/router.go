package app

import (
	"learning_platform_backend/internal/config"
	"learning_platform_backend/internal/middleware"
	"learning_platform_backend/internal/model"
	"learning_platform_backend/pkg/monitoring"
	"learning_platform_backend/pkg/security"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c, cfg)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, cfg)
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers, cfg *config.Config) {
	// 评分接口调用外部服务，按用户单独限流
	submitLimit := security.RateLimiter(cfg.RateLimit.SubmissionsPerMinute, time.Minute, security.ByUserOrIP)

	group.GET("/courses", c.course.ListCourses)
	group.GET("/grades", c.course.GetGrades)
	group.GET("/notifications", c.notification.List)

	courses := group.Group("/courses/:courseId")
	{
		courses.POST("/activate", c.course.ActivateCourse)
		courses.POST("/select", c.course.SelectCourse)
		courses.POST("/format", c.course.FormatCourse)
		courses.GET("/timeout", c.course.CheckTimeout)
		courses.GET("/progress", c.progress.GetCourseProgress)

		chapters := courses.Group("/chapters/:chapterId")
		{
			chapters.POST("/start", c.progress.StartChapter)
			chapters.POST("/watch", c.progress.RecordWatch)
			chapters.GET("/submissions", c.progress.ListSubmissions)
			chapters.POST("/submissions", submitLimit, c.progress.Submit)
			chapters.GET("/timeout", c.progress.CheckTimeout)
			chapters.GET("/exam", c.exam.GetExam)
			chapters.POST("/exam/sections/:section", submitLimit, c.exam.SubmitSection)
		}
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin, model.Teacher))
	{
		admin.POST("/enrollments", c.course.GrantCourse)
		admin.POST("/users/:userId/courses/:courseId/timeout", c.course.HandleTimeout)
		admin.POST("/users/:userId/courses/:courseId/complete", c.course.CompleteCourse)
		admin.POST("/timeouts/sweep", c.sweep.Run)
	}
}
