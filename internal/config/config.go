package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	AI        AIConfig
	Progress  ProgressConfig  `mapstructure:"progress"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool `mapstructure:"-"` // 仅迁移模式（迁移后退出）
}

// LogConfig 日志文件与滚动策略，Level 为空时按 server.mode 决定
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
	// 评分接口按用户单独限流
	SubmissionsPerMinute int `mapstructure:"submissions_per_minute"`
}

// AIConfig 评分 / 总结服务（OpenAI 兼容接口）
type AIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RetryCount     int    `mapstructure:"retry_count"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver    string // mysql / postgres / sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"ssl_mode"`
	Path      string // sqlite 文件路径
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ProgressConfig 学习进度引擎的可调参数
type ProgressConfig struct {
	PassingScore             int     `mapstructure:"passing_score"`
	LessonCompletionRate     int     `mapstructure:"lesson_completion_rate"`
	ExamTimeoutMultiplier    float64 `mapstructure:"exam_timeout_multiplier"`
	ChapterCompletionXP      int     `mapstructure:"chapter_completion_xp"`
	CourseCompletionXPCredit int     `mapstructure:"course_completion_xp_per_credit"`
}

type SchedulerConfig struct {
	TimeoutSweepSpec string        `mapstructure:"timeout_sweep_spec"`
	LockTTL          time.Duration `mapstructure:"lock_ttl_minutes"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.charset", "utf8mb4")
	viper.SetDefault("database.parsetime", true)
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("ai.timeout_seconds", 60)
	viper.SetDefault("ai.retry_count", 2)

	viper.SetDefault("progress.passing_score", 70)
	viper.SetDefault("progress.lesson_completion_rate", 95)
	viper.SetDefault("progress.exam_timeout_multiplier", 0.8)
	viper.SetDefault("progress.chapter_completion_xp", 10)
	viper.SetDefault("progress.course_completion_xp_per_credit", 100)

	viper.SetDefault("scheduler.timeout_sweep_spec", "0 3 * * *")
	viper.SetDefault("scheduler.lock_ttl_minutes", 30)

	viper.SetDefault("rate_limit.max_requests", 100000)
	viper.SetDefault("rate_limit.window_minutes", 1)
	viper.SetDefault("rate_limit.submissions_per_minute", 10)

	viper.SetDefault("log.file", "logs/app.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age_days", 30)
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("LEARNING")
	viper.AutomaticEnv()

	setDefaults()

	// Database
	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// AI
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")

	// Log
	viper.BindEnv("log.level", "LOG_LEVEL")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Scheduler.LockTTL = cfg.Scheduler.LockTTL * time.Minute

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验进度参数的取值范围
func (c *Config) Validate() error {
	p := c.Progress
	if p.PassingScore < 0 || p.PassingScore > 100 {
		return fmt.Errorf("progress.passing_score must be within [0,100], got %d", p.PassingScore)
	}
	if p.LessonCompletionRate <= 0 || p.LessonCompletionRate > 100 {
		return fmt.Errorf("progress.lesson_completion_rate must be within (0,100], got %d", p.LessonCompletionRate)
	}
	if p.ExamTimeoutMultiplier < 0 || p.ExamTimeoutMultiplier > 1 {
		return fmt.Errorf("progress.exam_timeout_multiplier must be within [0,1], got %v", p.ExamTimeoutMultiplier)
	}

	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	return nil
}
