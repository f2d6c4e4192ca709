package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 状态机迁移次数，machine 取值 chapter / course
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_status_transitions_total",
			Help: "Number of progress state machine transitions",
		},
		[]string{"machine", "from", "to"},
	)

	Timeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_timeouts_total",
			Help: "Number of forced timeout transitions",
		},
		[]string{"scope"},
	)

	EvaluatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluator_request_duration_seconds",
			Help:    "Duration of evaluator / summarizer calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "outcome"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_events_published_total",
			Help: "Number of events published on the in-process bus",
		},
		[]string{"type"},
	)

	EventHandlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_handler_failures_total",
			Help: "Number of failed event subscribers",
		},
		[]string{"type"},
	)

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeout_sweep_runs_total",
			Help: "Number of timeout sweep executions",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			StatusTransitions,
			Timeouts,
			EvaluatorDuration,
			EventsPublished,
			EventHandlerFailures,
			SweepRuns,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
