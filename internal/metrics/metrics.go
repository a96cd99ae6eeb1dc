package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_sessions_started_total",
			Help: "Quiz session starts by outcome (created or resumed)",
		},
		[]string{"outcome"},
	)

	SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_sessions_expired_total",
		Help: "Quiz sessions found past their deadline on touch",
	})

	AttemptsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_attempts_completed_total",
		Help: "Quiz sessions finalized into attempts",
	})

	AttemptEventsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_attempt_events_failed_total",
		Help: "Attempt-completed events that could not be published",
	})

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionsStarted,
			SessionsExpired,
			AttemptsCompleted,
			AttemptEventsFailed,
			RequestCounter,
			RequestDuration,
		)
	})
}

// Middleware records request counts and latencies per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestCounter.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
