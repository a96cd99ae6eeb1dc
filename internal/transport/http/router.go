package http

import (
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	JWTSecret         []byte
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires the REST and websocket endpoints.
func NewRouter(service *app.SessionService, log *zap.Logger, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	sessions := NewSessionHandler(service, log)
	ws := NewWSHandler(service, log)
	auth := AuthMiddleware(cfg.JWTSecret)
	limit := RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)

	api := r.Group("/api", auth)
	{
		api.POST("/quizzes/submit", limit, sessions.SubmitQuiz)
		api.POST("/quizzes/:quiz_id/start-session", limit, sessions.StartSession)
		api.GET("/quizzes/:quiz_id/check-session", sessions.CheckActiveSession)
		api.GET("/sessions/active", sessions.CheckAnyActiveSession)
		api.GET("/sessions/:session_id", sessions.GetSession)
		api.POST("/sessions/:session_id/update", limit, sessions.UpdateSession)
		api.POST("/sessions/:session_id/save-answer", limit, sessions.SaveAnswer)
		api.POST("/sessions/:session_id/complete", limit, sessions.CompleteSession)
		api.GET("/attempts", sessions.ListAttempts)
	}
	r.GET("/ws/sessions/:session_id", auth, ws.ServeWS)

	return r
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if user := currentUser(c); user != "" {
			fields = append(fields, zap.String("user_id", user))
		}
		if c.Writer.Status() >= 500 {
			log.Warn("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
