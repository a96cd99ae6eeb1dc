package http

import (
	"errors"
	"net/http"

	"edudesk-quiz-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func respond(c *gin.Context, status int, message string, fields gin.H) {
	body := gin.H{"success": status < http.StatusBadRequest, "message": message}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

func respondOK(c *gin.Context, message string, fields gin.H) {
	respond(c, http.StatusOK, message, fields)
}

// respondError maps domain errors onto HTTP statuses. Unknown errors are logged and hidden
// behind a generic 500.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, message := errorStatus(err)
	switch status {
	case http.StatusGone:
		respond(c, status, message, gin.H{"expired": true, "time_remaining": 0})
	case http.StatusInternalServerError:
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("user_id", c.GetString(userIDKey)),
			zap.Error(err),
		)
		respond(c, status, message, nil)
	default:
		respond(c, status, message, nil)
	}
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound, "Quiz not found"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "Quiz session not found"
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone, "Quiz session has expired"
	case errors.Is(err, domain.ErrInvalidAnswer):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInvalidSubmission):
		return http.StatusBadRequest, "Invalid submission data"
	case errors.Is(err, domain.ErrSessionConflict):
		return http.StatusConflict, "Another quiz session is being started, retry shortly"
	case errors.Is(err, domain.ErrSessionCompleted):
		return http.StatusConflict, "Quiz session already completed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
