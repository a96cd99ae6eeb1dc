package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 64 << 10

// WSHandler serves a live channel for one quiz session. The server never pushes timer ticks;
// every reply carries a freshly recomputed clock.
type WSHandler struct {
	service  *app.SessionService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, log *zap.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Option     string `json:"option"`
}

type updatePayload struct {
	CurrentAnswers  map[string]string `json:"currentAnswers"`
	CurrentQuestion *int              `json:"currentQuestion"`
}

type completePayload struct {
	Answers map[string]string `json:"answers"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type sessionSnapshot struct {
	SessionID       string            `json:"sessionId"`
	QuizID          string            `json:"quizId"`
	QuizTitle       string            `json:"quizTitle"`
	Status          domain.Status     `json:"status"`
	CurrentAnswers  map[string]string `json:"currentAnswers"`
	CurrentQuestion int               `json:"currentQuestion"`
	StartedAt       time.Time         `json:"startedAt"`
	domain.Clock
}

type answerSaved struct {
	QuestionID string `json:"questionId"`
	Option     string `json:"option"`
	domain.Clock
}

type completedPayload struct {
	AttemptID          string            `json:"attemptId"`
	Score              int               `json:"score"`
	TotalQuestions     int               `json:"totalQuestions"`
	AttemptedQuestions int               `json:"attemptedQuestions"`
	Percentage         float64           `json:"percentage"`
	TimeTaken          int               `json:"timeTaken"`
	Answers            map[string]string `json:"answers"`
}

type errorPayload struct {
	Message string `json:"message"`
	Expired bool   `json:"expired,omitempty"`
}

// ServeWS upgrades an authenticated request for a session the caller owns.
func (h *WSHandler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)
	sessionID := c.Param("session_id")

	// Ownership is checked before the upgrade so failures are plain HTTP errors.
	view, err := h.service.Get(ctx, sessionID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// Single writer: gorilla connections allow one concurrent writer only.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	push(outboundMessage[any]{Type: "session", Payload: snapshot(view)})

	completed := false
	for !completed {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "sync":
			view, err := h.service.Get(ctx, sessionID, userID)
			if err != nil {
				push(h.errorMessage(sessionID, err))
				continue
			}
			push(outboundMessage[any]{Type: "session", Payload: snapshot(view)})
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			questionID := strings.TrimSpace(payload.QuestionID)
			clock, err := h.service.SaveAnswer(ctx, sessionID, userID, questionID, payload.Option)
			if err != nil {
				push(h.errorMessage(sessionID, err))
				continue
			}
			push(outboundMessage[any]{Type: "answerSaved", Payload: answerSaved{QuestionID: questionID, Option: payload.Option, Clock: clock}})
		case "update":
			var payload updatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid update payload"}})
				continue
			}
			clock, err := h.service.Update(ctx, sessionID, userID, app.UpdateInput{
				Answers:         payload.CurrentAnswers,
				CurrentQuestion: payload.CurrentQuestion,
			})
			if err != nil {
				push(h.errorMessage(sessionID, err))
				continue
			}
			push(outboundMessage[any]{Type: "updated", Payload: clock})
		case "complete":
			var payload completePayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid complete payload"}})
					continue
				}
			}
			done, err := h.service.Complete(ctx, sessionID, userID, payload.Answers)
			if err != nil {
				push(h.errorMessage(sessionID, err))
				continue
			}
			push(outboundMessage[any]{Type: "completed", Payload: completedPayload{
				AttemptID:          done.Attempt.ID,
				Score:              done.Attempt.Score,
				TotalQuestions:     done.Attempt.TotalQuestions,
				AttemptedQuestions: done.Attempt.AttemptedQuestions,
				Percentage:         done.Percentage,
				TimeTaken:          done.Attempt.TimeTaken,
				Answers:            done.Attempt.Answers,
			}})
			completed = true
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(send)
	<-writerDone
	if completed {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "quiz completed"),
			time.Now().Add(time.Second))
	}
}

func (h *WSHandler) errorMessage(sessionID string, err error) outboundMessage[any] {
	status, message := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("ws request failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{
		Message: message,
		Expired: status == http.StatusGone,
	}}
}

func snapshot(view app.SessionView) sessionSnapshot {
	return sessionSnapshot{
		SessionID:       view.Session.ID,
		QuizID:          view.Session.QuizID,
		QuizTitle:       view.QuizTitle,
		Status:          view.Session.Status,
		CurrentAnswers:  view.Session.CurrentAnswers,
		CurrentQuestion: view.Session.CurrentQuestion,
		StartedAt:       view.Session.StartedAt,
		Clock:           view.Clock,
	}
}
