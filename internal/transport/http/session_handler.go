package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionHandler exposes the quiz session use cases over REST.
type SessionHandler struct {
	service *app.SessionService
	log     *zap.Logger
}

func NewSessionHandler(service *app.SessionService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{service: service, log: log}
}

type updateRequest struct {
	CurrentAnswers  map[string]string `json:"current_answers"`
	CurrentQuestion *int              `json:"current_question"`
}

type saveAnswerRequest struct {
	QuestionID     questionID `json:"question_id"`
	SelectedOption string     `json:"selected_option"`
}

type submitRequest struct {
	QuizID    string            `json:"quiz_id"`
	Answers   map[string]string `json:"answers"`
	TimeTaken int               `json:"time_taken"`
}

type completeRequest struct {
	Answers map[string]string `json:"answers"`
}

// questionID accepts both string and numeric ids.
type questionID string

func (q *questionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = questionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = questionID(n.String())
	return nil
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	view, err := h.service.Start(c.Request.Context(), currentUser(c), c.Param("quiz_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	message := "Quiz session started successfully"
	if view.Resumed {
		message = "Resuming existing quiz session"
	}
	respondOK(c, message, gin.H{
		"session_id":       view.Session.ID,
		"resumed":          view.Resumed,
		"time_elapsed":     view.Clock.Elapsed,
		"time_remaining":   view.Clock.Remaining,
		"current_answers":  view.Session.CurrentAnswers,
		"current_question": view.Session.CurrentQuestion,
		"started_at":       formatTime(view.Session.StartedAt),
	})
}

func (h *SessionHandler) CheckActiveSession(c *gin.Context) {
	result, err := h.service.Check(c.Request.Context(), currentUser(c), c.Param("quiz_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	fields := gin.H{"has_active_session": result.HasActiveSession}
	switch {
	case result.HasActiveSession:
		fields["session_id"] = result.Summary.SessionID
		fields["time_elapsed"] = result.Summary.Clock.Elapsed
		fields["time_remaining"] = result.Summary.Clock.Remaining
		fields["current_question"] = result.Summary.CurrentQuestion
	case result.Expired:
		fields["expired"] = true
	}
	respondOK(c, "Active session checked", fields)
}

func (h *SessionHandler) CheckAnyActiveSession(c *gin.Context) {
	summaries, err := h.service.CheckAny(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	sessions := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		sessions = append(sessions, gin.H{
			"session_id":       s.SessionID,
			"quiz_id":          s.QuizID,
			"quiz_title":       s.QuizTitle,
			"time_elapsed":     s.Clock.Elapsed,
			"time_remaining":   s.Clock.Remaining,
			"current_question": s.CurrentQuestion,
		})
	}
	respondOK(c, "Active sessions checked", gin.H{
		"has_active_sessions": len(sessions) > 0,
		"active_sessions":     sessions,
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), c.Param("session_id"), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Quiz session retrieved successfully", gin.H{
		"session_id":       view.Session.ID,
		"quiz_id":          view.Session.QuizID,
		"quiz_title":       view.QuizTitle,
		"time_elapsed":     view.Clock.Elapsed,
		"time_remaining":   view.Clock.Remaining,
		"current_answers":  view.Session.CurrentAnswers,
		"current_question": view.Session.CurrentQuestion,
		"status":           view.Session.Status,
		"is_expired":       view.Clock.Expired,
		"started_at":       formatTime(view.Session.StartedAt),
	})
}

func (h *SessionHandler) UpdateSession(c *gin.Context) {
	var req updateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respond(c, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	clock, err := h.service.Update(c.Request.Context(), c.Param("session_id"), currentUser(c), app.UpdateInput{
		Answers:         req.CurrentAnswers,
		CurrentQuestion: req.CurrentQuestion,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Quiz session updated successfully", gin.H{
		"time_elapsed":   clock.Elapsed,
		"time_remaining": clock.Remaining,
		"is_expired":     clock.Expired,
	})
}

func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	var req saveAnswerRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respond(c, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	questionID := strings.TrimSpace(string(req.QuestionID))
	clock, err := h.service.SaveAnswer(c.Request.Context(), c.Param("session_id"), currentUser(c), questionID, req.SelectedOption)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Answer saved successfully", gin.H{
		"question_id":     questionID,
		"selected_option": req.SelectedOption,
		"time_elapsed":    clock.Elapsed,
		"time_remaining":  clock.Remaining,
	})
}

func (h *SessionHandler) CompleteSession(c *gin.Context) {
	var req completeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respond(c, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	done, err := h.service.Complete(c.Request.Context(), c.Param("session_id"), currentUser(c), req.Answers)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Quiz completed successfully", gin.H{
		"attempt_id":          done.Attempt.ID,
		"score":               done.Attempt.Score,
		"total_questions":     done.Attempt.TotalQuestions,
		"attempted_questions": done.Attempt.AttemptedQuestions,
		"percentage":          done.Percentage,
		"time_taken":          done.Attempt.TimeTaken,
		"answers":             done.Attempt.Answers,
	})
}

// SubmitQuiz scores a whole quiz sent in one request, without a timed session.
func (h *SessionHandler) SubmitQuiz(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "Invalid submission data", nil)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), currentUser(c), app.SubmitInput{
		QuizID:    strings.TrimSpace(req.QuizID),
		Answers:   req.Answers,
		TimeTaken: req.TimeTaken,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	questions := make([]gin.H, 0, len(result.Results))
	for _, r := range result.Results {
		var userAnswer any
		if r.Answered {
			userAnswer = r.UserAnswer
		}
		questions = append(questions, gin.H{
			"question_id":    r.QuestionID,
			"question_text":  r.QuestionText,
			"user_answer":    userAnswer,
			"correct_answer": r.CorrectAnswer,
			"is_correct":     r.IsCorrect,
			"explanation":    r.Explanation,
		})
	}
	respondOK(c, "Quiz submitted successfully", gin.H{"data": gin.H{
		"attempt_id":          result.Attempt.ID,
		"score":               result.Attempt.Score,
		"total_questions":     result.Attempt.TotalQuestions,
		"attempted_questions": result.Attempt.AttemptedQuestions,
		"percentage_score":    result.Percentage,
		"time_taken":          result.Attempt.TimeTaken,
		"question_results":    questions,
	}})
}

func (h *SessionHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.service.ListAttempts(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	data := make([]gin.H, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptJSON(a))
	}
	respondOK(c, "Quiz attempts retrieved successfully", gin.H{"data": data})
}

func attemptJSON(a domain.Attempt) gin.H {
	return gin.H{
		"id":                  a.ID,
		"quiz_id":             a.QuizID,
		"score":               a.Score,
		"total_questions":     a.TotalQuestions,
		"attempted_questions": a.AttemptedQuestions,
		"percentage_score":    a.Percentage(),
		"time_taken":          a.TimeTaken,
		"answers":             a.Answers,
		"completed_at":        formatTime(a.CompletedAt),
	}
}

// bindOptionalJSON decodes the request body into dst; an empty body leaves dst untouched.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
