package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"edudesk-quiz-service/internal/domain"
)

func TestSessionErrMapsNoRows(t *testing.T) {
	if err := sessionErr("get session", fmt.Errorf("scan: %w", sql.ErrNoRows)); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	boom := errors.New("connection reset")
	err := sessionErr("get session", boom)
	if !errors.Is(err, boom) || errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestSessionRowDoesNotShareAnswers(t *testing.T) {
	session := domain.Session{
		ID:             "s1",
		UserID:         "u1",
		QuizID:         "quiz-1",
		StartedAt:      time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC),
		CurrentAnswers: map[string]string{"q1": "A"},
		Status:         domain.StatusPaused,
	}
	row := newSessionRow(session)
	row.CurrentAnswers["q1"] = "B"
	if session.CurrentAnswers["q1"] != "A" {
		t.Fatalf("row mutated caller answers")
	}

	back := row.toDomain()
	if back.Status != domain.StatusPaused || back.CurrentAnswers["q1"] != "B" || !back.StartedAt.Equal(session.StartedAt) {
		t.Fatalf("unexpected session from row: %+v", back)
	}
}
