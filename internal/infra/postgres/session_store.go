package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const uniqueViolation = "23505"

var liveStatuses = []string{string(domain.StatusActive), string(domain.StatusPaused)}

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	ID              string            `bun:"id,pk"`
	UserID          string            `bun:"user_id"`
	QuizID          string            `bun:"quiz_id"`
	StartedAt       time.Time         `bun:"started_at"`
	LastActivity    time.Time         `bun:"last_activity"`
	TimeElapsed     int               `bun:"time_elapsed"`
	CurrentAnswers  map[string]string `bun:"current_answers,type:jsonb"`
	CurrentQuestion int               `bun:"current_question"`
	Status          string            `bun:"status"`
}

type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_attempts"`

	ID                 string            `bun:"id,pk"`
	UserID             string            `bun:"user_id"`
	QuizID             string            `bun:"quiz_id"`
	Score              int               `bun:"score"`
	TotalQuestions     int               `bun:"total_questions"`
	AttemptedQuestions int               `bun:"attempted_questions"`
	TimeTaken          int               `bun:"time_taken"`
	Answers            map[string]string `bun:"answers,type:jsonb"`
	CompletedAt        time.Time         `bun:"completed_at"`
}

// SessionStore persists sessions and attempts in Postgres. The one-live-session rule is the
// partial unique index unique_active_session_per_user_quiz; violations surface as
// domain.ErrSessionConflict.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.SessionTx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &sessionTx{tx: tx})
	})
}

// LiveQuizIDs is a plain read; rows are locked only inside RunInTx.
func (s *SessionStore) LiveQuizIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*sessionRow)(nil)).
		ColumnExpr("DISTINCT quiz_id").
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(liveStatuses)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list live quiz ids: %w", err)
	}
	return ids, nil
}

func (s *SessionStore) ListAttempts(ctx context.Context, userID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("completed_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type sessionTx struct {
	tx bun.Tx
}

func (t *sessionTx) FindLive(ctx context.Context, userID, quizID string) (domain.Session, error) {
	var row sessionRow
	err := t.tx.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("quiz_id = ?", quizID).
		Where("status IN (?)", bun.In(liveStatuses)).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Session{}, sessionErr("find live session", err)
	}
	return row.toDomain(), nil
}

func (t *sessionTx) ListLive(ctx context.Context, userID string) ([]domain.Session, error) {
	var rows []sessionRow
	err := t.tx.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(liveStatuses)).
		Order("started_at ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (t *sessionTx) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	var row sessionRow
	err := t.tx.NewSelect().
		Model(&row).
		Where("id = ?", sessionID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return domain.Session{}, sessionErr("get session", err)
	}
	return row.toDomain(), nil
}

func (t *sessionTx) Insert(ctx context.Context, session *domain.Session) error {
	row := newSessionRow(*session)
	if _, err := t.tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return sessionErr("insert session", err)
	}
	return nil
}

func (t *sessionTx) Update(ctx context.Context, session *domain.Session) error {
	row := newSessionRow(*session)
	res, err := t.tx.NewUpdate().
		Model(&row).
		Column("last_activity", "time_elapsed", "current_answers", "current_question", "status").
		WherePK().
		Exec(ctx)
	if err != nil {
		return sessionErr("update session", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (t *sessionTx) InsertAttempt(ctx context.Context, attempt *domain.Attempt) error {
	row := newAttemptRow(*attempt)
	if _, err := t.tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (t *sessionTx) UpdateAttemptScore(ctx context.Context, attempt *domain.Attempt) error {
	row := newAttemptRow(*attempt)
	_, err := t.tx.NewUpdate().
		Model(&row).
		Column("score", "total_questions", "attempted_questions").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update attempt score: %w", err)
	}
	return nil
}

// sessionErr maps driver errors onto domain errors.
func sessionErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation {
		return domain.ErrSessionConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func newSessionRow(s domain.Session) sessionRow {
	return sessionRow{
		ID:              s.ID,
		UserID:          s.UserID,
		QuizID:          s.QuizID,
		StartedAt:       s.StartedAt,
		LastActivity:    s.LastActivity,
		TimeElapsed:     s.TimeElapsed,
		CurrentAnswers:  domain.CopyAnswers(s.CurrentAnswers),
		CurrentQuestion: s.CurrentQuestion,
		Status:          string(s.Status),
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:              r.ID,
		UserID:          r.UserID,
		QuizID:          r.QuizID,
		StartedAt:       r.StartedAt,
		LastActivity:    r.LastActivity,
		TimeElapsed:     r.TimeElapsed,
		CurrentAnswers:  domain.CopyAnswers(r.CurrentAnswers),
		CurrentQuestion: r.CurrentQuestion,
		Status:          domain.Status(r.Status),
	}
}

func newAttemptRow(a domain.Attempt) attemptRow {
	return attemptRow{
		ID:                 a.ID,
		UserID:             a.UserID,
		QuizID:             a.QuizID,
		Score:              a.Score,
		TotalQuestions:     a.TotalQuestions,
		AttemptedQuestions: a.AttemptedQuestions,
		TimeTaken:          a.TimeTaken,
		Answers:            domain.CopyAnswers(a.Answers),
		CompletedAt:        a.CompletedAt,
	}
}

func (r attemptRow) toDomain() domain.Attempt {
	return domain.Attempt{
		ID:                 r.ID,
		UserID:             r.UserID,
		QuizID:             r.QuizID,
		Score:              r.Score,
		TotalQuestions:     r.TotalQuestions,
		AttemptedQuestions: r.AttemptedQuestions,
		TimeTaken:          r.TimeTaken,
		Answers:            domain.CopyAnswers(r.Answers),
		CompletedAt:        r.CompletedAt,
	}
}
