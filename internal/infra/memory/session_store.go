package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Transactions are serialised by a single mutex and work on copies that are swapped in on commit.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	attempts map[string]domain.Attempt
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
		attempts: make(map[string]domain.Attempt),
	}
}

func (s *SessionStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.SessionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &sessionTx{
		sessions: make(map[string]domain.Session, len(s.sessions)),
		attempts: make(map[string]domain.Attempt, len(s.attempts)),
	}
	for id, session := range s.sessions {
		tx.sessions[id] = session
	}
	for id, attempt := range s.attempts {
		tx.attempts[id] = attempt
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.sessions = tx.sessions
	s.attempts = tx.attempts
	return nil
}

func (s *SessionStore) LiveQuizIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, session := range s.sessions {
		if session.UserID != userID || !session.Status.Live() {
			continue
		}
		if _, ok := seen[session.QuizID]; ok {
			continue
		}
		seen[session.QuizID] = struct{}{}
		out = append(out, session.QuizID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SessionStore) ListAttempts(_ context.Context, userID string) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Attempt, 0)
	for _, attempt := range s.attempts {
		if attempt.UserID == userID {
			out = append(out, cloneAttempt(attempt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

// sessionTx holds the working copy of one transaction. Stored values never share answer maps
// with callers.
type sessionTx struct {
	sessions map[string]domain.Session
	attempts map[string]domain.Attempt
}

func (tx *sessionTx) FindLive(_ context.Context, userID, quizID string) (domain.Session, error) {
	for _, session := range tx.sessions {
		if session.UserID == userID && session.QuizID == quizID && session.Status.Live() {
			return cloneSession(session), nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (tx *sessionTx) ListLive(_ context.Context, userID string) ([]domain.Session, error) {
	out := make([]domain.Session, 0)
	for _, session := range tx.sessions {
		if session.UserID == userID && session.Status.Live() {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (tx *sessionTx) Get(_ context.Context, sessionID string) (domain.Session, error) {
	session, ok := tx.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (tx *sessionTx) Insert(_ context.Context, session *domain.Session) error {
	if _, ok := tx.sessions[session.ID]; ok {
		return fmt.Errorf("insert session %s: duplicate id", session.ID)
	}
	if err := tx.checkLive(*session); err != nil {
		return err
	}
	tx.sessions[session.ID] = cloneSession(*session)
	return nil
}

func (tx *sessionTx) Update(_ context.Context, session *domain.Session) error {
	if _, ok := tx.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	if err := tx.checkLive(*session); err != nil {
		return err
	}
	tx.sessions[session.ID] = cloneSession(*session)
	return nil
}

func (tx *sessionTx) InsertAttempt(_ context.Context, attempt *domain.Attempt) error {
	if _, ok := tx.attempts[attempt.ID]; ok {
		return fmt.Errorf("insert attempt %s: duplicate id", attempt.ID)
	}
	tx.attempts[attempt.ID] = cloneAttempt(*attempt)
	return nil
}

func (tx *sessionTx) UpdateAttemptScore(_ context.Context, attempt *domain.Attempt) error {
	stored, ok := tx.attempts[attempt.ID]
	if !ok {
		return fmt.Errorf("update attempt %s: not found", attempt.ID)
	}
	stored.Score = attempt.Score
	stored.TotalQuestions = attempt.TotalQuestions
	stored.AttemptedQuestions = attempt.AttemptedQuestions
	tx.attempts[attempt.ID] = stored
	return nil
}

// checkLive mirrors the partial unique index on (user_id, quiz_id) for live statuses.
func (tx *sessionTx) checkLive(session domain.Session) error {
	if !session.Status.Live() {
		return nil
	}
	for id, other := range tx.sessions {
		if id != session.ID && other.UserID == session.UserID && other.QuizID == session.QuizID && other.Status.Live() {
			return domain.ErrSessionConflict
		}
	}
	return nil
}

func cloneSession(session domain.Session) domain.Session {
	session.CurrentAnswers = domain.CopyAnswers(session.CurrentAnswers)
	return session
}

func cloneAttempt(attempt domain.Attempt) domain.Attempt {
	attempt.Answers = domain.CopyAnswers(attempt.Answers)
	return attempt
}
