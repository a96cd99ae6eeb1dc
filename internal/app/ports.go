package app

import (
	"context"

	"edudesk-quiz-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionRepository abstracts where sessions and attempts are stored (in-memory, Postgres).
// Implementations must enforce at most one active or paused session per (user, quiz) themselves;
// a violating write fails with domain.ErrSessionConflict.
type SessionRepository interface {
	// RunInTx runs fn atomically. If fn returns an error, none of its writes are kept.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx SessionTx) error) error
	// LiveQuizIDs returns the quizzes the user has live sessions for, without locking rows.
	LiveQuizIDs(ctx context.Context, userID string) ([]string, error)
	// ListAttempts returns the user's attempts, newest first.
	ListAttempts(ctx context.Context, userID string) ([]domain.Attempt, error)
}

// SessionTx is the unit of work handed to RunInTx. Reads lock the rows they return until commit.
type SessionTx interface {
	FindLive(ctx context.Context, userID, quizID string) (domain.Session, error)
	ListLive(ctx context.Context, userID string) ([]domain.Session, error)
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	Insert(ctx context.Context, session *domain.Session) error
	Update(ctx context.Context, session *domain.Session) error
	InsertAttempt(ctx context.Context, attempt *domain.Attempt) error
	UpdateAttemptScore(ctx context.Context, attempt *domain.Attempt) error
}

// StartGuard serialises concurrent starts for the same (user, quiz) across instances.
// Acquire fails with domain.ErrSessionConflict when another start holds the key.
type StartGuard interface {
	Acquire(ctx context.Context, userID, quizID string) (release func(), err error)
}

// AttemptPublisher announces finished attempts to downstream consumers.
type AttemptPublisher interface {
	PublishAttemptCompleted(ctx context.Context, attempt domain.Attempt) error
}
