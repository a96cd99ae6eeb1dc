package app

import (
	"context"
	"errors"
	"time"

	"edudesk-quiz-service/internal/domain"
	"edudesk-quiz-service/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionView is a session together with its freshly recomputed clock.
type SessionView struct {
	Session   domain.Session
	QuizTitle string
	Clock     domain.Clock
	Resumed   bool
}

// SessionSummary is the short form returned by the active-session probes.
type SessionSummary struct {
	SessionID       string
	QuizID          string
	QuizTitle       string
	Clock           domain.Clock
	CurrentQuestion int
}

// CheckResult answers "does this user have a live session for this quiz".
type CheckResult struct {
	HasActiveSession bool
	Expired          bool
	Summary          SessionSummary
}

// UpdateInput carries the optional fields of a bulk session update. A nil Answers map
// leaves the stored answers untouched; a non-nil one replaces them wholesale.
type UpdateInput struct {
	Answers         map[string]string
	CurrentQuestion *int
}

// Completion is the result of finalizing a session.
type Completion struct {
	Attempt    domain.Attempt
	Percentage float64
}

// SessionService contains the quiz session use cases.
type SessionService struct {
	sessions      SessionRepository
	quizzes       QuizRepository
	guard         StartGuard
	publisher     AttemptPublisher
	log           *zap.Logger
	now           func() time.Time
	newID         func() string
	strictOptions bool
}

// Option customises a SessionService.
type Option func(*SessionService)

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *SessionService) { s.log = log }
}

func WithStartGuard(guard StartGuard) Option {
	return func(s *SessionService) { s.guard = guard }
}

func WithPublisher(publisher AttemptPublisher) Option {
	return func(s *SessionService) { s.publisher = publisher }
}

// WithStrictOptions makes answer writes reject letters outside A-D.
func WithStrictOptions(strict bool) Option {
	return func(s *SessionService) { s.strictOptions = strict }
}

func NewSessionService(sessions SessionRepository, quizzes QuizRepository, opts ...Option) *SessionService {
	s := &SessionService{
		sessions: sessions,
		quizzes:  quizzes,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resumes the user's live session for the quiz or creates a new one. A live session
// found past its deadline is marked expired and replaced within the same transaction.
func (s *SessionService) Start(ctx context.Context, userID, quizID string) (SessionView, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return SessionView{}, err
	}

	// A guard outage degrades to an unguarded start.
	if s.guard != nil {
		release, err := s.guard.Acquire(ctx, userID, quizID)
		switch {
		case errors.Is(err, domain.ErrSessionConflict):
			return SessionView{}, err
		case err != nil:
			s.log.Warn("start guard unavailable, continuing without it",
				zap.String("user_id", userID), zap.String("quiz_id", quizID), zap.Error(err))
		default:
			defer release()
		}
	}

	var (
		view      SessionView
		expiredID string
	)
	err = s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
		now := s.now()
		existing, err := tx.FindLive(ctx, userID, quizID)
		switch {
		case err == nil:
			clock, _ := existing.Touch(quiz.TimeLimit, now)
			existing.LastActivity = now
			if err := tx.Update(ctx, &existing); err != nil {
				return err
			}
			if !clock.Expired {
				view = SessionView{Session: existing, QuizTitle: quiz.Title, Clock: clock, Resumed: true}
				return nil
			}
			expiredID = existing.ID
		case !errors.Is(err, domain.ErrSessionNotFound):
			return err
		}

		session := domain.Session{
			ID:             s.newID(),
			UserID:         userID,
			QuizID:         quizID,
			StartedAt:      now,
			LastActivity:   now,
			CurrentAnswers: map[string]string{},
			Status:         domain.StatusActive,
		}
		if err := tx.Insert(ctx, &session); err != nil {
			return err
		}
		view = SessionView{
			Session:   session,
			QuizTitle: quiz.Title,
			Clock:     domain.ComputeStatus(session.StartedAt, quiz.TimeLimit, now),
		}
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}

	if expiredID != "" {
		s.expired(expiredID, userID, quizID)
	}
	if view.Resumed {
		metrics.SessionsStarted.WithLabelValues("resumed").Inc()
		s.log.Info("session resumed", sessionFields(view.Session)...)
	} else {
		metrics.SessionsStarted.WithLabelValues("created").Inc()
		s.log.Info("session started", sessionFields(view.Session)...)
	}
	return view, nil
}

// Check probes for a live, unexpired session of the user on the quiz.
func (s *SessionService) Check(ctx context.Context, userID, quizID string) (CheckResult, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return CheckResult{}, err
	}

	var (
		result    CheckResult
		expiredID string
	)
	err = s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
		session, err := tx.FindLive(ctx, userID, quizID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		clock, changed := session.Touch(quiz.TimeLimit, s.now())
		if changed {
			if err := tx.Update(ctx, &session); err != nil {
				return err
			}
		}
		if clock.Expired {
			result.Expired = true
			expiredID = session.ID
			return nil
		}
		result.HasActiveSession = true
		result.Summary = summarize(session, quiz, clock)
		return nil
	})
	if err != nil {
		return CheckResult{}, err
	}
	if expiredID != "" {
		s.expired(expiredID, userID, quizID)
	}
	return result, nil
}

// CheckAny lists every live, unexpired session of the user. Quizzes are loaded before the
// session rows are locked; a session started in between gets one more pass.
func (s *SessionService) CheckAny(ctx context.Context, userID string) ([]SessionSummary, error) {
	quizIDs, err := s.sessions.LiveQuizIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	quizzes := make(map[string]domain.Quiz, len(quizIDs))
	if err := s.loadQuizzes(ctx, quizzes, quizIDs); err != nil {
		return nil, err
	}

	var (
		summaries []SessionSummary
		expired   []domain.Session
		missing   []string
	)
	for pass := 0; pass < 2; pass++ {
		if pass > 0 {
			if len(missing) == 0 {
				break
			}
			if err := s.loadQuizzes(ctx, quizzes, missing); err != nil {
				return nil, err
			}
		}
		err := s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
			sessions, err := tx.ListLive(ctx, userID)
			if err != nil {
				return err
			}
			summaries = make([]SessionSummary, 0, len(sessions))
			missing = missing[:0]
			for i := range sessions {
				session := sessions[i]
				quiz, ok := quizzes[session.QuizID]
				if !ok {
					missing = append(missing, session.QuizID)
					continue
				}
				if quiz.ID == "" {
					// deleted quiz
					continue
				}

				clock, changed := session.Touch(quiz.TimeLimit, s.now())
				if changed {
					if err := tx.Update(ctx, &session); err != nil {
						return err
					}
				}
				if clock.Expired {
					expired = append(expired, session)
					continue
				}
				summaries = append(summaries, summarize(session, quiz, clock))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, session := range expired {
		s.expired(session.ID, session.UserID, session.QuizID)
	}
	return summaries, nil
}

// loadQuizzes fills dst for each id. A quiz that no longer exists is stored as the zero value
// so its sessions are skipped.
func (s *SessionService) loadQuizzes(ctx context.Context, dst map[string]domain.Quiz, quizIDs []string) error {
	for _, id := range quizIDs {
		if _, ok := dst[id]; ok {
			continue
		}
		quiz, err := s.quizzes.GetQuiz(ctx, id)
		if errors.Is(err, domain.ErrQuizNotFound) {
			dst[id] = domain.Quiz{}
			continue
		}
		if err != nil {
			return err
		}
		dst[id] = quiz
	}
	return nil
}

// Get returns the full snapshot of a session owned by the user.
func (s *SessionService) Get(ctx context.Context, sessionID, userID string) (SessionView, error) {
	var (
		view       SessionView
		nowExpired bool
	)
	err := s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
		session, quiz, err := s.load(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}

		wasLive := session.Status.Live()
		clock, changed := session.Touch(quiz.TimeLimit, s.now())
		if changed {
			if err := tx.Update(ctx, &session); err != nil {
				return err
			}
		}
		nowExpired = wasLive && session.Status == domain.StatusExpired
		view = SessionView{Session: session, QuizTitle: quiz.Title, Clock: clock}
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	if nowExpired {
		s.expired(view.Session.ID, view.Session.UserID, view.Session.QuizID)
	}
	return view, nil
}

// Update replaces the session's answers and/or question cursor. The clock is recomputed first;
// once the deadline has passed the write is rejected with domain.ErrSessionExpired.
func (s *SessionService) Update(ctx context.Context, sessionID, userID string, in UpdateInput) (domain.Clock, error) {
	if in.Answers != nil && s.strictOptions {
		for questionID, option := range in.Answers {
			if questionID == "" || !domain.ValidOption(option) {
				return domain.Clock{}, domain.ErrInvalidAnswer
			}
		}
	}

	return s.mutate(ctx, sessionID, userID, func(session *domain.Session) {
		if in.Answers != nil {
			session.CurrentAnswers = domain.CopyAnswers(in.Answers)
		}
		if in.CurrentQuestion != nil {
			session.CurrentQuestion = *in.CurrentQuestion
		}
	})
}

// SaveAnswer records one answer, overwriting any earlier answer to the same question.
func (s *SessionService) SaveAnswer(ctx context.Context, sessionID, userID, questionID, option string) (domain.Clock, error) {
	if questionID == "" || option == "" {
		return domain.Clock{}, domain.ErrInvalidAnswer
	}
	if s.strictOptions && !domain.ValidOption(option) {
		return domain.Clock{}, domain.ErrInvalidAnswer
	}

	return s.mutate(ctx, sessionID, userID, func(session *domain.Session) {
		if session.CurrentAnswers == nil {
			session.CurrentAnswers = map[string]string{}
		}
		session.CurrentAnswers[questionID] = option
	})
}

// mutate applies change to a live session after the expiration gate. An expired verdict is
// committed (status and elapsed time) before domain.ErrSessionExpired is returned.
func (s *SessionService) mutate(ctx context.Context, sessionID, userID string, change func(*domain.Session)) (domain.Clock, error) {
	var (
		clock        domain.Clock
		gateErr      error
		newlyExpired bool
		quizID       string
	)
	err := s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
		session, quiz, err := s.load(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status == domain.StatusCompleted {
			return domain.ErrSessionCompleted
		}
		quizID = session.QuizID

		now := s.now()
		wasLive := session.Status.Live()
		var changed bool
		clock, changed = session.Touch(quiz.TimeLimit, now)
		if clock.Expired || !wasLive {
			gateErr = domain.ErrSessionExpired
			newlyExpired = wasLive
			if changed {
				return tx.Update(ctx, &session)
			}
			return nil
		}

		change(&session)
		session.LastActivity = now
		return tx.Update(ctx, &session)
	})
	if err != nil {
		return domain.Clock{}, err
	}
	if gateErr != nil {
		if newlyExpired {
			s.expired(sessionID, userID, quizID)
		}
		return domain.Clock{Elapsed: clock.Elapsed, Expired: true}, gateErr
	}
	return clock, nil
}

// Complete finalizes the session into a scored attempt. It is allowed after expiry, but a
// session can be completed only once; later calls fail with domain.ErrSessionCompleted.
// A nil answers map scores the session's own accumulated answers.
func (s *SessionService) Complete(ctx context.Context, sessionID, userID string, answers map[string]string) (Completion, error) {
	var attempt domain.Attempt
	err := s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
		session, quiz, err := s.load(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status == domain.StatusCompleted {
			return domain.ErrSessionCompleted
		}

		now := s.now()
		session.Touch(quiz.TimeLimit, now)
		session.Status = domain.StatusCompleted
		session.LastActivity = now
		if err := tx.Update(ctx, &session); err != nil {
			return err
		}

		final := session.CurrentAnswers
		if answers != nil {
			final = answers
		}

		attempt = domain.Attempt{
			ID:             s.newID(),
			UserID:         session.UserID,
			QuizID:         session.QuizID,
			TotalQuestions: len(quiz.Questions),
			TimeTaken:      session.TimeElapsed,
			Answers:        domain.CopyAnswers(final),
			CompletedAt:    now,
		}
		if err := tx.InsertAttempt(ctx, &attempt); err != nil {
			return err
		}

		attempt.Score, attempt.AttemptedQuestions = domain.ScoreAnswers(quiz.Questions, attempt.Answers)
		attempt.TotalQuestions = len(quiz.Questions)
		return tx.UpdateAttemptScore(ctx, &attempt)
	})
	if err != nil {
		return Completion{}, err
	}

	metrics.AttemptsCompleted.Inc()
	s.log.Info("session completed",
		zap.String("session_id", sessionID),
		zap.String("attempt_id", attempt.ID),
		zap.String("user_id", attempt.UserID),
		zap.String("quiz_id", attempt.QuizID),
		zap.Int("score", attempt.Score),
		zap.Int("total_questions", attempt.TotalQuestions),
	)
	s.publish(ctx, attempt)

	return Completion{Attempt: attempt, Percentage: attempt.Percentage()}, nil
}

// SubmitInput is a one-shot submission that bypasses the session timer.
type SubmitInput struct {
	QuizID    string
	Answers   map[string]string
	TimeTaken int
}

// Submission is a scored one-shot submission with its per-question breakdown.
type Submission struct {
	Attempt    domain.Attempt
	Percentage float64
	Results    []domain.QuestionResult
}

// Submit scores answers sent in one request and records them as an attempt. Time taken is
// reported by the client, so no session is created or touched.
func (s *SessionService) Submit(ctx context.Context, userID string, in SubmitInput) (Submission, error) {
	if in.QuizID == "" || in.Answers == nil || in.TimeTaken < 1 {
		return Submission{}, domain.ErrInvalidSubmission
	}
	for questionID, option := range in.Answers {
		if questionID == "" || len(option) > 1 || (s.strictOptions && !domain.ValidOption(option)) {
			return Submission{}, domain.ErrInvalidSubmission
		}
	}

	quiz, err := s.quizzes.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return Submission{}, err
	}

	attempt := domain.Attempt{
		ID:             s.newID(),
		UserID:         userID,
		QuizID:         quiz.ID,
		TotalQuestions: len(quiz.Questions),
		TimeTaken:      in.TimeTaken,
		Answers:        domain.CopyAnswers(in.Answers),
		CompletedAt:    s.now(),
	}
	attempt.Score, attempt.AttemptedQuestions = domain.ScoreAnswers(quiz.Questions, attempt.Answers)

	err = s.sessions.RunInTx(ctx, func(ctx context.Context, tx SessionTx) error {
		return tx.InsertAttempt(ctx, &attempt)
	})
	if err != nil {
		return Submission{}, err
	}

	metrics.AttemptsCompleted.Inc()
	s.log.Info("quiz submitted",
		zap.String("attempt_id", attempt.ID),
		zap.String("user_id", userID),
		zap.String("quiz_id", attempt.QuizID),
		zap.Int("score", attempt.Score),
		zap.Int("total_questions", attempt.TotalQuestions),
	)
	s.publish(ctx, attempt)

	return Submission{
		Attempt:    attempt,
		Percentage: attempt.Percentage(),
		Results:    domain.GradeAnswers(quiz.Questions, attempt.Answers),
	}, nil
}

// ListAttempts returns the user's finished attempts, newest first.
func (s *SessionService) ListAttempts(ctx context.Context, userID string) ([]domain.Attempt, error) {
	return s.sessions.ListAttempts(ctx, userID)
}

// load fetches a session owned by userID together with its quiz. Sessions of other users are
// reported as not found.
func (s *SessionService) load(ctx context.Context, tx SessionTx, sessionID, userID string) (domain.Session, domain.Quiz, error) {
	session, err := tx.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, err
	}
	if session.UserID != userID {
		return domain.Session{}, domain.Quiz{}, domain.ErrSessionNotFound
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Session{}, domain.Quiz{}, err
	}
	return session, quiz, nil
}

func (s *SessionService) publish(ctx context.Context, attempt domain.Attempt) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAttemptCompleted(ctx, attempt); err != nil {
		metrics.AttemptEventsFailed.Inc()
		s.log.Warn("publish attempt event failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
	}
}

func (s *SessionService) expired(sessionID, userID, quizID string) {
	metrics.SessionsExpired.Inc()
	s.log.Info("session expired",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.String("quiz_id", quizID),
	)
}

func summarize(session domain.Session, quiz domain.Quiz, clock domain.Clock) SessionSummary {
	return SessionSummary{
		SessionID:       session.ID,
		QuizID:          session.QuizID,
		QuizTitle:       quiz.Title,
		Clock:           clock,
		CurrentQuestion: session.CurrentQuestion,
	}
}

func sessionFields(session domain.Session) []zap.Field {
	return []zap.Field{
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.String("quiz_id", session.QuizID),
	}
}
