package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSessionNotFound is returned when a session does not exist or belongs to another user.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionExpired is returned when a mutation arrives after the session deadline.
	ErrSessionExpired = errors.New("quiz session has expired")
	// ErrSessionConflict is returned when another live session for the same user and quiz won a race.
	ErrSessionConflict = errors.New("a live quiz session already exists")
	// ErrSessionCompleted is returned when completing a session that is already completed.
	ErrSessionCompleted = errors.New("quiz session already completed")
	// ErrInvalidAnswer indicates a malformed answer submission.
	ErrInvalidAnswer = errors.New("question_id and selected_option are required")
	// ErrInvalidSubmission rejects a one-shot submission missing its quiz, answers or time taken.
	ErrInvalidSubmission = errors.New("invalid submission data")
)
