package domain

import "time"

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Live reports whether the status takes part in the one-live-session-per-(user, quiz) rule.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusPaused
}

// Option is one lettered choice of a question.
type Option struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

// Question models an MCQ question with exactly one correct letter.
type Question struct {
	ID            string   `json:"id"`
	Number        int      `json:"number"`
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
	Options       []Option `json:"options"`
}

// Quiz is a published, immutable collection of questions.
type Quiz struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	Title      string     `json:"title"`
	Difficulty string     `json:"difficulty"`
	TimeLimit  int        `json:"timeLimit"` // seconds
	Questions  []Question `json:"questions"` // ordered by Number
	CreatedAt  time.Time  `json:"createdAt"`
}

// Session is a user's in-progress, timed attempt at one quiz.
type Session struct {
	ID              string
	UserID          string
	QuizID          string
	StartedAt       time.Time
	LastActivity    time.Time
	TimeElapsed     int
	CurrentAnswers  map[string]string
	CurrentQuestion int
	Status          Status
}

// Attempt is the immutable, scored result of a completed session.
type Attempt struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"userId"`
	QuizID             string            `json:"quizId"`
	Score              int               `json:"score"`
	TotalQuestions     int               `json:"totalQuestions"`
	AttemptedQuestions int               `json:"attemptedQuestions"`
	TimeTaken          int               `json:"timeTaken"`
	Answers            map[string]string `json:"answers"`
	CompletedAt        time.Time         `json:"completedAt"`
}

// Percentage is the derived percentage score of the attempt.
func (a Attempt) Percentage() float64 {
	return Percentage(a.Score, a.TotalQuestions)
}

// CopyAnswers returns an independent copy of an answer map; nil becomes an empty map.
func CopyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
