package memory

import (
	"context"
	"sort"

	"edudesk-quiz-service/internal/domain"
)

// StaticQuizLoader serves a fixed set of quizzes. Used for tests and for running without Postgres.
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes ...domain.Quiz) *StaticQuizLoader {
	l := &StaticQuizLoader{quizzes: make(map[string]domain.Quiz, len(quizzes))}
	for _, quiz := range quizzes {
		questions := make([]domain.Question, len(quiz.Questions))
		copy(questions, quiz.Questions)
		sort.SliceStable(questions, func(i, j int) bool { return questions[i].Number < questions[j].Number })
		quiz.Questions = questions
		l.quizzes[quiz.ID] = quiz
	}
	return l
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := l.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}
