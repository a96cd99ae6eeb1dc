package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"edudesk-quiz-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(sampleQuiz())}
	repo := NewQuizRepository(loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if quiz.Questions[0].ID != "q1" {
		t.Fatalf("expected questions ordered by number, got %+v", quiz.Questions)
	}
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected cache hit, loader calls %d", got)
	}
}

func TestQuizRepositoryReloadsAfterTTL(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(sampleQuiz())}
	repo := NewQuizRepository(loader, time.Minute)
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz after ttl: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", got)
	}
}

func TestQuizRepositoryDoesNotCacheMisses(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader()}
	repo := NewQuizRepository(loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := repo.GetQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected misses to reach the loader, got %d", got)
	}
}

type countingLoader struct {
	QuizLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Arithmetic",
		TimeLimit: 1800,
		Questions: []domain.Question{
			{
				ID:            "q2",
				Number:        2,
				Text:          "What is 3 * 3?",
				CorrectAnswer: "C",
				Options:       []domain.Option{{Letter: "A", Text: "6"}, {Letter: "B", Text: "8"}, {Letter: "C", Text: "9"}, {Letter: "D", Text: "12"}},
			},
			{
				ID:            "q1",
				Number:        1,
				Text:          "What is 2 + 2?",
				CorrectAnswer: "B",
				Options:       []domain.Option{{Letter: "A", Text: "3"}, {Letter: "B", Text: "4"}, {Letter: "C", Text: "5"}, {Letter: "D", Text: "22"}},
			},
		},
	}
}
