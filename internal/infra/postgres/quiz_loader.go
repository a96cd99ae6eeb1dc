package postgres

import (
	"context"
	"errors"
	"fmt"

	"edudesk-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads published quizzes with their ordered questions and options.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz := domain.Quiz{ID: quizID}
	err := l.pool.QueryRow(ctx, `
		SELECT owner_id, title, difficulty, time_limit, created_at
		FROM quizzes WHERE id = $1`, quizID,
	).Scan(&quiz.OwnerID, &quiz.Title, &quiz.Difficulty, &quiz.TimeLimit, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT q.id, q.question_number, q.question_text, q.correct_answer,
		       COALESCE(q.explanation, ''), o.letter, o.option_text
		FROM quiz_questions q
		LEFT JOIN question_options o ON o.question_id = q.id
		WHERE q.quiz_id = $1
		ORDER BY q.question_number, o.letter`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q          domain.Question
			letter     *string
			optionText *string
		)
		if err := rows.Scan(&q.ID, &q.Number, &q.Text, &q.CorrectAnswer, &q.Explanation, &letter, &optionText); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		// Rows arrive grouped by question; start a new one when the id changes.
		if n := len(quiz.Questions); n == 0 || quiz.Questions[n-1].ID != q.ID {
			quiz.Questions = append(quiz.Questions, q)
		}
		if letter != nil {
			last := &quiz.Questions[len(quiz.Questions)-1]
			opt := domain.Option{Letter: *letter}
			if optionText != nil {
				opt.Text = *optionText
			}
			last.Options = append(last.Options, opt)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	return quiz, nil
}
