package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed quizzes.sql
var createQuizzesSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			return execScript(ctx, db, createQuizzesSQL)
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS question_options, quiz_questions, quizzes`)
			return err
		},
	)
}
