package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/domain"
	"edudesk-quiz-service/internal/infra/memory"
	"edudesk-quiz-service/internal/infra/postgres"
	pgmigrations "edudesk-quiz-service/internal/infra/postgres/migrations"
	infraredis "edudesk-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/sync/errgroup"
)

func TestSessionLifecycleOnPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, postgres.NewQuizLoader(pool), 5*time.Minute, nil)
	service := app.NewSessionService(postgres.NewSessionStore(db), quizRepo,
		app.WithStartGuard(infraredis.NewStartGuard(redisClient, 5*time.Second, nil)))

	quiz, err := quizRepo.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if len(quiz.Questions) != 2 || quiz.Questions[0].ID != "q1" || len(quiz.Questions[0].Options) != 4 {
		t.Fatalf("unexpected quiz shape: %+v", quiz)
	}

	view, err := service.Start(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.SaveAnswer(ctx, view.Session.ID, "u1", "q1", "B"); err != nil {
		t.Fatalf("save answer: %v", err)
	}
	if _, err := service.SaveAnswer(ctx, view.Session.ID, "u1", "q2", "A"); err != nil {
		t.Fatalf("save answer: %v", err)
	}

	done, err := service.Complete(ctx, view.Session.ID, "u1", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Attempt.Score != 1 || done.Attempt.TotalQuestions != 2 || done.Percentage != 50 {
		t.Fatalf("unexpected completion: %+v", done)
	}
	if _, err := service.Complete(ctx, view.Session.ID, "u1", nil); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected second completion rejected, got %v", err)
	}

	attempts, err := service.ListAttempts(ctx, "u1")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Answers["q2"] != "A" || attempts[0].Score != 1 {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
}

func TestConcurrentStartsKeepOneLiveSession(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	service := app.NewSessionService(postgres.NewSessionStore(db), memory.NewQuizRepository(postgres.NewQuizLoader(pool), time.Minute))

	ids := make([]string, 10)
	var g errgroup.Group
	for i := range ids {
		i := i
		g.Go(func() error {
			view, err := service.Start(ctx, "u1", "quiz-1")
			if errors.Is(err, domain.ErrSessionConflict) {
				return nil
			}
			if err != nil {
				return err
			}
			ids[i] = view.Session.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent start: %v", err)
	}

	var winner string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if winner == "" {
			winner = id
		}
		if id != winner {
			t.Fatalf("two live sessions handed out: %v", ids)
		}
	}
	if winner == "" {
		t.Fatalf("expected at least one start to succeed")
	}

	var live int
	err = db.NewSelect().
		TableExpr("quiz_sessions").
		ColumnExpr("count(*)").
		Where("user_id = ? AND quiz_id = ? AND status IN ('active', 'paused')", "u1", "quiz-1").
		Scan(ctx, &live)
	if err != nil {
		t.Fatalf("count live sessions: %v", err)
	}
	if live != 1 {
		t.Fatalf("expected one live session row, got %d", live)
	}
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	statements := []string{
		`INSERT INTO quizzes (id, owner_id, title, difficulty, time_limit) VALUES ('quiz-1', 'instructor-1', 'Arithmetic', 'easy', 1800)`,
		`INSERT INTO quiz_questions (id, quiz_id, question_number, question_text, correct_answer) VALUES
			('q2', 'quiz-1', 2, 'What is 3 * 3?', 'C'),
			('q1', 'quiz-1', 1, 'What is 2 + 2?', 'B')`,
		`INSERT INTO question_options (question_id, letter, option_text) VALUES
			('q1', 'A', '3'), ('q1', 'B', '4'), ('q1', 'C', '5'), ('q1', 'D', '22'),
			('q2', 'A', '6'), ('q2', 'B', '8'), ('q2', 'C', '9'), ('q2', 'D', '12')`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
