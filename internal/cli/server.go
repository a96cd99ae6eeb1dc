package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edudesk-quiz-service/internal/app"
	"edudesk-quiz-service/internal/config"
	"edudesk-quiz-service/internal/domain"
	"edudesk-quiz-service/internal/infra/memory"
	"edudesk-quiz-service/internal/infra/postgres"
	"edudesk-quiz-service/internal/infra/rabbitmq"
	infraredis "edudesk-quiz-service/internal/infra/redis"
	"edudesk-quiz-service/internal/logger"
	"edudesk-quiz-service/internal/metrics"
	transport "edudesk-quiz-service/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) must be set")
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		loader   memory.QuizLoader
		sessions app.SessionRepository
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)
		sessions = postgres.NewSessionStore(db)
	} else {
		log.Warn("postgres not configured, using in-memory sessions and the demo quiz")
		loader = memory.NewStaticQuizLoader(demoQuiz())
		sessions = memory.NewSessionStore()
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithStrictOptions(cfg.Session.StrictOptions),
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL, log)
		guardTTL := config.TTLDuration(cfg.Redis.TTL, 5*time.Second)
		opts = append(opts, app.WithStartGuard(infraredis.NewStartGuard(redisClient, guardTTL, log)))
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)
		if err != nil {
			// Attempt events are best-effort; serve without them.
			log.Warn("rabbitmq unavailable, attempt events disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			opts = append(opts, app.WithPublisher(publisher))
		}
	}

	service := app.NewSessionService(sessions, quizRepo, opts...)

	limit := cfg.RateLimit.Requests
	if limit == 0 {
		limit = 60
	}

	metrics.Init()
	router := transport.NewRouter(service, log, transport.RouterConfig{
		JWTSecret:         []byte(cfg.Auth.JWTSecret),
		RateLimitRequests: limit,
		RateLimitWindow:   config.TTLDuration(cfg.RateLimit.Window, time.Minute),
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting quiz session service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-serveErr:
		log.Error("server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoQuiz is served when no database is configured.
func demoQuiz() domain.Quiz {
	option := func(letter, text string) domain.Option { return domain.Option{Letter: letter, Text: text} }
	return domain.Quiz{
		ID:         "demo",
		OwnerID:    "system",
		Title:      "Demo quiz",
		Difficulty: "easy",
		TimeLimit:  600,
		Questions: []domain.Question{
			{
				ID:            "demo-q1",
				Number:        1,
				Text:          "What is 2 + 2?",
				CorrectAnswer: "B",
				Options:       []domain.Option{option("A", "3"), option("B", "4"), option("C", "5"), option("D", "22")},
			},
			{
				ID:            "demo-q2",
				Number:        2,
				Text:          "Which planet is closest to the sun?",
				CorrectAnswer: "A",
				Options:       []domain.Option{option("A", "Mercury"), option("B", "Venus"), option("C", "Earth"), option("D", "Mars")},
				Explanation:   "Mercury orbits at about 0.39 AU.",
			},
		},
		CreatedAt: time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC),
	}
}
