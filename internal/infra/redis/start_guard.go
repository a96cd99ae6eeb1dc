package redis

import (
	"context"
	"fmt"
	"time"

	"edudesk-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the guard only if it still carries our token, so a guard that expired
// and was re-acquired by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StartGuard is a short-lived per-(user, quiz) mutex shared by all instances.
// It never waits: a held key is reported as domain.ErrSessionConflict.
type StartGuard struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewStartGuard(client *redis.Client, ttl time.Duration, log *zap.Logger) *StartGuard {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StartGuard{client: client, ttl: ttl, log: log}
}

func (g *StartGuard) Acquire(ctx context.Context, userID, quizID string) (func(), error) {
	key := startKey(userID, quizID)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire start guard: %w", err)
	}
	if !ok {
		return nil, domain.ErrSessionConflict
	}

	return func() {
		// The request context may already be cancelled when the caller releases.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			g.log.Warn("release start guard failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func startKey(userID, quizID string) string {
	return "quiz:start:" + userID + ":" + quizID
}
