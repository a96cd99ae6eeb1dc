package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"edudesk-quiz-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestStartGuardRejectsConcurrentHolder(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	guard := NewStartGuard(newClient(mr), time.Minute, nil)
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists("quiz:start:u1:quiz-1") {
		t.Fatalf("expected guard key to be set")
	}

	if _, err := guard.Acquire(ctx, "u1", "quiz-1"); !errors.Is(err, domain.ErrSessionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	otherRelease, err := guard.Acquire(ctx, "u2", "quiz-1")
	if err != nil {
		t.Fatalf("other user should not be blocked: %v", err)
	}
	otherRelease()

	release()
	if mr.Exists("quiz:start:u1:quiz-1") {
		t.Fatalf("expected guard key to be removed")
	}
	again, err := guard.Acquire(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	again()
}

func TestStartGuardReleaseKeepsForeignToken(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	guard := NewStartGuard(newClient(mr), time.Second, nil)
	release, err := guard.Acquire(context.Background(), "u1", "quiz-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// The guard expired and another instance took it.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("quiz:start:u1:quiz-1", "someone-else"); err != nil {
		t.Fatalf("set foreign token: %v", err)
	}

	release()
	if got, _ := mr.Get("quiz:start:u1:quiz-1"); got != "someone-else" {
		t.Fatalf("expected foreign guard to survive, got %q", got)
	}
}
