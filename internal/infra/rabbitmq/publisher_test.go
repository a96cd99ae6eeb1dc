package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"edudesk-quiz-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestAttemptCompletedEventCarriesPercentage(t *testing.T) {
	completed := time.Date(2024, 11, 22, 10, 30, 0, 0, time.UTC)
	event := NewAttemptCompletedEvent(domain.Attempt{
		ID:                 "a1",
		UserID:             "u1",
		QuizID:             "quiz-1",
		Score:              1,
		TotalQuestions:     3,
		AttemptedQuestions: 2,
		TimeTaken:          95,
		Answers:            map[string]string{"q1": "A"},
		CompletedAt:        completed,
	})
	if event.Percentage != 33.33 {
		t.Fatalf("expected 33.33, got %v", event.Percentage)
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"attempt_id", "user_id", "quiz_id", "score", "total_questions", "attempted_questions", "percentage", "time_taken", "completed_at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing %q in %s", key, body)
		}
	}
	if _, ok := fields["answers"]; ok {
		t.Fatalf("answers must not be published: %s", body)
	}
}

type fakeChannel struct {
	closed     bool
	publishErr error
	published  []amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newFakePublisher(channels ...*fakeChannel) (*Publisher, *int) {
	dials := 0
	p := &Publisher{
		queue: DefaultQueue,
		log:   zap.NewNop(),
		dial: func() (amqpChannel, io.Closer, error) {
			if dials >= len(channels) {
				return nil, nil, errors.New("broker unreachable")
			}
			ch := channels[dials]
			dials++
			return ch, &fakeConn{}, nil
		},
	}
	return p, &dials
}

func TestPublisherReopensClosedChannel(t *testing.T) {
	ctx := context.Background()
	first, second := &fakeChannel{}, &fakeChannel{}
	p, dials := newFakePublisher(first, second)

	if err := p.PublishAttemptCompleted(ctx, domain.Attempt{ID: "a1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	first.closed = true // broker restart

	if err := p.PublishAttemptCompleted(ctx, domain.Attempt{ID: "a2"}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
	if *dials != 2 {
		t.Fatalf("expected a redial, got %d dials", *dials)
	}
	if len(first.published) != 1 || len(second.published) != 1 || second.published[0].MessageId != "a2" {
		t.Fatalf("unexpected deliveries: first=%d second=%d", len(first.published), len(second.published))
	}
}

func TestPublisherRetriesOnceOnErrClosed(t *testing.T) {
	ctx := context.Background()
	stale := &fakeChannel{publishErr: amqp.ErrClosed}
	fresh := &fakeChannel{}
	p, dials := newFakePublisher(stale, fresh)

	if err := p.PublishAttemptCompleted(ctx, domain.Attempt{ID: "a1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if *dials != 2 || len(fresh.published) != 1 || !stale.closed {
		t.Fatalf("expected the stale channel replaced, dials=%d fresh=%d", *dials, len(fresh.published))
	}

	fresh.closed = true
	if err := p.PublishAttemptCompleted(ctx, domain.Attempt{ID: "a2"}); err == nil {
		t.Fatalf("expected an error while the broker is unreachable")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
