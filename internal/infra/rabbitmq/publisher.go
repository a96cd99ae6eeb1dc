package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"edudesk-quiz-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultQueue = "quiz.attempts"

// AttemptCompletedEvent is the message body published for every finished attempt.
type AttemptCompletedEvent struct {
	AttemptID          string    `json:"attempt_id"`
	UserID             string    `json:"user_id"`
	QuizID             string    `json:"quiz_id"`
	Score              int       `json:"score"`
	TotalQuestions     int       `json:"total_questions"`
	AttemptedQuestions int       `json:"attempted_questions"`
	Percentage         float64   `json:"percentage"`
	TimeTaken          int       `json:"time_taken"`
	CompletedAt        time.Time `json:"completed_at"`
}

func NewAttemptCompletedEvent(a domain.Attempt) AttemptCompletedEvent {
	return AttemptCompletedEvent{
		AttemptID:          a.ID,
		UserID:             a.UserID,
		QuizID:             a.QuizID,
		Score:              a.Score,
		TotalQuestions:     a.TotalQuestions,
		AttemptedQuestions: a.AttemptedQuestions,
		Percentage:         a.Percentage(),
		TimeTaken:          a.TimeTaken,
		CompletedAt:        a.CompletedAt,
	}
}

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher sends attempt events to a durable queue on the default exchange.
// amqp channels are not safe for concurrent publishing, so writes are serialised.
// A channel or connection closed by the broker is reopened on the next publish.
type Publisher struct {
	mu      sync.Mutex
	dial    func() (amqpChannel, io.Closer, error)
	conn    io.Closer
	channel amqpChannel
	queue   string
	log     *zap.Logger
}

func NewPublisher(url, queue string, log *zap.Logger) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}

	p := &Publisher{
		queue: queue,
		log:   log,
		dial:  func() (amqpChannel, io.Closer, error) { return dialQueue(url, queue) },
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.channelLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialQueue(url, queue string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	_, err = channel.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return channel, conn, nil
}

// channelLocked returns an open channel, redialing when the current one is gone.
func (p *Publisher) channelLocked() (amqpChannel, error) {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	p.resetLocked()

	channel, conn, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.channel, p.conn = channel, conn
	return channel, nil
}

func (p *Publisher) resetLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) PublishAttemptCompleted(ctx context.Context, attempt domain.Attempt) error {
	body, err := json.Marshal(NewAttemptCompletedEvent(attempt))
	if err != nil {
		return fmt.Errorf("encode attempt event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    attempt.ID,
		Timestamp:    time.Now(),
		Type:         "quiz.attempt.completed",
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for try := 0; ; try++ {
		channel, err := p.channelLocked()
		if err != nil {
			return fmt.Errorf("reopen rabbitmq channel: %w", err)
		}
		err = channel.PublishWithContext(
			ctx,
			"",      // default exchange
			p.queue, // routing key
			false,   // mandatory
			false,   // immediate
			msg,
		)
		if errors.Is(err, amqp.ErrClosed) && try == 0 {
			p.log.Warn("rabbitmq channel closed, reconnecting", zap.String("queue", p.queue))
			p.resetLocked()
			continue
		}
		if err != nil {
			return fmt.Errorf("publish attempt event: %w", err)
		}
		break
	}
	p.log.Debug("attempt event published", zap.String("attempt_id", attempt.ID), zap.String("queue", p.queue))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}
