package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher delivers an event envelope somewhere.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Producer publishes envelopes to RabbitMQ
type Producer struct {
	conn *Connection
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// Publish sends env to the events queue.
func (p *Producer) Publish(ctx context.Context, env Envelope) error {
	if err := p.conn.PublishEnvelope(ctx, env); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}

	slog.Debug("published event",
		"event_id", env.ID,
		"type", env.Type,
		"aggregate", env.Aggregate,
	)
	return nil
}

// LogPublisher writes envelopes to a logger. It stands in for RabbitMQ when
// messaging is disabled so the outbox still drains.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs env at info level.
func (p *LogPublisher) Publish(ctx context.Context, env Envelope) error {
	p.logger.InfoContext(ctx, "event",
		"event_id", env.ID,
		"type", env.Type,
		"aggregate", env.Aggregate,
		"occurred_at", env.OccurredAt,
		"payload", string(env.Payload),
	)
	return nil
}
