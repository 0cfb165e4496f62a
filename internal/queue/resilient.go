package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// ResilientPublisher wraps a Publisher with retry and a circuit breaker.
type ResilientPublisher struct {
	next           Publisher
	circuitBreaker circuitbreaker.CircuitBreaker[struct{}]
	retrier        retry.Retry[struct{}]
	logger         *slog.Logger
}

// ResilientConfig holds configuration for the publisher wrapper
type ResilientConfig struct {
	// MaxAttempts per publish, including the first (default: 3)
	MaxAttempts int

	// InitialDelay before the first retry (default: 200ms)
	InitialDelay time.Duration

	// FailuresToTrip opens the breaker after this many consecutive failures (default: 5)
	FailuresToTrip int

	// OpenTimeout is how long the breaker stays open (default: 30s)
	OpenTimeout time.Duration

	Logger *slog.Logger
}

// DefaultResilientConfig returns defaults for broker publishing
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		FailuresToTrip: 5,
		OpenTimeout:    30 * time.Second,
	}
}

// NewResilientPublisher wraps next with fortify retry and circuit breaker.
func NewResilientPublisher(next Publisher, cfg ResilientConfig) *ResilientPublisher {
	def := DefaultResilientConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.FailuresToTrip <= 0 {
		cfg.FailuresToTrip = def.FailuresToTrip
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rp := &ResilientPublisher{next: next, logger: cfg.Logger}

	rp.circuitBreaker = circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.FailuresToTrip
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			rp.logger.Warn("publisher circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})

	rp.retrier = retry.New[struct{}](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	})

	return rp
}

// Publish retries transient failures inside the circuit breaker.
func (p *ResilientPublisher) Publish(ctx context.Context, env Envelope) error {
	_, err := p.circuitBreaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return p.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.next.Publish(ctx, env)
		})
	})
	return err
}
