// Package outbox relays committed registry events from the store's outbox
// table to a queue publisher.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/felixgeelhaar/certledger/internal/queue"
	"github.com/felixgeelhaar/certledger/internal/registry"
)

// DefaultSchedule is the cron spec for periodic flushes.
const DefaultSchedule = "@every 5s"

// DefaultBatchSize bounds how many records one store read returns.
const DefaultBatchSize = 100

// Config holds relay configuration
type Config struct {
	Schedule  string
	BatchSize int
	Logger    *slog.Logger
}

// Relay moves pending outbox records to a publisher in commit order.
type Relay struct {
	source    registry.Outbox
	publisher queue.Publisher
	schedule  string
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	flushMu sync.Mutex

	cron   *cron.Cron
	notify chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a relay. The schedule is validated here so a bad config fails
// at startup.
func New(source registry.Outbox, publisher queue.Publisher, cfg Config) (*Relay, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid relay schedule %q: %w", cfg.Schedule, err)
	}

	return &Relay{
		source:    source,
		publisher: publisher,
		schedule:  cfg.Schedule,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		now:       time.Now,
		notify:    make(chan struct{}, 1),
	}, nil
}

// Flush publishes every pending record and returns how many were published.
// It stops at the first publish failure; records already published in that
// batch are still marked so they are not sent twice.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	total := 0
	for {
		records, err := r.source.PendingEvents(ctx, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("read outbox: %w", err)
		}
		if len(records) == 0 {
			return total, nil
		}

		published := make([]string, 0, len(records))
		var pubErr error
		for _, rec := range records {
			if err := r.publisher.Publish(ctx, envelope(rec)); err != nil {
				pubErr = fmt.Errorf("publish %s %s: %w", rec.Type, rec.ID, err)
				break
			}
			published = append(published, rec.ID)
		}

		if err := r.source.MarkPublished(ctx, published, r.now().UTC()); err != nil {
			return total, fmt.Errorf("mark outbox published: %w", err)
		}
		total += len(published)

		if pubErr != nil {
			return total, pubErr
		}
		if len(records) < r.batchSize {
			return total, nil
		}
	}
}

// Notify requests a flush soon. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start runs the cron schedule and the notify loop until Stop or ctx ends.
func (r *Relay) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.flushAndLog(ctx, "schedule") }); err != nil {
		r.cancel()
		return fmt.Errorf("schedule relay: %w", err)
	}
	r.cron.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				r.flushAndLog(ctx, "notify")
			}
		}
	}()

	r.logger.Info("outbox relay started", "schedule", r.schedule, "batch_size", r.batchSize)
	return nil
}

// Stop halts scheduling, waits for running flushes, then drains once more
// with ctx so events committed during shutdown are not left behind.
func (r *Relay) Stop(ctx context.Context) {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.flushAndLog(ctx, "shutdown")
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) flushAndLog(ctx context.Context, trigger string) {
	n, err := r.Flush(ctx)
	if err != nil {
		r.logger.Warn("outbox flush failed", "trigger", trigger, "published", n, "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("outbox flushed", "trigger", trigger, "published", n)
	}
}

func envelope(rec registry.OutboxRecord) queue.Envelope {
	return queue.Envelope{
		ID:         rec.ID,
		Type:       rec.Type,
		Aggregate:  rec.Aggregate,
		OccurredAt: rec.OccurredAt,
		Payload:    json.RawMessage(rec.Payload),
	}
}
