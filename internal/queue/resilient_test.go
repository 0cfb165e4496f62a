package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/certledger/internal/queue"
)

// flakyPublisher fails the first failures calls.
type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []queue.Envelope
}

func (f *flakyPublisher) Publish(_ context.Context, env queue.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, env)
	return nil
}

func TestResilientPublisher_RetriesTransientFailures(t *testing.T) {
	next := &flakyPublisher{failures: 2}
	p := queue.NewResilientPublisher(next, queue.ResilientConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	})

	if err := p.Publish(context.Background(), queue.Envelope{ID: "e1", Type: "course.added"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if next.calls != 3 {
		t.Errorf("calls = %d; want 3", next.calls)
	}
	if len(next.got) != 1 || next.got[0].ID != "e1" {
		t.Errorf("delivered = %+v", next.got)
	}
}

func TestResilientPublisher_OpensCircuit(t *testing.T) {
	next := &flakyPublisher{failures: 100}
	p := queue.NewResilientPublisher(next, queue.ResilientConfig{
		MaxAttempts:    1,
		InitialDelay:   time.Millisecond,
		FailuresToTrip: 1,
		OpenTimeout:    time.Hour,
	})

	ctx := context.Background()
	if err := p.Publish(ctx, queue.Envelope{ID: "e1"}); err == nil {
		t.Fatal("expected first publish to fail")
	}
	if err := p.Publish(ctx, queue.Envelope{ID: "e2"}); err == nil {
		t.Fatal("expected open circuit to fail")
	}
	if next.calls != 1 {
		t.Errorf("calls = %d; want 1 while circuit is open", next.calls)
	}
}

func TestDefaultResilientConfig(t *testing.T) {
	cfg := queue.DefaultResilientConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d; want 3", cfg.MaxAttempts)
	}
	if cfg.FailuresToTrip != 5 {
		t.Errorf("FailuresToTrip = %d; want 5", cfg.FailuresToTrip)
	}
}

func TestLogPublisher(t *testing.T) {
	p := queue.NewLogPublisher(nil)
	if err := p.Publish(context.Background(), queue.Envelope{ID: "e1", Type: "course.added"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}
