// Package outbox delivers domain events written transactionally alongside
// state changes. The dispatcher polls the store for unprocessed events,
// claims them with a lease so crashed workers lose their claim after a
// timeout, and delivers each at least once: acknowledged on success,
// retried with backoff on failure, dead-lettered after repeated failures.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/matchbook/exchange-engine/internal/metrics"
	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/store"
)

// Sink receives claimed events. Delivery is at-least-once; implementations
// must tolerate duplicates.
type Sink interface {
	Deliver(ctx context.Context, ev model.OutboxEvent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev model.OutboxEvent) error

func (f SinkFunc) Deliver(ctx context.Context, ev model.OutboxEvent) error {
	return f(ctx, ev)
}

// Config tunes the dispatcher loop.
type Config struct {
	PollInterval time.Duration // delay between empty polls
	BatchSize    int           // events claimed per poll
	Lease        time.Duration // claim duration before another worker may steal
	RetryBackoff time.Duration // visibility delay after a failed delivery
	MaxAttempts  int           // dead-letter threshold
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

// Dispatcher drains the outbox into a Sink.
type Dispatcher struct {
	store store.Store
	sink  Sink
	cfg   Config
}

// NewDispatcher creates a dispatcher; zero Config fields get defaults.
func NewDispatcher(st store.Store, sink Sink, cfg Config) *Dispatcher {
	return &Dispatcher{store: st, sink: sink, cfg: cfg.withDefaults()}
}

// Run polls until the context is canceled. Delivery errors are logged and
// retried; only context cancellation ends the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := d.RunOnce(ctx)
		if err != nil {
			slog.Error("outbox poll failed", "error", err)
		}
		if n > 0 {
			// Drain a backlog without waiting out the poll interval.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and delivers it, returning the number of events
// claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	events, err := d.store.ClaimOutbox(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		if err := d.sink.Deliver(ctx, ev); err != nil {
			slog.Warn("outbox delivery failed",
				"event_id", ev.ID,
				"topic", ev.Topic,
				"attempt", ev.Attempts+1,
				"error", err)
			if nackErr := d.store.NackOutbox(ctx, ev.ID, d.cfg.RetryBackoff, d.cfg.MaxAttempts); nackErr != nil {
				slog.Error("outbox nack failed", "event_id", ev.ID, "error", nackErr)
				continue
			}
			if ev.Attempts+1 >= d.cfg.MaxAttempts {
				metrics.OutboxDead.Inc()
				slog.Error("outbox event dead-lettered",
					"event_id", ev.ID,
					"topic", ev.Topic,
					"attempts", ev.Attempts+1)
			}
			continue
		}
		if err := d.store.AckOutbox(ctx, ev.ID); err != nil {
			// The event stays claimed until the lease expires and is then
			// redelivered; the sink must tolerate the duplicate.
			slog.Error("outbox ack failed", "event_id", ev.ID, "error", err)
			continue
		}
		metrics.OutboxDelivered.WithLabelValues(ev.Topic).Inc()
	}
	return len(events), nil
}
