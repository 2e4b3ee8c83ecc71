package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/outbox"
	"github.com/matchbook/exchange-engine/internal/store"
)

func appendEvent(t *testing.T, ms *store.MemoryStore, id, topic string) {
	t.Helper()
	err := ms.InTx(context.Background(), func(uow store.UnitOfWork) error {
		return uow.AppendOutbox(&model.OutboxEvent{
			ID:          id,
			Topic:       topic,
			AggregateID: "agg-" + id,
			Payload:     []byte(`{}`),
			VisibleAt:   time.Now().UTC().Add(-time.Second),
			CreatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunOnce_DeliversAndAcks(t *testing.T) {
	ms := store.NewMemoryStore()
	appendEvent(t, ms, "ev1", "ex.order.placed")
	appendEvent(t, ms, "ev2", "ex.order.filled")

	var delivered []string
	d := outbox.NewDispatcher(ms, outbox.SinkFunc(func(_ context.Context, ev model.OutboxEvent) error {
		delivered = append(delivered, ev.ID)
		return nil
	}), outbox.Config{})

	n, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(delivered) != 2 {
		t.Fatalf("claimed %d, delivered %v", n, delivered)
	}

	// Acked events never come back.
	n, err = d.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("redelivered acked events: %d", n)
	}
}

func TestRunOnce_RetriesWithBackoff(t *testing.T) {
	ms := store.NewMemoryStore()
	appendEvent(t, ms, "ev1", "ex.order.placed")

	attempts := 0
	d := outbox.NewDispatcher(ms, outbox.SinkFunc(func(_ context.Context, ev model.OutboxEvent) error {
		attempts++
		if attempts == 1 {
			return errors.New("downstream unavailable")
		}
		return nil
	}), outbox.Config{RetryBackoff: time.Nanosecond, MaxAttempts: 5})

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d", attempts)
	}

	// The nack made the event visible again after the (tiny) backoff.
	time.Sleep(time.Millisecond)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("event not redelivered: attempts = %d", attempts)
	}

	// Delivered on the second try; nothing further pending.
	n, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("unexpected pending events: %d", n)
	}
}

func TestRunOnce_DeadLettersAfterMaxAttempts(t *testing.T) {
	ms := store.NewMemoryStore()
	appendEvent(t, ms, "ev1", "ex.order.placed")

	attempts := 0
	d := outbox.NewDispatcher(ms, outbox.SinkFunc(func(_ context.Context, ev model.OutboxEvent) error {
		attempts++
		return errors.New("permanent failure")
	}), outbox.Config{RetryBackoff: time.Nanosecond, MaxAttempts: 2})

	for i := 0; i < 4; i++ {
		if _, err := d.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	// Two failed attempts dead-letter the event; later polls skip it.
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	d := outbox.NewDispatcher(ms, outbox.SinkFunc(func(_ context.Context, _ model.OutboxEvent) error {
		return nil
	}), outbox.Config{PollInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
