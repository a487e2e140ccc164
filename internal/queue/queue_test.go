package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	if err := q.Publish(ctx, Message{Type: TypeSweep}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-messages:
		if msg.Type != TypeSweep {
			t.Fatalf("unexpected type %q", msg.Type)
		}
		if msg.EnqueuedAt.IsZero() {
			t.Fatalf("expected enqueue time to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}

	cancel()
	select {
	case _, ok := <-messages:
		if ok {
			t.Fatalf("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Message{Type: TypeSweep}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: TypeSweep}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled on full queue, got %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	raw, err := serialize(Message{Type: TypeSweep, Body: []byte(`{"reason":"admin"}`)})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	msg, err := deserialize(raw)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if msg.Type != TypeSweep || string(msg.Body) != `{"reason":"admin"}` {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := deserialize("sweep|"); err == nil {
		t.Fatalf("expected malformed payload to be rejected")
	}
	if _, err := deserialize(`{"body":{}}`); err == nil {
		t.Fatalf("expected message without type to be rejected")
	}
}

func TestRunDispatchesByType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(4)
	_ = q.Publish(ctx, Message{Type: "unknown"})
	_ = q.Publish(ctx, Message{Type: TypeSweep})

	var handled int32
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, q, map[string]HandlerFunc{
			TypeSweep: func(ctx context.Context, msg Message) error {
				atomic.AddInt32(&handled, 1)
				cancel()
				return nil
			},
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if atomic.LoadInt32(&handled) != 1 {
		t.Fatalf("expected sweep handler to run once, got %d", handled)
	}
}
