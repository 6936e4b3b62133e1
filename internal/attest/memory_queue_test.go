package attest

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
)

func TestMemoryQueueBlocksExternalProducers(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := queue.Publish(ctx, []byte("b")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the full queue to apply backpressure, got %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- queue.Publish(context.Background(), []byte("c")) }()
	time.Sleep(20 * time.Millisecond)
	_ = queue.Close()
	select {
	case err := <-blocked:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("expected queue failure after close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close should release blocked producers")
	}
}

func TestMemoryQueueConsumerRepublishNeverBlocks(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumerCtx := context.WithValue(context.Background(), consumerKey{}, queue)
	done := make(chan error, 1)
	go func() { done <- queue.Publish(consumerCtx, []byte("retry")) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("republish: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("republish from a consumer blocked on a full queue")
	}
	if queue.Len() != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", queue.Len())
	}

	payload, ok := queue.popRetry()
	if !ok || string(payload) != "retry" {
		t.Fatalf("unexpected retry %q", payload)
	}
}
