package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
)

type recordingAggregator struct {
	mu    sync.Mutex
	calls []uuid.UUID
	block chan struct{}
	err   error
}

func (a *recordingAggregator) Recompute(context.Context, uuid.UUID) (*model.NetworkStats, error) {
	return nil, nil
}

func (a *recordingAggregator) Propagate(_ context.Context, user uuid.UUID) error {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	a.calls = append(a.calls, user)
	a.mu.Unlock()
	return a.err
}

func (a *recordingAggregator) RebuildAll(context.Context, int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, uuid.Nil)
	return 0, a.err
}

func (a *recordingAggregator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func TestSyncDispatcherSwallowsErrors(t *testing.T) {
	agg := &recordingAggregator{err: errors.New("boom")}
	d := NewSyncDispatcher(agg, nil)
	d.Dispatch(t.Context(), uuid.New())
	if agg.count() != 1 {
		t.Fatalf("calls = %d, want 1", agg.count())
	}
}

func TestAsyncDispatcherDedupesPendingUsers(t *testing.T) {
	agg := &recordingAggregator{}
	d := NewAsyncDispatcher(agg, DispatcherOptions{Workers: 1, QueueSize: 8}, nil)
	user := uuid.New()

	// Nothing consumes the queue yet, so repeats collapse onto one entry.
	for i := 0; i < 5; i++ {
		d.Dispatch(t.Context(), user)
	}
	d.Dispatch(t.Context(), uuid.New())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if agg.count() != 2 {
		t.Fatalf("calls = %d, want 2", agg.count())
	}
}

func TestAsyncDispatcherRunsInlineWhenFull(t *testing.T) {
	agg := &recordingAggregator{}
	d := NewAsyncDispatcher(agg, DispatcherOptions{Workers: 1, QueueSize: 1}, nil)

	d.Dispatch(t.Context(), uuid.New())
	d.Dispatch(t.Context(), uuid.New())
	if agg.count() != 1 {
		t.Fatalf("inline calls = %d, want 1", agg.count())
	}
}

func TestAsyncDispatcherWorkersProcessQueue(t *testing.T) {
	agg := &recordingAggregator{}
	d := NewAsyncDispatcher(agg, DispatcherOptions{Workers: 2, QueueSize: 16}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 6; i++ {
		d.Dispatch(t.Context(), uuid.New())
	}
	deadline := time.Now().Add(5 * time.Second)
	for agg.count() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if agg.count() != 6 {
		t.Fatalf("calls = %d, want 6", agg.count())
	}

	// After shutdown dispatches still run, inline.
	d.Dispatch(t.Context(), uuid.New())
	if agg.count() != 7 {
		t.Fatalf("calls after stop = %d, want 7", agg.count())
	}
}
