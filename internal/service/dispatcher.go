package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"biliticket/referralhub/internal/metrics"
)

// Dispatcher schedules stats propagation for a user whose network changed.
// Dispatch never reports failure: propagation errors are logged and left for
// the next trigger or reconciliation sweep.
type Dispatcher interface {
	Dispatch(ctx context.Context, user uuid.UUID)
}

type syncDispatcher struct {
	aggregator StatsAggregator
	logger     *zap.Logger
}

// NewSyncDispatcher propagates inline on the caller's goroutine.
func NewSyncDispatcher(aggregator StatsAggregator, logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &syncDispatcher{aggregator: aggregator, logger: logger}
}

func (d *syncDispatcher) Dispatch(ctx context.Context, user uuid.UUID) {
	if err := d.aggregator.Propagate(ctx, user); err != nil {
		d.logger.Warn("inline propagation failed", zap.String("user", user.String()), zap.Error(err))
	}
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
}

// AsyncDispatcher runs propagation on a bounded worker pool. Users already
// waiting in the queue are not queued twice.
type AsyncDispatcher struct {
	aggregator StatsAggregator
	logger     *zap.Logger
	workers    int
	queue      chan uuid.UUID

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	closed  bool
}

func NewAsyncDispatcher(aggregator StatsAggregator, opts DispatcherOptions, logger *zap.Logger) *AsyncDispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{
		aggregator: aggregator,
		logger:     logger,
		workers:    opts.Workers,
		queue:      make(chan uuid.UUID, opts.QueueSize),
		pending:    make(map[uuid.UUID]struct{}),
	}
}

// Dispatch enqueues user. When the queue is full or the pool has stopped,
// propagation runs inline instead of being dropped.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, user uuid.UUID) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.propagate(context.WithoutCancel(ctx), user)
		return
	}
	if _, queued := d.pending[user]; queued {
		d.mu.Unlock()
		return
	}
	select {
	case d.queue <- user:
		d.pending[user] = struct{}{}
		metrics.DispatchQueueDepth.Inc()
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		d.logger.Warn("propagation queue full, running inline", zap.String("user", user.String()))
		d.propagate(context.WithoutCancel(ctx), user)
	}
}

// Run starts the workers and blocks until ctx is cancelled. Work still queued
// at cancellation is drained before Run returns.
func (d *AsyncDispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	err := g.Wait()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.drain(context.WithoutCancel(ctx))
	return err
}

func (d *AsyncDispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case user := <-d.queue:
			d.take(user)
			d.propagate(context.WithoutCancel(ctx), user)
		}
	}
}

func (d *AsyncDispatcher) drain(ctx context.Context) {
	for {
		select {
		case user := <-d.queue:
			d.take(user)
			d.propagate(ctx, user)
		default:
			return
		}
	}
}

// take clears the pending mark so changes made during propagation queue again.
func (d *AsyncDispatcher) take(user uuid.UUID) {
	d.mu.Lock()
	delete(d.pending, user)
	d.mu.Unlock()
	metrics.DispatchQueueDepth.Dec()
}

func (d *AsyncDispatcher) propagate(ctx context.Context, user uuid.UUID) {
	if err := d.aggregator.Propagate(ctx, user); err != nil {
		d.logger.Warn("async propagation failed", zap.String("user", user.String()), zap.Error(err))
	}
}

var _ Dispatcher = (*AsyncDispatcher)(nil)
