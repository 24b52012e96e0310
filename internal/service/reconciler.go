package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"biliticket/referralhub/internal/repository"
)

// Reconciler periodically rebuilds every user's stats so propagations that
// were lost or failed converge. A StateStore lock keeps concurrent instances
// from sweeping at the same time.
type Reconciler struct {
	aggregator StatsAggregator
	state      repository.StateStore
	interval   time.Duration
	pageSize   int
	logger     *zap.Logger
}

func NewReconciler(aggregator StatsAggregator, state repository.StateStore, interval time.Duration, pageSize int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		aggregator: aggregator,
		state:      state,
		interval:   interval,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval
// disables the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one rebuild if no other instance holds the sweep lock. It
// reports whether this instance ran the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (bool, error) {
	if r.state != nil {
		ttl := r.interval
		if ttl <= 0 {
			ttl = time.Hour
		}
		acquired, err := r.state.SetNX(ctx, repository.SweepLockKey(), []byte(time.Now().UTC().Format(time.RFC3339)), ttl)
		if err != nil {
			return false, err
		}
		if !acquired {
			r.logger.Debug("reconciliation sweep skipped, lock held elsewhere")
			return false, nil
		}
		defer func() {
			if err := r.state.Delete(context.WithoutCancel(ctx), repository.SweepLockKey()); err != nil {
				r.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	started := time.Now()
	n, err := r.aggregator.RebuildAll(ctx, r.pageSize)
	r.logger.Info("reconciliation sweep finished",
		zap.Int("users", n),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err))
	return true, err
}
