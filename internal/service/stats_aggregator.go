package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/metrics"
	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
)

var tracer = otel.Tracer("biliticket/referralhub/internal/service")

// StatsAggregator maintains the NetworkStats cache.
type StatsAggregator interface {
	// Recompute derives the user's stats from the tree and edges. Repeated
	// calls without tree changes leave the stored row untouched.
	Recompute(ctx context.Context, user uuid.UUID) (*model.NetworkStats, error)
	// Propagate recomputes fromUser and up to model.MaxLevels ancestors.
	// Each recomputation is independent; failures are joined under
	// ErrAggregationFailure after every target has been attempted.
	Propagate(ctx context.Context, fromUser uuid.UUID) error
	// RebuildAll recomputes every user in the network and returns how many
	// were refreshed.
	RebuildAll(ctx context.Context, pageSize int) (int, error)
}

type statsAggregator struct {
	tree   NetworkTree
	edges  repository.ReferralEdgeRepository
	nodes  repository.NetworkNodeRepository
	stats  repository.NetworkStatsRepository
	state  repository.StateStore
	retry  RetryPolicy
	now    func() time.Time
	logger *zap.Logger
}

type AggregatorOptions struct {
	Retry RetryPolicy
	Now   func() time.Time
}

func NewStatsAggregator(
	store repository.Store,
	tree NetworkTree,
	state repository.StateStore,
	opts AggregatorOptions,
	logger *zap.Logger,
) StatsAggregator {
	if opts.Now == nil {
		opts.Now = utcNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	repos := store.Repos()
	return &statsAggregator{
		tree:   tree,
		edges:  repos.Edges,
		nodes:  repos.Nodes,
		stats:  repos.Stats,
		state:  state,
		retry:  opts.Retry,
		now:    opts.Now,
		logger: logger,
	}
}

func (a *statsAggregator) Recompute(ctx context.Context, user uuid.UUID) (*model.NetworkStats, error) {
	descendants, err := a.tree.DescendantsOf(ctx, user, model.MaxLevels)
	if err != nil {
		return nil, err
	}
	var levels [model.MaxLevels]int
	for _, d := range descendants {
		levels[d.RelativeDepth-1]++
	}

	direct, err := a.edges.CountActiveByReferrer(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to count direct referrals: %w", err)
	}

	next := model.NewNetworkStats(user, int(direct), levels, a.now())

	current, err := a.stats.Get(ctx, user)
	switch {
	case err == nil:
		if current.SameCounts(next) {
			return current, nil
		}
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("failed to load network stats: %w", err)
	}

	if err := a.stats.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store network stats: %w", err)
	}
	return next, nil
}

func (a *statsAggregator) Propagate(ctx context.Context, fromUser uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "StatsAggregator.Propagate", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("user.id", fromUser.String()))

	var errs []error
	targets := []uuid.UUID{fromUser}
	ancestors, err := a.tree.AncestorsOf(ctx, fromUser, model.MaxLevels)
	if err != nil {
		errs = append(errs, fmt.Errorf("ancestors of %s: %w", fromUser, err))
	}
	targets = append(targets, ancestors...)

	for _, target := range targets {
		if err := a.recomputeWithRetry(ctx, target); err != nil {
			errs = append(errs, fmt.Errorf("recompute %s: %w", target, err))
		}
	}
	a.invalidate(ctx, targets)

	if len(errs) == 0 {
		return nil
	}
	metrics.AggregationFailures.Inc()
	err = fmt.Errorf("%w: %w", ErrAggregationFailure, errors.Join(errs...))
	span.RecordError(err)
	a.logger.Warn("stats propagation incomplete",
		zap.String("from_user", fromUser.String()),
		zap.Int("targets", len(targets)),
		zap.Int("failed", len(errs)),
		zap.Error(err))
	return err
}

func (a *statsAggregator) recomputeWithRetry(ctx context.Context, user uuid.UUID) error {
	err := a.retry.do(ctx, func() error {
		_, err := a.Recompute(ctx, user)
		return err
	})
	if err != nil {
		metrics.StatsRecomputations.WithLabelValues("error").Inc()
		return err
	}
	metrics.StatsRecomputations.WithLabelValues("ok").Inc()
	return nil
}

func (a *statsAggregator) invalidate(ctx context.Context, users []uuid.UUID) {
	if a.state == nil || len(users) == 0 {
		return
	}
	keys := make([]string, 0, len(users))
	for _, u := range users {
		keys = append(keys, repository.NetworkViewKey(u))
	}
	if err := a.state.Delete(ctx, keys...); err != nil {
		a.logger.Warn("failed to invalidate network views", zap.Error(err))
	}
}

func (a *statsAggregator) RebuildAll(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var (
		after     uuid.UUID
		refreshed int
		failed    int
	)
	for {
		ids, err := a.nodes.ListUserIDs(ctx, after, pageSize)
		if err != nil {
			return refreshed, fmt.Errorf("failed to page network nodes: %w", err)
		}
		for _, id := range ids {
			if err := a.recomputeWithRetry(ctx, id); err != nil {
				if ctx.Err() != nil {
					return refreshed, ctx.Err()
				}
				failed++
				a.logger.Warn("rebuild recompute failed", zap.String("user", id.String()), zap.Error(err))
				continue
			}
			refreshed++
		}
		a.invalidate(ctx, ids)
		if len(ids) < pageSize {
			break
		}
		after = ids[len(ids)-1]
	}
	if failed > 0 {
		return refreshed, fmt.Errorf("%w: %d users left stale", ErrAggregationFailure, failed)
	}
	return refreshed, nil
}

var _ StatsAggregator = (*statsAggregator)(nil)
