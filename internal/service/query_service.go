package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
)

// NetworkLevel holds the members found at one relative depth.
type NetworkLevel struct {
	Depth   int                 `json:"depth"`
	Members []model.NetworkNode `json:"members"`
}

// NetworkView is a user's network down to model.MaxLevels. Views may be
// served from cache and lag the tree by up to the configured TTL.
type NetworkView struct {
	UserID      uuid.UUID      `json:"user_id"`
	Levels      []NetworkLevel `json:"levels"`
	Total       int            `json:"total"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// QueryService serves read-only projections of the network.
type QueryService interface {
	// DirectReferralsOf lists edges the user created, newest first, limited to
	// status unless it is empty.
	DirectReferralsOf(ctx context.Context, user uuid.UUID, status model.EdgeStatus) ([]model.ReferralEdge, error)
	NetworkOf(ctx context.Context, user uuid.UUID) (*NetworkView, error)
	// StatsOf returns the cached stats, or zeroed stats for users nothing
	// has been aggregated for yet.
	StatsOf(ctx context.Context, user uuid.UUID) (*model.NetworkStats, error)
}

type queryService struct {
	edges    repository.ReferralEdgeRepository
	stats    repository.NetworkStatsRepository
	tree     NetworkTree
	state    repository.StateStore
	cacheTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewQueryService(
	store repository.Store,
	tree NetworkTree,
	state repository.StateStore,
	cacheTTL time.Duration,
	logger *zap.Logger,
) QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	repos := store.Repos()
	return &queryService{
		edges:    repos.Edges,
		stats:    repos.Stats,
		tree:     tree,
		state:    state,
		cacheTTL: cacheTTL,
		now:      utcNow,
		logger:   logger,
	}
}

func (s *queryService) DirectReferralsOf(ctx context.Context, user uuid.UUID, status model.EdgeStatus) ([]model.ReferralEdge, error) {
	edges, err := s.edges.ListByReferrer(ctx, user, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct referrals: %w", err)
	}
	return edges, nil
}

func (s *queryService) NetworkOf(ctx context.Context, user uuid.UUID) (*NetworkView, error) {
	if view := s.cachedView(ctx, user); view != nil {
		return view, nil
	}

	descendants, err := s.tree.DescendantsOf(ctx, user, model.MaxLevels)
	if err != nil {
		return nil, err
	}
	view := &NetworkView{
		UserID:      user,
		Levels:      []NetworkLevel{},
		Total:       len(descendants),
		GeneratedAt: s.now(),
	}
	for _, d := range descendants {
		last := len(view.Levels) - 1
		if last < 0 || view.Levels[last].Depth != d.RelativeDepth {
			view.Levels = append(view.Levels, NetworkLevel{Depth: d.RelativeDepth})
			last++
		}
		view.Levels[last].Members = append(view.Levels[last].Members, d.Node)
	}

	s.storeView(ctx, view)
	return view, nil
}

func (s *queryService) cachedView(ctx context.Context, user uuid.UUID) *NetworkView {
	if s.state == nil || s.cacheTTL <= 0 {
		return nil
	}
	raw, err := s.state.Get(ctx, repository.NetworkViewKey(user))
	if err != nil {
		s.logger.Warn("network view cache read failed", zap.Error(err))
		return nil
	}
	if raw == nil {
		return nil
	}
	var view NetworkView
	if err := json.Unmarshal(raw, &view); err != nil {
		s.logger.Warn("discarding malformed cached network view", zap.Error(err))
		return nil
	}
	return &view
}

func (s *queryService) storeView(ctx context.Context, view *NetworkView) {
	if s.state == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		s.logger.Warn("failed to encode network view", zap.Error(err))
		return
	}
	if err := s.state.Set(ctx, repository.NetworkViewKey(view.UserID), raw, s.cacheTTL); err != nil {
		s.logger.Warn("network view cache write failed", zap.Error(err))
	}
}

func (s *queryService) StatsOf(ctx context.Context, user uuid.UUID) (*model.NetworkStats, error) {
	stats, err := s.stats.Get(ctx, user)
	if err == nil {
		return stats, nil
	}
	if repository.IsNotFound(err) {
		return model.NewNetworkStats(user, 0, [model.MaxLevels]int{}, time.Time{}), nil
	}
	return nil, fmt.Errorf("failed to load network stats: %w", err)
}

var _ QueryService = (*queryService)(nil)
