package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
)

func TestReferralChainUpdatesEveryAncestor(t *testing.T) {
	e := newEngine(t)
	r := uuid.New()
	out, err := e.processor.ProcessReferral(t.Context(), "", r)
	if err != nil || !out.Accepted {
		t.Fatalf("root registration = %+v, %v", out, err)
	}
	if out.Node.Depth != 0 || out.Node.ParentID != nil {
		t.Fatalf("root node = %+v, want depth 0 without parent", out.Node)
	}
	a := e.join(t, r)
	b := e.join(t, a)

	bNode, err := e.tree.NodeOf(t.Context(), b)
	if err != nil {
		t.Fatalf("node of b: %v", err)
	}
	if bNode.Depth != 2 || *bNode.ParentID != a {
		t.Fatalf("b node = %+v, want depth 2 under a", bNode)
	}

	rStats, err := e.queries.StatsOf(t.Context(), r)
	if err != nil {
		t.Fatalf("stats of r: %v", err)
	}
	if rStats.DirectCount != 1 || rStats.Level1Count != 1 || rStats.Level2Count != 1 || rStats.TotalCount != 2 {
		t.Fatalf("r stats = %+v, want direct 1, level1 1, level2 1, total 2", rStats)
	}

	aStats, err := e.queries.StatsOf(t.Context(), a)
	if err != nil {
		t.Fatalf("stats of a: %v", err)
	}
	if aStats.DirectCount != 1 || aStats.Level1Count != 1 || aStats.TotalCount != 1 {
		t.Fatalf("a stats = %+v, want direct 1, level1 1, total 1", aStats)
	}

	bStats, err := e.queries.StatsOf(t.Context(), b)
	if err != nil {
		t.Fatalf("stats of b: %v", err)
	}
	if bStats.TotalCount != 0 || !bStats.LastUpdated.IsZero() {
		t.Fatalf("b stats = %+v, want zero defaults", bStats)
	}
}

func TestTotalCountIsSumOfLevels(t *testing.T) {
	e := newEngine(t)
	root := uuid.New()
	level1 := []uuid.UUID{e.join(t, root), e.join(t, root)}
	e.join(t, level1[0])
	e.join(t, level1[1])
	e.join(t, level1[1])

	stats, err := e.aggregator.Recompute(t.Context(), root)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	sum := 0
	for _, n := range stats.Levels() {
		sum += n
	}
	if stats.TotalCount != sum || sum != 5 {
		t.Fatalf("total = %d, sum(levels) = %d, want 5", stats.TotalCount, sum)
	}
	if stats.Level1Count != 2 || stats.Level2Count != 3 {
		t.Fatalf("levels = %v, want [2 3 0 0 0]", stats.Levels())
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	e := newEngine(t)
	root := uuid.New()
	e.join(t, root)

	first, err := e.aggregator.Recompute(t.Context(), root)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	second, err := e.aggregator.Recompute(t.Context(), root)
	if err != nil {
		t.Fatalf("recompute again: %v", err)
	}
	if !first.SameCounts(second) {
		t.Fatalf("counts changed: %+v -> %+v", first, second)
	}
	if !first.LastUpdated.Equal(second.LastUpdated) {
		t.Fatalf("last updated changed: %v -> %v", first.LastUpdated, second.LastUpdated)
	}
}

func TestLevelsStopAtFive(t *testing.T) {
	e := newEngine(t)
	chain := []uuid.UUID{uuid.New()}
	for i := 0; i < 7; i++ {
		chain = append(chain, e.join(t, chain[len(chain)-1]))
	}

	stats, err := e.queries.StatsOf(t.Context(), chain[0])
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := [model.MaxLevels]int{1, 1, 1, 1, 1}
	if stats.Levels() != want || stats.TotalCount != 5 {
		t.Fatalf("levels = %v total = %d, want %v total 5", stats.Levels(), stats.TotalCount, want)
	}
}

func TestPropagateReachesAtMostFiveAncestors(t *testing.T) {
	e := newEngine(t)
	tree := e.tree
	chain := []uuid.UUID{uuid.New()}
	for i := 0; i < 7; i++ {
		next := uuid.New()
		if _, err := tree.Attach(t.Context(), next, chain[len(chain)-1]); err != nil {
			t.Fatalf("attach: %v", err)
		}
		chain = append(chain, next)
	}
	leaf := chain[len(chain)-1]

	if err := e.aggregator.Propagate(t.Context(), leaf); err != nil {
		t.Fatalf("propagate: %v", err)
	}

	// leaf itself plus five ancestors are refreshed; the top two are not.
	for i, user := range chain {
		_, err := e.store.Repos().Stats.Get(t.Context(), user)
		refreshed := err == nil
		want := i >= len(chain)-1-model.MaxLevels
		if refreshed != want {
			t.Fatalf("chain[%d] refreshed = %v, want %v", i, refreshed, want)
		}
	}
}

func TestRevokedEdgeLeavesDirectCountButKeepsLevels(t *testing.T) {
	e := newEngine(t)
	r := uuid.New()
	a := e.join(t, r)

	if err := e.processor.RevokeReferral(t.Context(), a); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	stats, err := e.queries.StatsOf(t.Context(), r)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DirectCount != 0 || stats.Level1Count != 1 {
		t.Fatalf("stats = %+v, want direct 0 and level1 1", stats)
	}

	if err := e.processor.RevokeReferral(t.Context(), uuid.New()); !errors.Is(err, ErrReferralNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrReferralNotFound)
	}
}

func TestRebuildAllRestoresDeletedStats(t *testing.T) {
	e := newEngine(t)
	r := uuid.New()
	a := e.join(t, r)
	e.join(t, a)

	db := e.store.Repos().Stats
	before, err := db.Get(t.Context(), r)
	if err != nil {
		t.Fatalf("stats before: %v", err)
	}
	stale := model.NewNetworkStats(r, 0, [model.MaxLevels]int{}, before.LastUpdated)
	if err := db.Upsert(t.Context(), stale); err != nil {
		t.Fatalf("corrupt stats: %v", err)
	}

	n, err := e.aggregator.RebuildAll(t.Context(), 2)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 3 {
		t.Fatalf("refreshed = %d, want 3", n)
	}
	after, err := db.Get(t.Context(), r)
	if err != nil {
		t.Fatalf("stats after: %v", err)
	}
	if !after.SameCounts(before) {
		t.Fatalf("stats after rebuild = %+v, want %+v", after, before)
	}
}

// brokenStatsStore fails every stats write for one user.
type brokenStatsStore struct {
	repository.Store
	broken uuid.UUID
}

func (s brokenStatsStore) Repos() repository.Repositories {
	repos := s.Store.Repos()
	repos.Stats = brokenStatsRepo{NetworkStatsRepository: repos.Stats, broken: s.broken}
	return repos
}

type brokenStatsRepo struct {
	repository.NetworkStatsRepository
	broken uuid.UUID
}

func (r brokenStatsRepo) Upsert(ctx context.Context, stats *model.NetworkStats) error {
	if stats.UserID == r.broken {
		return errors.New("stats write refused")
	}
	return r.NetworkStatsRepository.Upsert(ctx, stats)
}

func TestPropagateContinuesPastFailedAncestor(t *testing.T) {
	store := openTestStore(t)
	tree := NewNetworkTree(store, stepClock())
	r, a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	for _, step := range []struct{ user, parent uuid.UUID }{
		{a, r}, {b, a}, {c, b}, {d, c},
	} {
		if _, err := tree.Attach(t.Context(), step.user, step.parent); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}

	aggregator := NewStatsAggregator(brokenStatsStore{Store: store, broken: a}, tree, nil, AggregatorOptions{
		Retry: RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
		Now:   stepClock(),
	}, nil)

	err := aggregator.Propagate(t.Context(), d)
	if !errors.Is(err, ErrAggregationFailure) {
		t.Fatalf("propagate err = %v, want ErrAggregationFailure", err)
	}

	stats := store.Repos().Stats
	rStats, err := stats.Get(t.Context(), r)
	if err != nil {
		t.Fatalf("stats of r: %v", err)
	}
	if got, want := rStats.Levels(), [model.MaxLevels]int{1, 1, 1, 1, 0}; got != want {
		t.Fatalf("r levels = %v, want %v", got, want)
	}
	if _, err := stats.Get(t.Context(), a); !repository.IsNotFound(err) {
		t.Fatalf("stats of a err = %v, want not found", err)
	}
	for _, user := range []uuid.UUID{b, c} {
		if _, err := stats.Get(t.Context(), user); err != nil {
			t.Fatalf("stats of %s: %v", user, err)
		}
	}
}
