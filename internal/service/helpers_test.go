package service

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
)

func openTestStore(t *testing.T) repository.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "referralhub.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewPGStore(db)
}

// stepClock returns strictly increasing timestamps so creation order is
// deterministic.
func stepClock() func() time.Time {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// sequenceCodes hands out the given codes in order, repeating the last one.
func sequenceCodes(codes ...string) func() (string, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}

type engine struct {
	store      repository.Store
	state      repository.StateStore
	registry   CodeRegistry
	tree       NetworkTree
	aggregator StatsAggregator
	processor  ReferralProcessor
	queries    QueryService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := openTestStore(t)
	state := repository.NewMemoryStateStore()
	clock := stepClock()

	registry := NewCodeRegistry(store, CodeOptions{}, nil)
	tree := NewNetworkTree(store, clock)
	aggregator := NewStatsAggregator(store, tree, state, AggregatorOptions{
		Retry: RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
		Now:   clock,
	}, nil)
	processor := NewReferralProcessor(store, registry, tree, NewSyncDispatcher(aggregator, nil), ProcessorOptions{
		Retry: RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
		Now:   clock,
	}, nil)
	return &engine{
		store:      store,
		state:      state,
		registry:   registry,
		tree:       tree,
		aggregator: aggregator,
		processor:  processor,
		queries:    NewQueryService(store, tree, state, time.Minute, nil),
	}
}

// join registers a new user under referrer's code, issuing the code first.
func (e *engine) join(t *testing.T, referrer uuid.UUID) uuid.UUID {
	t.Helper()
	rc, err := e.registry.IssueCode(t.Context(), referrer)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	user := uuid.New()
	out, err := e.processor.ProcessReferral(t.Context(), rc.Code, user)
	if err != nil {
		t.Fatalf("process referral: %v", err)
	}
	if !out.Accepted {
		t.Fatalf("referral rejected: %s", out.Reason)
	}
	return user
}
