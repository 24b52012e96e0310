package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups the repositories bound to one database handle,
// either the pool or an open transaction.
type Repositories struct {
	Codes ReferralCodeRepository
	Edges ReferralEdgeRepository
	Nodes NetworkNodeRepository
	Stats NetworkStatsRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos() Repositories
	// Transaction runs fn against repositories bound to a single transaction.
	// Returning an error from fn rolls the whole unit back.
	Transaction(ctx context.Context, fn func(repos Repositories) error) error
}

type pgStore struct {
	db    *gorm.DB
	repos Repositories
}

func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db, repos: bindRepositories(db)}
}

func (s *pgStore) Repos() Repositories { return s.repos }

func (s *pgStore) Transaction(ctx context.Context, fn func(repos Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(bindRepositories(tx))
	})
}

func bindRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Codes: NewPGReferralCodeRepository(db),
		Edges: NewPGReferralEdgeRepository(db),
		Nodes: NewPGNetworkNodeRepository(db),
		Stats: NewPGNetworkStatsRepository(db),
	}
}
