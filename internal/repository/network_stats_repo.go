package repository

import (
	"context"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
)

type NetworkStatsRepository interface {
	Get(ctx context.Context, user uuid.UUID) (*model.NetworkStats, error)
	// Upsert overwrites the row keyed by user; last writer wins.
	Upsert(ctx context.Context, stats *model.NetworkStats) error
}
