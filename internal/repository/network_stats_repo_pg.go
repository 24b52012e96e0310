package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"biliticket/referralhub/internal/model"
)

type pgNetworkStatsRepository struct {
	db *gorm.DB
}

func NewPGNetworkStatsRepository(db *gorm.DB) NetworkStatsRepository {
	return &pgNetworkStatsRepository{db: db}
}

func (r *pgNetworkStatsRepository) Get(ctx context.Context, user uuid.UUID) (*model.NetworkStats, error) {
	var stats model.NetworkStats
	if err := r.db.WithContext(ctx).First(&stats, "user_id = ?", user).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *pgNetworkStatsRepository) Upsert(ctx context.Context, stats *model.NetworkStats) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(stats).Error
}
