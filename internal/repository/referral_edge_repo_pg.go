package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"biliticket/referralhub/internal/model"
)

type pgReferralEdgeRepository struct {
	db *gorm.DB
}

func NewPGReferralEdgeRepository(db *gorm.DB) ReferralEdgeRepository {
	return &pgReferralEdgeRepository{db: db}
}

func (r *pgReferralEdgeRepository) Create(ctx context.Context, edge *model.ReferralEdge) error {
	return r.db.WithContext(ctx).Create(edge).Error
}

func (r *pgReferralEdgeRepository) GetByReferred(ctx context.Context, referred uuid.UUID) (*model.ReferralEdge, error) {
	var edge model.ReferralEdge
	if err := r.db.WithContext(ctx).Where("referred_id = ?", referred).First(&edge).Error; err != nil {
		return nil, err
	}
	return &edge, nil
}

func (r *pgReferralEdgeRepository) ListByReferrer(ctx context.Context, referrer uuid.UUID, status model.EdgeStatus) ([]model.ReferralEdge, error) {
	var edges []model.ReferralEdge
	q := r.db.WithContext(ctx).Where("referrer_id = ?", referrer)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.
		Order("created_at DESC").
		Order("id DESC").
		Find(&edges).Error
	return edges, err
}

func (r *pgReferralEdgeRepository) CountActiveByReferrer(ctx context.Context, referrer uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.ReferralEdge{}).
		Where("referrer_id = ? AND status = ?", referrer, model.EdgeStatusActive).
		Count(&n).Error
	return n, err
}

func (r *pgReferralEdgeRepository) UpdateStatus(ctx context.Context, referred uuid.UUID, status model.EdgeStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ReferralEdge{}).
		Where("referred_id = ?", referred).
		UpdateColumn("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
