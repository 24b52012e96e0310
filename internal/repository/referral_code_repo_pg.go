package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"biliticket/referralhub/internal/model"
)

type pgReferralCodeRepository struct {
	db *gorm.DB
}

func NewPGReferralCodeRepository(db *gorm.DB) ReferralCodeRepository {
	return &pgReferralCodeRepository{db: db}
}

func (r *pgReferralCodeRepository) Create(ctx context.Context, code *model.ReferralCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *pgReferralCodeRepository) GetByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	var rc model.ReferralCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&rc).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *pgReferralCodeRepository) GetActiveByOwner(ctx context.Context, owner uuid.UUID) (*model.ReferralCode, error) {
	var rc model.ReferralCode
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", owner, true).
		First(&rc).Error
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *pgReferralCodeRepository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]model.ReferralCode, error) {
	var codes []model.ReferralCode
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("created_at DESC").
		Find(&codes).Error
	return codes, err
}

func (r *pgReferralCodeRepository) IncrementUses(ctx context.Context, code string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ReferralCode{}).
		Where("code = ? AND active = ? AND (max_uses IS NULL OR current_uses < max_uses)", code, true).
		UpdateColumns(map[string]interface{}{
			"current_uses": gorm.Expr("current_uses + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pgReferralCodeRepository) DeactivateByOwner(ctx context.Context, owner uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ReferralCode{}).
		Where("owner_id = ? AND active = ?", owner, true).
		UpdateColumns(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *pgReferralCodeRepository) SetMaxUses(ctx context.Context, code string, maxUses *int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ReferralCode{}).
		Where("code = ?", code).
		UpdateColumns(map[string]interface{}{
			"max_uses":   maxUses,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
