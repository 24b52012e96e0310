package repository

import (
	"context"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
)

type ReferralCodeRepository interface {
	Create(ctx context.Context, code *model.ReferralCode) error
	GetByCode(ctx context.Context, code string) (*model.ReferralCode, error)
	GetActiveByOwner(ctx context.Context, owner uuid.UUID) (*model.ReferralCode, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]model.ReferralCode, error)
	// IncrementUses bumps current_uses only while the code is active and under
	// its cap. It reports false when no row qualified.
	IncrementUses(ctx context.Context, code string) (bool, error)
	DeactivateByOwner(ctx context.Context, owner uuid.UUID) (int64, error)
	SetMaxUses(ctx context.Context, code string, maxUses *int) (bool, error)
}
