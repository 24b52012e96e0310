package repository

import (
	"context"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
)

type ReferralEdgeRepository interface {
	Create(ctx context.Context, edge *model.ReferralEdge) error
	GetByReferred(ctx context.Context, referred uuid.UUID) (*model.ReferralEdge, error)
	// ListByReferrer returns the user's edges, newest first. An empty status
	// matches every edge.
	ListByReferrer(ctx context.Context, referrer uuid.UUID, status model.EdgeStatus) ([]model.ReferralEdge, error)
	CountActiveByReferrer(ctx context.Context, referrer uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, referred uuid.UUID, status model.EdgeStatus) (bool, error)
}
