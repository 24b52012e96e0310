package repository

import (
	"context"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
)

type NetworkNodeRepository interface {
	Create(ctx context.Context, node *model.NetworkNode) error
	// CreateIfAbsent inserts node unless a node for the same user exists.
	CreateIfAbsent(ctx context.Context, node *model.NetworkNode) error
	GetByUserID(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error)
	// ListChildren returns the direct children of any of parents, oldest first.
	ListChildren(ctx context.Context, parents []uuid.UUID) ([]model.NetworkNode, error)
	// ListUserIDs pages through every node ordered by user id.
	ListUserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}
