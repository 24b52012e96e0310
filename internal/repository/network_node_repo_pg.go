package repository

import (
	"bytes"
	"context"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"biliticket/referralhub/internal/model"
)

// childrenBatchSize keeps each parent_id IN list well under the bind
// parameter limits of postgres (65535) and sqlite (32766).
var childrenBatchSize = 1000

type pgNetworkNodeRepository struct {
	db *gorm.DB
}

func NewPGNetworkNodeRepository(db *gorm.DB) NetworkNodeRepository {
	return &pgNetworkNodeRepository{db: db}
}

func (r *pgNetworkNodeRepository) Create(ctx context.Context, node *model.NetworkNode) error {
	return r.db.WithContext(ctx).Create(node).Error
}

func (r *pgNetworkNodeRepository) CreateIfAbsent(ctx context.Context, node *model.NetworkNode) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(node).Error
}

func (r *pgNetworkNodeRepository) GetByUserID(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error) {
	var node model.NetworkNode
	if err := r.db.WithContext(ctx).First(&node, "user_id = ?", user).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *pgNetworkNodeRepository) ListChildren(ctx context.Context, parents []uuid.UUID) ([]model.NetworkNode, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	var nodes []model.NetworkNode
	for batch := range slices.Chunk(parents, childrenBatchSize) {
		var page []model.NetworkNode
		err := r.db.WithContext(ctx).
			Where("parent_id IN ?", batch).
			Order("created_at ASC").
			Order("user_id ASC").
			Find(&page).Error
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, page...)
	}
	if len(parents) > childrenBatchSize {
		slices.SortStableFunc(nodes, compareNodeCreation)
	}
	return nodes, nil
}

// compareNodeCreation orders nodes the way ListChildren's query does.
func compareNodeCreation(a, b model.NetworkNode) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.UserID[:], b.UserID[:])
}

func (r *pgNetworkNodeRepository) ListUserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).Model(&model.NetworkNode{})
	if after != uuid.Nil {
		q = q.Where("user_id > ?", after)
	}
	err := q.Order("user_id ASC").Limit(limit).Pluck("user_id", &ids).Error
	return ids, err
}
