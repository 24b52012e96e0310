package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
)

// Descendant is a node together with its depth below the queried user.
type Descendant struct {
	Node          model.NetworkNode `json:"node"`
	RelativeDepth int               `json:"relative_depth"`
}

// NetworkTree owns the write-once parent/depth/lineage structure.
type NetworkTree interface {
	// Attach places user under parent. A parent with no node of its own is
	// recorded as a root first.
	Attach(ctx context.Context, user, parent uuid.UUID) (*model.NetworkNode, error)
	AttachRoot(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error)
	NodeOf(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error)
	// AncestorsOf returns up to maxDepth ancestors, nearest first.
	AncestorsOf(ctx context.Context, user uuid.UUID, maxDepth int) ([]uuid.UUID, error)
	// DescendantsOf returns nodes at most maxDepth levels below user, ordered
	// shallow to deep and then by creation time.
	DescendantsOf(ctx context.Context, user uuid.UUID, maxDepth int) ([]Descendant, error)

	withRepos(repos repository.Repositories) NetworkTree
}

type networkTree struct {
	nodes repository.NetworkNodeRepository
	now   func() time.Time
}

func NewNetworkTree(store repository.Store, now func() time.Time) NetworkTree {
	if now == nil {
		now = utcNow
	}
	return &networkTree{nodes: store.Repos().Nodes, now: now}
}

func utcNow() time.Time { return time.Now().UTC() }

func (t *networkTree) withRepos(repos repository.Repositories) NetworkTree {
	return &networkTree{nodes: repos.Nodes, now: t.now}
}

func (t *networkTree) Attach(ctx context.Context, user, parent uuid.UUID) (*model.NetworkNode, error) {
	parentNode, err := t.ensureRoot(ctx, parent)
	if err != nil {
		return nil, err
	}

	node, err := model.NewChildNode(user, parentNode, t.now())
	if err != nil {
		return nil, fmt.Errorf("build network node: %w", err)
	}
	if err := t.nodes.Create(ctx, node); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrNodeAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert network node: %w", err)
	}
	return node, nil
}

func (t *networkTree) AttachRoot(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error) {
	node, err := t.ensureRoot(ctx, user)
	if err != nil {
		return nil, err
	}
	if !node.IsRoot() {
		return nil, ErrNodeAlreadyExists
	}
	return node, nil
}

// ensureRoot returns the user's node, inserting a root node when none exists.
func (t *networkTree) ensureRoot(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error) {
	existing, err := t.nodes.GetByUserID(ctx, user)
	if err == nil {
		return existing, nil
	}
	if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("failed to find network node: %w", err)
	}

	root, err := model.NewRootNode(user, t.now())
	if err != nil {
		return nil, fmt.Errorf("build root node: %w", err)
	}
	if err := t.nodes.CreateIfAbsent(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to insert root node: %w", err)
	}
	// Re-read: a concurrent writer may have placed the user first.
	stored, err := t.nodes.GetByUserID(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to reload network node: %w", err)
	}
	return stored, nil
}

func (t *networkTree) NodeOf(ctx context.Context, user uuid.UUID) (*model.NetworkNode, error) {
	node, err := t.nodes.GetByUserID(ctx, user)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to find network node: %w", err)
	}
	return node, nil
}

func (t *networkTree) AncestorsOf(ctx context.Context, user uuid.UUID, maxDepth int) ([]uuid.UUID, error) {
	node, err := t.nodes.GetByUserID(ctx, user)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find network node: %w", err)
	}
	return node.Ancestors(maxDepth), nil
}

func (t *networkTree) DescendantsOf(ctx context.Context, user uuid.UUID, maxDepth int) ([]Descendant, error) {
	var out []Descendant
	frontier := []uuid.UUID{user}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		children, err := t.nodes.ListChildren(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to list level %d: %w", depth, err)
		}
		next := make([]uuid.UUID, 0, len(children))
		for _, child := range children {
			out = append(out, Descendant{Node: child, RelativeDepth: depth})
			next = append(next, child.UserID)
		}
		frontier = next
	}
	return out, nil
}

var _ NetworkTree = (*networkTree)(nil)
