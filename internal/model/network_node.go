package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserPath is an ordered list of user ids stored as a JSON array.
type UserPath []uuid.UUID

func (p UserPath) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *UserPath) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = UserPath{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("UserPath.Scan: unsupported type %T", value)
	}
	return json.Unmarshal(raw, p)
}

// NetworkNode is a user's write-once position in the referral forest.
type NetworkNode struct {
	UserID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	ParentID    *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Depth       int        `gorm:"not null;default:0" json:"depth"`
	LineagePath UserPath   `gorm:"type:jsonb;not null" json:"lineage_path"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (NetworkNode) TableName() string { return "network_nodes" }

// IsRoot reports whether the node has no parent.
func (n *NetworkNode) IsRoot() bool { return n.ParentID == nil }

func NewRootNode(user uuid.UUID, at time.Time) (*NetworkNode, error) {
	if user == uuid.Nil {
		return nil, errors.New("network node user is required")
	}
	return &NetworkNode{
		UserID:      user,
		Depth:       0,
		LineagePath: UserPath{},
		CreatedAt:   at,
	}, nil
}

// NewChildNode places user directly under parent, deriving depth and lineage.
func NewChildNode(user uuid.UUID, parent *NetworkNode, at time.Time) (*NetworkNode, error) {
	if user == uuid.Nil {
		return nil, errors.New("network node user is required")
	}
	if parent == nil {
		return nil, errors.New("parent node is required")
	}
	if parent.UserID == user {
		return nil, ErrSelfEdge
	}
	for _, ancestor := range parent.LineagePath {
		if ancestor == user {
			return nil, errors.New("network node would create a cycle")
		}
	}

	lineage := make(UserPath, 0, len(parent.LineagePath)+1)
	lineage = append(lineage, parent.LineagePath...)
	lineage = append(lineage, parent.UserID)

	parentID := parent.UserID
	return &NetworkNode{
		UserID:      user,
		ParentID:    &parentID,
		Depth:       parent.Depth + 1,
		LineagePath: lineage,
		CreatedAt:   at,
	}, nil
}

// Ancestors returns up to max ancestors, nearest first.
func (n *NetworkNode) Ancestors(max int) []uuid.UUID {
	if max <= 0 || len(n.LineagePath) == 0 {
		return nil
	}
	if max > len(n.LineagePath) {
		max = len(n.LineagePath)
	}
	out := make([]uuid.UUID, 0, max)
	for i := len(n.LineagePath) - 1; i >= 0 && len(out) < max; i-- {
		out = append(out, n.LineagePath[i])
	}
	return out
}
