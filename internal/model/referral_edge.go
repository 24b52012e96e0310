package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EdgeStatus string

const (
	EdgeStatusActive  EdgeStatus = "active"
	EdgeStatusRevoked EdgeStatus = "revoked"
)

// ReferralEdge records one accepted attribution. The unique index on
// referred_id is what makes "referred at most once" hold under concurrency.
type ReferralEdge struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ReferrerID uuid.UUID  `gorm:"type:uuid;not null;index:idx_referral_edges_referrer_created,priority:1" json:"referrer_id"`
	ReferredID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"referred_id"`
	CodeUsed   string     `gorm:"type:varchar(8);not null" json:"code_used"`
	Status     EdgeStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	CreatedAt  time.Time  `gorm:"index:idx_referral_edges_referrer_created,priority:2" json:"created_at"`
}

func (ReferralEdge) TableName() string { return "referral_edges" }

func (e *ReferralEdge) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

var ErrSelfEdge = errors.New("referrer and referred must differ")

func NewReferralEdge(referrer, referred uuid.UUID, code string, at time.Time) (*ReferralEdge, error) {
	if referrer == uuid.Nil || referred == uuid.Nil {
		return nil, errors.New("referral edge requires both users")
	}
	if referrer == referred {
		return nil, ErrSelfEdge
	}
	return &ReferralEdge{
		ReferrerID: referrer,
		ReferredID: referred,
		CodeUsed:   code,
		Status:     EdgeStatusActive,
		CreatedAt:  at,
	}, nil
}
