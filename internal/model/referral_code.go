package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// CodeLength is the fixed length of every referral code.
	CodeLength = 8
	// CodeAlphabet is the set of characters a referral code is drawn from.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type ReferralCode struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code        string    `gorm:"type:varchar(8);uniqueIndex;not null" json:"code"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	MaxUses     *int      `json:"max_uses,omitempty"`
	CurrentUses int       `gorm:"not null;default:0" json:"current_uses"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

func (c *ReferralCode) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Exhausted reports whether a capped code has no uses left.
func (c *ReferralCode) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// NewReferralCode builds an active, unused code for owner.
func NewReferralCode(owner uuid.UUID, code string, maxUses *int) (*ReferralCode, error) {
	if owner == uuid.Nil {
		return nil, errors.New("referral code owner is required")
	}
	if !IsWellFormedCode(code) {
		return nil, errors.New("referral code must be 8 characters of A-Z0-9")
	}
	if maxUses != nil && *maxUses < 0 {
		return nil, errors.New("max uses must not be negative")
	}
	return &ReferralCode{
		Code:    code,
		OwnerID: owner,
		Active:  true,
		MaxUses: maxUses,
	}, nil
}

// NormalizeCode trims and upper-cases user input so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsWellFormedCode reports whether code is exactly CodeLength characters from CodeAlphabet.
func IsWellFormedCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
