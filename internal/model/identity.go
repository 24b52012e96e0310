package model

import "github.com/google/uuid"

// UserIdentity is supplied by the identity provider on registration.
// Only UserID is used by the referral engine.
type UserIdentity struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
}
