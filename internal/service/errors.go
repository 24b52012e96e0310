package service

import (
	"context"
	"errors"
)

var (
	ErrInvalidCode             = errors.New("referral code invalid or inactive")
	ErrSelfReferral            = errors.New("cannot use your own referral code")
	ErrAlreadyReferred         = errors.New("user has already been referred")
	ErrUsesExhausted           = errors.New("referral code usage exhausted")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique referral code")
	ErrNodeAlreadyExists       = errors.New("user already has a position in the network")
	ErrTransientStore          = errors.New("temporary storage failure, retry later")
	ErrAggregationFailure      = errors.New("network stats aggregation failed")
	ErrNodeNotFound            = errors.New("user is not part of the network")
	ErrReferralNotFound        = errors.New("referral not found")
)

// Reason is the machine-readable outcome code handed to callers.
type Reason string

const (
	ReasonAccepted                Reason = "accepted"
	ReasonInvalidCode             Reason = "invalid_code"
	ReasonSelfReferral            Reason = "self_referral"
	ReasonAlreadyReferred         Reason = "already_referred"
	ReasonUsesExhausted           Reason = "uses_exhausted"
	ReasonCodeGenerationExhausted Reason = "code_generation_exhausted"
	ReasonNodeAlreadyExists       Reason = "node_already_exists"
	ReasonTransientStoreError     Reason = "transient_store_error"
)

var businessReasons = []struct {
	err    error
	reason Reason
}{
	{ErrInvalidCode, ReasonInvalidCode},
	{ErrSelfReferral, ReasonSelfReferral},
	{ErrAlreadyReferred, ReasonAlreadyReferred},
	{ErrUsesExhausted, ReasonUsesExhausted},
	{ErrCodeGenerationExhausted, ReasonCodeGenerationExhausted},
	{ErrNodeAlreadyExists, ReasonNodeAlreadyExists},
}

// ReasonOf maps err onto the outcome taxonomy. Anything that is not a named
// business rejection is reported as a retryable storage failure.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonAccepted
	}
	for _, br := range businessReasons {
		if errors.Is(err, br.err) {
			return br.reason
		}
	}
	return ReasonTransientStoreError
}

// isPermanent reports whether retrying err cannot change the result.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrReferralNotFound) {
		return true
	}
	return ReasonOf(err) != ReasonTransientStoreError
}
