package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
	"biliticket/referralhub/pkg/crypto"
)

// CodeRegistry issues and resolves referral codes. An owner has at most one
// active code at a time.
type CodeRegistry interface {
	IssueCode(ctx context.Context, owner uuid.UUID) (*model.ReferralCode, error)
	ResolveCode(ctx context.Context, code string) (*model.ReferralCode, error)
	RecordUse(ctx context.Context, code string) error
	// ValidateCode reports ReasonAccepted for a usable code and the
	// rejection reason otherwise. Only storage failures return an error.
	ValidateCode(ctx context.Context, code string) (Reason, error)
	DeactivateCode(ctx context.Context, owner uuid.UUID) error
	RotateCode(ctx context.Context, owner uuid.UUID) (*model.ReferralCode, error)
	SetMaxUses(ctx context.Context, code string, maxUses *int) error
	ListCodes(ctx context.Context, owner uuid.UUID) ([]model.ReferralCode, error)

	withRepos(repos repository.Repositories) CodeRegistry
}

type CodeOptions struct {
	// MaxAttempts bounds regeneration after a code collision.
	MaxAttempts int
	// DefaultMaxUses caps newly issued codes; 0 leaves them unlimited.
	DefaultMaxUses int
	// Generate overrides the random code source, mainly for tests.
	Generate func() (string, error)
}

type codeRegistry struct {
	codes  repository.ReferralCodeRepository
	opts   CodeOptions
	logger *zap.Logger
}

func NewCodeRegistry(store repository.Store, opts CodeOptions, logger *zap.Logger) CodeRegistry {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Generate == nil {
		opts.Generate = func() (string, error) {
			return crypto.GenerateCode(model.CodeLength, model.CodeAlphabet)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &codeRegistry{codes: store.Repos().Codes, opts: opts, logger: logger}
}

func (r *codeRegistry) withRepos(repos repository.Repositories) CodeRegistry {
	return &codeRegistry{codes: repos.Codes, opts: r.opts, logger: r.logger}
}

func (r *codeRegistry) IssueCode(ctx context.Context, owner uuid.UUID) (*model.ReferralCode, error) {
	// 1. Existing active code wins
	existing, err := r.codes.GetActiveByOwner(ctx, owner)
	if err == nil {
		return existing, nil
	}
	if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up active code: %w", err)
	}

	var maxUses *int
	if r.opts.DefaultMaxUses > 0 {
		n := r.opts.DefaultMaxUses
		maxUses = &n
	}

	// 2. Generate until the unique index accepts one
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		raw, err := r.opts.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate referral code: %w", err)
		}
		code, err := model.NewReferralCode(owner, raw, maxUses)
		if err != nil {
			return nil, fmt.Errorf("build referral code: %w", err)
		}

		err = r.codes.Create(ctx, code)
		if err == nil {
			r.logger.Info("referral code issued",
				zap.String("owner", owner.String()),
				zap.String("code", code.Code))
			return code, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create referral code: %w", err)
		}

		// A concurrent issue for the same owner may have won the race.
		if winner, lookupErr := r.codes.GetActiveByOwner(ctx, owner); lookupErr == nil {
			return winner, nil
		}
		r.logger.Debug("referral code collision, regenerating",
			zap.String("owner", owner.String()),
			zap.Int("attempt", attempt))
	}
	return nil, ErrCodeGenerationExhausted
}

func (r *codeRegistry) ResolveCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	normalized := model.NormalizeCode(code)
	if !model.IsWellFormedCode(normalized) {
		return nil, ErrInvalidCode
	}

	rc, err := r.codes.GetByCode(ctx, normalized)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to find referral code: %w", err)
	}
	if !rc.Active {
		return nil, ErrInvalidCode
	}
	if rc.Exhausted() {
		return nil, ErrUsesExhausted
	}
	return rc, nil
}

func (r *codeRegistry) RecordUse(ctx context.Context, code string) error {
	ok, err := r.codes.IncrementUses(ctx, model.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("failed to record code use: %w", err)
	}
	if !ok {
		return ErrUsesExhausted
	}
	return nil
}

// ValidateCode is a read-only pre-check for registration forms.
func (r *codeRegistry) ValidateCode(ctx context.Context, code string) (Reason, error) {
	_, err := r.ResolveCode(ctx, code)
	switch {
	case err == nil:
		return ReasonAccepted, nil
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrUsesExhausted):
		return ReasonOf(err), nil
	default:
		return "", err
	}
}

func (r *codeRegistry) DeactivateCode(ctx context.Context, owner uuid.UUID) error {
	n, err := r.codes.DeactivateByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to deactivate code: %w", err)
	}
	if n == 0 {
		return ErrInvalidCode
	}
	return nil
}

func (r *codeRegistry) RotateCode(ctx context.Context, owner uuid.UUID) (*model.ReferralCode, error) {
	if _, err := r.codes.DeactivateByOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("failed to deactivate code: %w", err)
	}
	return r.IssueCode(ctx, owner)
}

func (r *codeRegistry) SetMaxUses(ctx context.Context, code string, maxUses *int) error {
	if maxUses != nil && *maxUses < 0 {
		return fmt.Errorf("max uses must not be negative")
	}
	ok, err := r.codes.SetMaxUses(ctx, model.NormalizeCode(code), maxUses)
	if err != nil {
		return fmt.Errorf("failed to update max uses: %w", err)
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

func (r *codeRegistry) ListCodes(ctx context.Context, owner uuid.UUID) ([]model.ReferralCode, error) {
	codes, err := r.codes.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	return codes, nil
}

var _ CodeRegistry = (*codeRegistry)(nil)
