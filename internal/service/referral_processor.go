package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/metrics"
	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
)

// Outcome is the result of one referral attempt. Rejections carry a Reason;
// Edge is nil when the user joined as a root.
type Outcome struct {
	Accepted bool                `json:"accepted"`
	Reason   Reason              `json:"reason"`
	Edge     *model.ReferralEdge `json:"edge,omitempty"`
	Node     *model.NetworkNode  `json:"node,omitempty"`
}

// Registration is the result of registering a user with the engine.
type Registration struct {
	Outcome *Outcome            `json:"outcome"`
	Code    *model.ReferralCode `json:"code,omitempty"`
}

// ReferralProcessor is the single write entry point of the referral network.
type ReferralProcessor interface {
	// ProcessReferral records that newUser registered with code. An empty
	// code places newUser at the root of a new tree. Business rejections are
	// returned in the Outcome with a nil error; a non-nil error wraps
	// ErrTransientStore or a context error and the attempt left no trace.
	ProcessReferral(ctx context.Context, code string, newUser uuid.UUID) (*Outcome, error)
	// Register processes the referral and, once accepted, issues the new
	// user's own code.
	Register(ctx context.Context, identity model.UserIdentity, code string) (*Registration, error)
	// RevokeReferral marks the edge that brought referred in as revoked. The
	// tree position is kept.
	RevokeReferral(ctx context.Context, referred uuid.UUID) error
}

type ProcessorOptions struct {
	Retry RetryPolicy
	Now   func() time.Time
}

type referralProcessor struct {
	store      repository.Store
	registry   CodeRegistry
	tree       NetworkTree
	dispatcher Dispatcher
	retry      RetryPolicy
	now        func() time.Time
	logger     *zap.Logger
}

func NewReferralProcessor(
	store repository.Store,
	registry CodeRegistry,
	tree NetworkTree,
	dispatcher Dispatcher,
	opts ProcessorOptions,
	logger *zap.Logger,
) ReferralProcessor {
	if opts.Now == nil {
		opts.Now = utcNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &referralProcessor{
		store:      store,
		registry:   registry,
		tree:       tree,
		dispatcher: dispatcher,
		retry:      opts.Retry,
		now:        opts.Now,
		logger:     logger,
	}
}

func (p *referralProcessor) ProcessReferral(ctx context.Context, code string, newUser uuid.UUID) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "ReferralProcessor.ProcessReferral", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if newUser == uuid.Nil {
		return nil, errors.New("new user id is required")
	}
	span.SetAttributes(attribute.String("user.id", newUser.String()))

	normalized := model.NormalizeCode(code)
	var (
		outcome *Outcome
		err     error
	)
	if normalized == "" {
		outcome, err = p.joinAsRoot(ctx, newUser)
	} else {
		outcome, err = p.joinWithCode(ctx, normalized, newUser)
	}

	metrics.ReferralsProcessed.WithLabelValues(string(outcome.Reason)).Inc()
	span.SetAttributes(attribute.String("referral.reason", string(outcome.Reason)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "referral not recorded")
		p.logger.Error("referral processing failed",
			zap.String("new_user", newUser.String()),
			zap.Error(err))
		return outcome, err
	}
	if !outcome.Accepted {
		p.logger.Info("referral rejected",
			zap.String("new_user", newUser.String()),
			zap.String("code", normalized),
			zap.String("reason", string(outcome.Reason)))
	}
	return outcome, nil
}

func (p *referralProcessor) joinAsRoot(ctx context.Context, newUser uuid.UUID) (*Outcome, error) {
	var node *model.NetworkNode
	err := p.retry.do(ctx, func() error {
		n, err := p.tree.AttachRoot(ctx, newUser)
		node = n
		return err
	})
	if err != nil {
		return p.reject(err)
	}
	return &Outcome{Accepted: true, Reason: ReasonAccepted, Node: node}, nil
}

func (p *referralProcessor) joinWithCode(ctx context.Context, code string, newUser uuid.UUID) (*Outcome, error) {
	var (
		edge *model.ReferralEdge
		node *model.NetworkNode
	)
	err := p.retry.do(ctx, func() error {
		return p.store.Transaction(ctx, func(repos repository.Repositories) error {
			registry := p.registry.withRepos(repos)
			tree := p.tree.withRepos(repos)

			// 1. Resolve the code to its owner
			rc, err := registry.ResolveCode(ctx, code)
			if err != nil {
				return err
			}

			// 2. Self-referral
			if rc.OwnerID == newUser {
				return ErrSelfReferral
			}

			// 3-4. Insert the edge; the unique index on referred_id decides races
			e, err := model.NewReferralEdge(rc.OwnerID, newUser, rc.Code, p.now())
			if err != nil {
				return fmt.Errorf("build referral edge: %w", err)
			}
			if err := repos.Edges.Create(ctx, e); err != nil {
				if repository.IsUniqueViolation(err) {
					return ErrAlreadyReferred
				}
				return fmt.Errorf("failed to insert referral edge: %w", err)
			}

			// 5. Count the use against the code's cap
			if err := registry.RecordUse(ctx, rc.Code); err != nil {
				return err
			}

			// 6. Position the new user in the tree
			n, err := tree.Attach(ctx, newUser, rc.OwnerID)
			if err != nil {
				return err
			}

			edge, node = e, n
			return nil
		})
	})
	if err != nil {
		return p.reject(err)
	}

	// 7. Aggregation runs outside the transaction and outlives the request.
	p.dispatcher.Dispatch(context.WithoutCancel(ctx), edge.ReferrerID)

	p.logger.Info("referral accepted",
		zap.String("referrer", edge.ReferrerID.String()),
		zap.String("referred", newUser.String()),
		zap.String("code", edge.CodeUsed),
		zap.Int("depth", node.Depth))
	return &Outcome{Accepted: true, Reason: ReasonAccepted, Edge: edge, Node: node}, nil
}

// reject turns err into an Outcome, keeping an error only when the failure
// was not a business decision.
func (p *referralProcessor) reject(err error) (*Outcome, error) {
	reason := ReasonOf(err)
	outcome := &Outcome{Accepted: false, Reason: reason}
	if reason != ReasonTransientStoreError {
		return outcome, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return outcome, err
	}
	return outcome, fmt.Errorf("%w: %v", ErrTransientStore, err)
}

func (p *referralProcessor) Register(ctx context.Context, identity model.UserIdentity, code string) (*Registration, error) {
	outcome, err := p.ProcessReferral(ctx, code, identity.UserID)
	if err != nil {
		return &Registration{Outcome: outcome}, err
	}
	reg := &Registration{Outcome: outcome}
	if !outcome.Accepted {
		return reg, nil
	}

	// The user is placed either way; a missing code is issued lazily later.
	issued, err := p.registry.IssueCode(ctx, identity.UserID)
	if err != nil {
		p.logger.Warn("failed to issue code at registration",
			zap.String("user", identity.UserID.String()),
			zap.Error(err))
		return reg, nil
	}
	reg.Code = issued
	return reg, nil
}

func (p *referralProcessor) RevokeReferral(ctx context.Context, referred uuid.UUID) error {
	var referrer uuid.UUID
	err := p.store.Transaction(ctx, func(repos repository.Repositories) error {
		edge, err := repos.Edges.GetByReferred(ctx, referred)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrReferralNotFound
			}
			return fmt.Errorf("failed to find referral: %w", err)
		}
		if edge.Status == model.EdgeStatusRevoked {
			referrer = edge.ReferrerID
			return nil
		}
		if _, err := repos.Edges.UpdateStatus(ctx, referred, model.EdgeStatusRevoked); err != nil {
			return fmt.Errorf("failed to revoke referral: %w", err)
		}
		referrer = edge.ReferrerID
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("referral revoked",
		zap.String("referrer", referrer.String()),
		zap.String("referred", referred.String()))
	p.dispatcher.Dispatch(context.WithoutCancel(ctx), referrer)
	return nil
}

var _ ReferralProcessor = (*referralProcessor)(nil)
