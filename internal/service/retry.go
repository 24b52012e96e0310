package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"biliticket/referralhub/internal/metrics"
	"biliticket/referralhub/internal/repository"
)

// RetryPolicy bounds how often a unit of work is re-run after a transient
// storage failure.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 50 * time.Millisecond
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// do runs op until it succeeds, fails permanently, or attempts run out.
// Business rejections and context errors are never retried.
func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if isPermanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			if repository.IsSerializationConflict(err) {
				metrics.StoreConflicts.Inc()
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxAttempts)))
	return err
}
