// Package ratelimit provides a shared token-bucket guard placed in front of
// every call to a rate-limited upstream provider.
//
// A single Limiter instance is shared by all callers against the same provider
// budget (the backfill workers and the realtime collector), so the sustained
// ceiling holds across the whole process regardless of how many goroutines
// are fetching.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

// Limiter grants permits at a configured sustained rate. Safe for concurrent
// use; Acquire blocks cooperatively until a permit is available.
type Limiter struct {
	provider string
	limiter  *rate.Limiter
}

func New(cfg *Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	return &Limiter{
		provider: cfg.Provider,
		limiter:  rate.NewLimiter(rate.Limit(cfg.SustainedRPS), cfg.EffectiveBurst()),
	}, nil
}

// Acquire blocks until one permit is available or the context is cancelled.
// It never fails for budget reasons; the only error is the context's.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	common.RateLimiterPermits.WithLabelValues(l.provider).Inc()
	common.RateLimiterWaitDuration.WithLabelValues(l.provider).Observe(time.Since(start).Seconds())

	return nil
}

// Rate returns the configured sustained requests per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int {
	return l.limiter.Burst()
}
