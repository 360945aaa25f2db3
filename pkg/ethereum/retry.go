package ethereum

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Retry runs fn under the configured retry policy. Only transient and
// rate-limited errors are retried; fatal errors and context cancellation
// propagate immediately. Exhausting the attempt budget converts the last
// transient error into the returned error, which callers treat as fatal.
func Retry(ctx context.Context, log logrus.FieldLogger, cfg *RetryConfig, operation string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.BaseDelay
	policy.MaxInterval = cfg.MaxDelay
	policy.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempt := 0

	wrapped := func() error {
		attempt++

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}

		var pe *ProviderError
		if errors.As(err, &pe) && pe.Kind == KindRateLimited {
			log.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
			}).Warn("Provider returned 429; the configured sustained RPS is likely too high")
		}

		if attempt >= cfg.MaxAttempts {
			return backoff.Permanent(err)
		}

		log.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
			"max":       cfg.MaxAttempts,
			"error":     err,
		}).Debug("Retrying after transient provider error")

		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(policy, ctx))
}

// NewReconnectBackOff builds the backoff used by long-lived connection loops:
// same policy shape as request retries, but unbounded in attempts so the
// caller decides when to give up.
func NewReconnectBackOff(base, cap time.Duration) *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.MaxInterval = cap
	policy.MaxElapsedTime = 0

	return policy
}
