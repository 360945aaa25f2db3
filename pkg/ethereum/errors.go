package ethereum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors for provider operations.
var (
	// ErrBlockNotFound indicates the requested block does not exist upstream.
	ErrBlockNotFound = errors.New("block not found")

	// ErrBatchTooLarge indicates a range request exceeded the provider's batch
	// ceiling and was rejected client-side before hitting the wire.
	ErrBatchTooLarge = errors.New("batch size exceeds provider ceiling")
)

// Kind classifies a provider failure for retry decisions.
type Kind int

const (
	// KindTransient covers timeouts, connection resets and 5xx responses.
	// Retryable with backoff.
	KindTransient Kind = iota
	// KindRateLimited covers HTTP 429. Retryable, but backoff is mandatory and
	// repeated occurrences mean the configured sustained RPS is too high.
	KindRateLimited
	// KindFatal covers malformed responses and non-429 4xx. Never retried.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ProviderError wraps an upstream failure with its retry classification.
type ProviderError struct {
	Kind   Kind
	Method string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error in %s: %v", e.Kind, e.Method, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies err and wraps it.
func NewProviderError(method string, err error) *ProviderError {
	return &ProviderError{Kind: Classify(err), Method: method, Err: err}
}

// IsRetryable reports whether the error qualifies for retry with backoff.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind != KindFatal
	}

	return Classify(err) != KindFatal
}

// Classify maps an error to its retry kind. Unknown errors are fatal: silently
// retrying a malformed response would mask normalization bugs.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}

	// Context errors are not provider failures and must not be retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	errStr := strings.ToLower(err.Error())

	rateLimitPatterns := []string{
		"429",
		"too many requests",
		"rate limit",
	}
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(errStr, pattern) {
			return KindRateLimited
		}
	}

	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"timeout",
		"temporary failure",
		"502",
		"503",
		"504",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
		"internal server error",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return KindTransient
		}
	}

	return KindFatal
}
