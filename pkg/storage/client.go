package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/chpool"
	"github.com/ClickHouse/ch-go/compress"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// Client wraps a ch-go native connection pool with per-attempt timeouts and
// retry on transient failures.
type Client struct {
	pool        *chpool.Pool
	config      *Config
	compression ch.Compression
	log         logrus.FieldLogger
	lock        sync.RWMutex
}

// NewClient creates a ClickHouse client. No connection is made until Start().
func NewClient(log logrus.FieldLogger, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	compression := ch.CompressionLZ4

	switch cfg.Compression {
	case "zstd":
		compression = ch.CompressionZSTD
	case "none":
		compression = ch.CompressionDisabled
	}

	return &Client{
		config:      cfg,
		compression: compression,
		log:         log.WithField("component", "storage"),
	}, nil
}

// isRetryableError checks if an error is transient and can be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ch.ErrClosed) {
		return false
	}

	if exc, ok := ch.AsException(err); ok {
		return exc.IsCode(
			proto.ErrTimeoutExceeded,
			proto.ErrNoFreeConnection,
			proto.ErrTooManySimultaneousQueries,
			proto.ErrSocketTimeout,
			proto.ErrNetworkError,
		)
	}

	// Corrupted frames will not improve on retry.
	var corruptedErr *compress.CorruptedDataErr
	if errors.As(err, &corruptedErr) {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"timeout",
		"temporary failure",
		"server is overloaded",
		"too many connections",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// withQueryTimeout returns a context with the configured query timeout
// applied, unless the context already carries a deadline.
func (c *Client) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.QueryTimeout == 0 {
		return ctx, func() {}
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.config.QueryTimeout)
}

// doWithRetry executes fn with exponential backoff, applying the query
// timeout per attempt.
func (c *Client) doWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
			if c.config.RetryMaxDelay > 0 && delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}

			c.log.WithFields(logrus.Fields{
				"attempt":   attempt,
				"max":       c.config.MaxRetries,
				"delay":     delay,
				"operation": operation,
				"error":     lastErr,
			}).Debug("Retrying after transient error")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := c.withQueryTimeout(ctx)
		err := fn(attemptCtx)

		cancel()

		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, lastErr)
}

// Start dials ClickHouse with retry on transient connection failures.
func (c *Client) Start(ctx context.Context) error {
	c.lock.Lock()

	if c.pool != nil {
		c.lock.Unlock()
		c.log.Debug("Start() already completed successfully, skipping")

		return nil
	}

	c.lock.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout*time.Duration(c.config.MaxRetries+1))
	defer cancel()

	var pool *chpool.Pool

	err := c.doWithRetry(dialCtx, "dial", func(attemptCtx context.Context) error {
		var dialErr error

		pool, dialErr = chpool.Dial(attemptCtx, chpool.Options{
			ClientOptions: ch.Options{
				Address:     c.config.Addr,
				Database:    c.config.Database,
				User:        c.config.Username,
				Password:    c.config.Password,
				Compression: c.compression,
				DialTimeout: c.config.DialTimeout,
			},
			MaxConns:          c.config.MaxConns,
			MinConns:          c.config.MinConns,
			MaxConnLifetime:   c.config.ConnMaxLifetime,
			MaxConnIdleTime:   c.config.ConnMaxIdleTime,
			HealthCheckPeriod: c.config.HealthCheckPeriod,
		})

		return dialErr
	})
	if err != nil {
		return fmt.Errorf("failed to dial clickhouse: %w", err)
	}

	c.lock.Lock()
	c.pool = pool
	c.lock.Unlock()

	c.log.WithField("addr", c.config.Addr).Info("Connected to ClickHouse native interface")

	return nil
}

// Stop closes the connection pool.
func (c *Client) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
		c.log.Info("Closed ClickHouse connection pool")
	}

	return nil
}

// Do executes a query using the pool.
func (c *Client) Do(ctx context.Context, query ch.Query) error {
	c.lock.RLock()
	pool := c.pool
	c.lock.RUnlock()

	if pool == nil {
		return fmt.Errorf("client is not started")
	}

	return pool.Do(ctx, query)
}

// Execute runs a statement without expecting results.
func (c *Client) Execute(ctx context.Context, query string) error {
	start := time.Now()
	operation := "execute"
	status := statusSuccess

	defer func() {
		c.recordMetrics(operation, status, time.Since(start))
	}()

	err := c.doWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		return c.Do(attemptCtx, ch.Query{Body: query})
	})
	if err != nil {
		status = statusFailed

		return fmt.Errorf("execution failed: %w", err)
	}

	return nil
}

func (c *Client) recordMetrics(operation, status string, duration time.Duration) {
	common.StoreOperationDuration.WithLabelValues(c.config.Network, operation, status).Observe(duration.Seconds())
	common.StoreOperationTotal.WithLabelValues(c.config.Network, operation, status).Inc()
}
