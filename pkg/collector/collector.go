package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
	"github.com/gaplessdata/block-ingestor/pkg/leaderelection"
	"github.com/gaplessdata/block-ingestor/pkg/normalize"
	"github.com/gaplessdata/block-ingestor/pkg/ratelimit"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

// State of the subscription lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// leaderPollInterval is how often a non-leader checks whether it should take
// over collection.
const leaderPollInterval = time.Second

// HeadStream delivers block headers from an open subscription.
type HeadStream interface {
	Next(ctx context.Context) (*ethereum.RawBlock, error)
	Close() error
}

// Source provides head subscriptions and full block fetches.
type Source interface {
	SubscribeNewHeads(ctx context.Context) (HeadStream, error)
	RawBlockByNumber(ctx context.Context, number uint64) (*ethereum.RawBlock, error)
}

// nodeSource adapts *ethereum.Node to the Source interface.
type nodeSource struct {
	node *ethereum.Node
}

// NewNodeSource wraps a node as a collector source.
func NewNodeSource(node *ethereum.Node) Source {
	return &nodeSource{node: node}
}

func (s *nodeSource) SubscribeNewHeads(ctx context.Context) (HeadStream, error) {
	return s.node.SubscribeNewHeads(ctx)
}

func (s *nodeSource) RawBlockByNumber(ctx context.Context, number uint64) (*ethereum.RawBlock, error) {
	return s.node.RawBlockByNumber(ctx, number)
}

// Collector tails newHeads and writes normalized blocks to the store. It
// cycles disconnected -> connecting -> subscribed, reconnecting with backoff
// on stream loss. Head notifications carry headers only, so each head is
// re-fetched as a full block before normalization; the upsert absorbs the
// duplicate delivery the provider is allowed to make.
type Collector struct {
	log        logrus.FieldLogger
	source     Source
	limiter    *ratelimit.Limiter
	normalizer *normalize.Normalizer
	store      storage.Store
	elector    leaderelection.Elector
	config     *Config
	network    string

	state atomic.Int32

	buffer []*normalize.Block
}

// New creates a realtime collector. The elector is optional; without one the
// collector always runs.
func New(
	log logrus.FieldLogger,
	source Source,
	limiter *ratelimit.Limiter,
	normalizer *normalize.Normalizer,
	store storage.Store,
	elector leaderelection.Elector,
	config *Config,
	network string,
) (*Collector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Collector{
		log:        log.WithField("component", "collector"),
		source:     source,
		limiter:    limiter,
		normalizer: normalizer,
		store:      store,
		elector:    elector,
		config:     config,
		network:    network,
	}, nil
}

// State returns the current lifecycle state.
func (c *Collector) State() State {
	return State(c.state.Load())
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
	common.CollectorState.WithLabelValues(c.network).Set(float64(s))
}

// Run collects until the context ends or the failure budget is exhausted.
func (c *Collector) Run(ctx context.Context) error {
	c.setState(StateDisconnected)

	defer func() {
		c.setState(StateDisconnected)

		// Best effort: do not strand buffered blocks on shutdown.
		if len(c.buffer) > 0 {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.flush(flushCtx); err != nil {
				c.log.WithError(err).Warn("Failed to flush buffer on shutdown")
			}
		}
	}()

	reconnect := ethereum.NewReconnectBackOff(c.config.ReconnectBaseDelay, c.config.ReconnectMaxDelay)
	deadSessions := 0

	for {
		if err := c.waitForLeadership(ctx); err != nil {
			return err
		}

		delivered, err := c.runSession(ctx, reconnect)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}

			return err
		}

		// A session that never delivered a head is a failed reconnect
		// attempt; enough of them in a row means the upstream is gone and
		// the condition must surface instead of backing off forever.
		if delivered {
			deadSessions = 0
		} else {
			deadSessions++

			if deadSessions >= c.config.MaxReconnectAttempts {
				return fmt.Errorf("collector halting after %d reconnect attempts without a delivered head", deadSessions)
			}
		}

		// Session ended without a hard error (stream loss or leadership
		// change); back off before the next connection attempt.
		common.CollectorReconnects.WithLabelValues(c.network).Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnect.NextBackOff()):
		}
	}
}

// waitForLeadership blocks until this instance is the leader.
func (c *Collector) waitForLeadership(ctx context.Context) error {
	if c.elector == nil || c.elector.IsLeader() {
		return nil
	}

	c.setState(StateDisconnected)
	c.log.Debug("Not the leader, standing by")

	ticker := time.NewTicker(leaderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.elector.IsLeader() {
				return nil
			}
		}
	}
}

// headResult carries one stream read from the reader goroutine.
type headResult struct {
	head *ethereum.RawBlock
	err  error
}

// runSession opens one subscription and consumes it until it breaks, the
// context ends, or leadership is lost. A nil error means reconnect; delivered
// reports whether the session made progress, so the caller can bound
// back-to-back dead sessions.
func (c *Collector) runSession(ctx context.Context, reconnect *backoff.ExponentialBackOff) (delivered bool, err error) {
	c.setState(StateConnecting)

	stream, err := c.source.SubscribeNewHeads(ctx)
	if err != nil {
		if !ethereum.IsRetryable(err) && ctx.Err() == nil {
			return false, fmt.Errorf("subscription rejected: %w", err)
		}

		c.log.WithError(err).Warn("Failed to subscribe, will reconnect")

		return false, nil
	}

	defer func() {
		_ = stream.Close()
	}()

	c.setState(StateSubscribed)
	c.log.Info("Collecting new heads")

	// Reads happen on their own goroutine so a quiet stream cannot starve
	// the flush ticker; closing the stream unblocks a pending read.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	heads := make(chan headResult)

	go func() {
		for {
			head, err := stream.Next(readCtx)

			select {
			case heads <- headResult{head: head, err: err}:
			case <-readCtx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	failures := 0

	flushTicker := time.NewTicker(c.config.FlushInterval)
	defer flushTicker.Stop()

	for {
		if c.elector != nil && !c.elector.IsLeader() {
			c.log.Info("Lost leadership, closing subscription")

			return delivered, nil
		}

		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-flushTicker.C:
			if err := c.maybeFlush(ctx, true); err != nil {
				c.log.WithError(err).Warn("Failed to flush block buffer")
			}
		case res := <-heads:
			if res.err != nil {
				if ctx.Err() != nil {
					return delivered, ctx.Err()
				}

				c.log.WithError(res.err).Warn("Subscription broken, will reconnect")

				return delivered, nil
			}

			// A delivered head proves the connection is healthy.
			delivered = true

			reconnect.Reset()

			if err := c.processHead(ctx, res.head); err != nil {
				if ctx.Err() != nil {
					return delivered, ctx.Err()
				}

				failures++

				common.IngestErrors.WithLabelValues(c.network, "collector", "process_head", errorType(err)).Inc()

				c.log.WithError(err).WithField("failures", failures).Warn("Failed to process head")

				if failures >= c.config.MaxConsecutiveFailures {
					return delivered, fmt.Errorf("collector halting after %d consecutive failures: %w", failures, err)
				}

				continue
			}

			failures = 0
		}
	}
}

// processHead re-fetches the announced block in full, normalizes it and
// buffers it for the next flush.
func (c *Collector) processHead(ctx context.Context, head *ethereum.RawBlock) error {
	number, ok, err := ethereum.ParseHexUint64(head.Number)
	if err != nil || !ok {
		return fmt.Errorf("malformed head number %q: %w", head.Number, err)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}

	raw, err := c.source.RawBlockByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("failed to fetch block %d: %w", number, err)
	}

	block, err := c.normalizer.Normalize(raw)
	if err != nil {
		return err
	}

	c.buffer = append(c.buffer, block)

	common.BlockHeight.WithLabelValues(c.network, "collector").Set(float64(block.Number))
	common.GasUtilization.WithLabelValues(c.network).Set(block.GasUtilization())
	common.HeadLag.WithLabelValues(c.network).Set(block.Age(time.Now()).Seconds())

	c.log.WithFields(logrus.Fields{
		"number":       block.Number,
		"transactions": block.TransactionCount,
	}).Debug("Buffered head")

	return c.maybeFlush(ctx, false)
}

// maybeFlush writes the buffer when it is full, or when forced and overdue.
func (c *Collector) maybeFlush(ctx context.Context, force bool) error {
	if len(c.buffer) == 0 {
		return nil
	}

	if !force && len(c.buffer) < c.config.BatchSize {
		return nil
	}

	return c.flush(ctx)
}

func (c *Collector) flush(ctx context.Context) error {
	if err := c.store.InsertBlocks(ctx, c.buffer); err != nil {
		return fmt.Errorf("failed to insert %d blocks: %w", len(c.buffer), err)
	}

	c.log.WithField("blocks", len(c.buffer)).Debug("Flushed block buffer")

	c.buffer = c.buffer[:0]

	return nil
}

func errorType(err error) string {
	var pe *ethereum.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind.String()
	}

	var schemaErr *normalize.SchemaError
	if errors.As(err, &schemaErr) {
		return "schema"
	}

	return "other"
}
