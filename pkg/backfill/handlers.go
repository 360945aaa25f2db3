package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
	"github.com/gaplessdata/block-ingestor/pkg/normalize"
	"github.com/gaplessdata/block-ingestor/pkg/ratelimit"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

// BlockSource fetches raw blocks from an upstream provider.
type BlockSource interface {
	// RawBlocksByRange fetches the half-open range [start, end) in one
	// batched request.
	RawBlocksByRange(ctx context.Context, start, end uint64) ([]*ethereum.RawBlock, error)
}

// Processor executes chunk tasks: fetch, normalize, upsert, checkpoint.
type Processor struct {
	log         logrus.FieldLogger
	source      BlockSource
	limiter     *ratelimit.Limiter
	normalizer  *normalize.Normalizer
	store       storage.Store
	checkpoints *CheckpointStore
	retryCfg    *ethereum.RetryConfig
	config      *Config
	network     string
}

// NewProcessor creates a chunk processor.
func NewProcessor(
	log logrus.FieldLogger,
	source BlockSource,
	limiter *ratelimit.Limiter,
	normalizer *normalize.Normalizer,
	store storage.Store,
	checkpoints *CheckpointStore,
	retryCfg *ethereum.RetryConfig,
	config *Config,
	network string,
) *Processor {
	return &Processor{
		log:         log.WithField("component", "backfill_processor"),
		source:      source,
		limiter:     limiter,
		normalizer:  normalizer,
		store:       store,
		checkpoints: checkpoints,
		retryCfg:    retryCfg,
		config:      config,
		network:     network,
	}
}

// GetHandlers returns the task handlers for this processor.
func (p *Processor) GetHandlers() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		ChunkTaskType: p.handleChunkTask,
	}
}

// handleChunkTask processes one chunk. Completed chunks are skipped so
// redelivery and resumed runs stay idempotent; incomplete chunks repeat from
// their start, which is safe because inserts are keyed upserts.
func (p *Processor) handleChunkTask(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var payload ChunkPayload
	if err := payload.UnmarshalBinary(task.Payload()); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", asynq.SkipRetry)
	}

	queue := ChunkQueue(payload.Network)

	defer func() {
		common.TaskProcessingDuration.WithLabelValues(p.network, queue, task.Type()).Observe(time.Since(start).Seconds())
	}()

	log := p.log.WithFields(logrus.Fields{
		"chunk": payload.ChunkIndex,
		"start": payload.StartBlock,
		"end":   payload.EndBlock,
	})

	done, err := p.checkpoints.IsCompleted(ctx, payload.RunID, payload.ChunkIndex)
	if err != nil {
		return fmt.Errorf("failed to check chunk completion: %w", err)
	}

	if done {
		log.Debug("Chunk already completed, skipping")

		return nil
	}

	if err := p.processChunk(ctx, log, &payload); err != nil {
		return p.failChunk(ctx, log, &payload, err)
	}

	if err := p.checkpoints.MarkCompleted(ctx, payload.RunID, payload.ChunkIndex); err != nil {
		return fmt.Errorf("failed to checkpoint chunk: %w", err)
	}

	common.ChunksCompleted.WithLabelValues(p.network).Inc()
	common.ChunkProcessingDuration.WithLabelValues(p.network).Observe(time.Since(start).Seconds())

	log.WithField("blocks", payload.EndBlock-payload.StartBlock).Info("Completed chunk")

	return nil
}

// processChunk fetches the chunk in rate-limited sub-batches, normalizes and
// upserts it, then verifies the stored row count.
func (p *Processor) processChunk(ctx context.Context, log logrus.FieldLogger, payload *ChunkPayload) error {
	blocks := make([]*normalize.Block, 0, payload.EndBlock-payload.StartBlock)

	for sub := payload.StartBlock; sub < payload.EndBlock; sub += p.config.SubBatchSize {
		subEnd := sub + p.config.SubBatchSize
		if subEnd > payload.EndBlock {
			subEnd = payload.EndBlock
		}

		var raws []*ethereum.RawBlock

		err := ethereum.Retry(ctx, log, p.retryCfg, "fetch_blocks", func(attemptCtx context.Context) error {
			// One permit per underlying batch request, per attempt.
			if acquireErr := p.limiter.Acquire(attemptCtx); acquireErr != nil {
				return acquireErr
			}

			var fetchErr error

			raws, fetchErr = p.source.RawBlocksByRange(attemptCtx, sub, subEnd)

			return fetchErr
		})
		if err != nil {
			return fmt.Errorf("failed to fetch blocks [%d, %d): %w", sub, subEnd, err)
		}

		for _, raw := range raws {
			block, normErr := p.normalizer.Normalize(raw)
			if normErr != nil {
				return normErr
			}

			blocks = append(blocks, block)
		}
	}

	if err := p.store.InsertBlocks(ctx, blocks); err != nil {
		return fmt.Errorf("failed to insert blocks: %w", err)
	}

	stored, err := p.store.CountRange(ctx, payload.StartBlock, payload.EndBlock-1)
	if err != nil {
		return fmt.Errorf("failed to verify chunk: %w", err)
	}

	if stored < uint64(len(blocks)) {
		return fmt.Errorf("chunk verification failed: stored %d of %d blocks", stored, len(blocks))
	}

	return nil
}

// failChunk classifies the failure. Fatal errors and exhausted attempt
// budgets are recorded as permanent so the scheduler halts the run instead of
// quietly leaving a hole.
func (p *Processor) failChunk(ctx context.Context, log logrus.FieldLogger, payload *ChunkPayload, err error) error {
	// Shutdown mid-task is not a chunk failure; asynq redelivers it.
	if ctx.Err() != nil {
		return err
	}

	var schemaErr *normalize.SchemaError

	fatal := errors.As(err, &schemaErr) || !ethereum.IsRetryable(err)

	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	lastAttempt := retryCount >= maxRetry

	if !fatal && !lastAttempt {
		common.ChunksFailed.WithLabelValues(p.network, "transient").Inc()
		log.WithError(err).Warn("Chunk failed, will retry")

		return err
	}

	errorType := "fatal"
	if !fatal {
		errorType = "exhausted"
	}

	common.ChunksFailed.WithLabelValues(p.network, errorType).Inc()

	if markErr := p.checkpoints.MarkFailed(ctx, payload.RunID, payload.ChunkIndex, err.Error()); markErr != nil {
		log.WithError(markErr).Error("Failed to record chunk failure")
	}

	log.WithError(err).Error("Chunk failed permanently")

	return fmt.Errorf("chunk %d failed permanently: %v: %w", payload.ChunkIndex, err, asynq.SkipRetry)
}
