package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

// Scheduler drives a backfill run: it partitions the range into chunks,
// enqueues the ones not yet completed, runs chunk workers, and polls progress
// until the run finishes or a chunk fails permanently. A permanent failure
// halts the run; the remaining range is never skipped past.
type Scheduler struct {
	log         logrus.FieldLogger
	client      *asynq.Client
	inspector   *asynq.Inspector
	server      *asynq.Server
	processor   *Processor
	checkpoints *CheckpointStore
	config      *Config
	network     string
}

// NewScheduler creates a backfill scheduler. The asynq client and server get
// their own Redis connections so shutdown ordering stays independent of the
// shared client.
func NewScheduler(
	log logrus.FieldLogger,
	redisClient *redis.Client,
	processor *Processor,
	checkpoints *CheckpointStore,
	config *Config,
	network string,
) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	redisOpt := redisClient.Options()
	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:     redisOpt.Addr,
		Password: redisOpt.Password,
		DB:       redisOpt.DB,
	}

	queue := ChunkQueue(network)

	server := asynq.NewServer(asynqRedisOpt, asynq.Config{
		Concurrency: config.Concurrency,
		Queues:      map[string]int{queue: 1},
		LogLevel:    asynq.InfoLevel,
	})

	return &Scheduler{
		log:         log.WithField("component", "backfill_scheduler"),
		client:      asynq.NewClient(asynqRedisOpt),
		inspector:   asynq.NewInspector(asynqRedisOpt),
		server:      server,
		processor:   processor,
		checkpoints: checkpoints,
		config:      config,
		network:     network,
	}, nil
}

// Run executes the backfill to completion. It returns nil when every chunk is
// completed, and an error naming the failed chunks when the run halts.
func (s *Scheduler) Run(ctx context.Context) error {
	chunks := Partition(s.config.StartBlock, s.config.EndBlock, s.config.ChunkSize)
	runID := s.checkpoints.RunID(s.config)
	queue := ChunkQueue(s.network)

	s.log.WithFields(logrus.Fields{
		"run_id":      runID,
		"start_block": s.config.StartBlock,
		"end_block":   s.config.EndBlock,
		"chunks":      len(chunks),
		"chunk_size":  s.config.ChunkSize,
		"concurrency": s.config.Concurrency,
	}).Info("Starting backfill run")

	// A fresh invocation retries chunks that halted the previous run.
	if err := s.checkpoints.ClearFailures(ctx, runID); err != nil {
		return fmt.Errorf("failed to reset failure records: %w", err)
	}

	enqueued, err := s.enqueuePending(ctx, runID, queue, chunks)
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"enqueued": enqueued,
		"resumed":  len(chunks) - enqueued,
	}).Info("Enqueued backfill chunks")

	mux := asynq.NewServeMux()

	for taskType, handler := range s.processor.GetHandlers() {
		mux.HandleFunc(taskType, handler)
	}

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	defer func() {
		s.server.Shutdown()

		if closeErr := s.client.Close(); closeErr != nil {
			s.log.WithError(closeErr).Warn("Failed to close task client")
		}

		if closeErr := s.inspector.Close(); closeErr != nil {
			s.log.WithError(closeErr).Warn("Failed to close task inspector")
		}
	}()

	return s.waitForCompletion(ctx, runID, len(chunks))
}

// enqueuePending enqueues every chunk that is not already checkpointed.
// Stable task IDs make re-enqueueing a no-op for tasks still in the queue;
// tasks archived by a permanent failure are replaced so a re-driven run can
// retry them.
func (s *Scheduler) enqueuePending(ctx context.Context, runID, queue string, chunks []Chunk) (int, error) {
	enqueued := 0

	for _, chunk := range chunks {
		done, err := s.checkpoints.IsCompleted(ctx, runID, chunk.Index)
		if err != nil {
			return enqueued, fmt.Errorf("failed to check chunk %d: %w", chunk.Index, err)
		}

		if done {
			continue
		}

		task, err := NewChunkTask(&ChunkPayload{
			RunID:      runID,
			ChunkIndex: chunk.Index,
			StartBlock: chunk.Start,
			EndBlock:   chunk.End,
			Network:    s.network,
		})
		if err != nil {
			return enqueued, fmt.Errorf("failed to build chunk task: %w", err)
		}

		taskID := fmt.Sprintf("%s:%s:%d", s.network, runID, chunk.Index)
		opts := []asynq.Option{
			asynq.Queue(queue),
			asynq.TaskID(taskID),
			asynq.MaxRetry(s.config.MaxChunkAttempts - 1),
		}

		_, err = s.client.EnqueueContext(ctx, task, opts...)
		if err != nil {
			if !errors.Is(err, asynq.ErrTaskIDConflict) {
				return enqueued, fmt.Errorf("failed to enqueue chunk %d: %w", chunk.Index, err)
			}

			// The stable ID is already taken. A task still pending or
			// retrying from an interrupted run will be processed as is, but
			// a task archived by a permanent failure would otherwise hold
			// the ID forever and starve the resumed run. Those are deleted
			// and enqueued fresh.
			info, infoErr := s.inspector.GetTaskInfo(queue, taskID)
			if infoErr != nil {
				return enqueued, fmt.Errorf("failed to inspect chunk %d: %w", chunk.Index, infoErr)
			}

			if info.State != asynq.TaskStateArchived {
				continue
			}

			if delErr := s.inspector.DeleteTask(queue, taskID); delErr != nil {
				return enqueued, fmt.Errorf("failed to delete archived chunk %d: %w", chunk.Index, delErr)
			}

			if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
				return enqueued, fmt.Errorf("failed to re-enqueue chunk %d: %w", chunk.Index, err)
			}

			s.log.WithField("chunk", chunk.Index).Info("Re-enqueued previously failed chunk")
		}

		common.TasksEnqueued.WithLabelValues(s.network, queue).Inc()

		enqueued++
	}

	return enqueued, nil
}

// waitForCompletion polls checkpoint state until the run completes or halts.
func (s *Scheduler) waitForCompletion(ctx context.Context, runID string, total int) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Backfill interrupted, progress is checkpointed")

			return ctx.Err()
		case <-ticker.C:
			failed, err := s.checkpoints.FailedChunks(ctx, runID)
			if err != nil {
				return err
			}

			if len(failed) > 0 {
				indexes := make([]string, 0, len(failed))

				for idx := range failed {
					indexes = append(indexes, idx)
				}

				sort.Strings(indexes)

				for _, idx := range indexes {
					s.log.WithFields(logrus.Fields{
						"chunk":  idx,
						"reason": failed[idx],
					}).Error("Chunk failed permanently")
				}

				return fmt.Errorf("backfill halted: %d chunk(s) failed permanently, first: chunk %s: %s",
					len(failed), indexes[0], failed[indexes[0]])
			}

			completed, err := s.checkpoints.CompletedCount(ctx, runID)
			if err != nil {
				return err
			}

			s.log.WithFields(logrus.Fields{
				"completed": completed,
				"total":     total,
			}).Info("Backfill progress")

			if completed >= int64(total) {
				s.log.Info("Backfill run completed")

				return nil
			}
		}
	}
}
