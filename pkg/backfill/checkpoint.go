package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkpointTTL keeps finished run state around long enough to resume an
// interrupted run, without accumulating keys forever.
const checkpointTTL = 30 * 24 * time.Hour

// CheckpointStore records per-chunk completion in Redis. Keys are namespaced
// by the run signature (network, range, chunk size), so re-running the same
// command resumes, while a run with different parameters starts fresh.
type CheckpointStore struct {
	client  *redis.Client
	prefix  string
	network string
}

// NewCheckpointStore creates a checkpoint store.
func NewCheckpointStore(client *redis.Client, prefix, network string) *CheckpointStore {
	return &CheckpointStore{
		client:  client,
		prefix:  prefix,
		network: network,
	}
}

// RunID derives the signature for a backfill run from its parameters.
func (s *CheckpointStore) RunID(cfg *Config) string {
	return fmt.Sprintf("%d-%d-%d", cfg.StartBlock, cfg.EndBlock, cfg.ChunkSize)
}

func (s *CheckpointStore) completedKey(runID string) string {
	return fmt.Sprintf("%s:backfill:%s:%s:completed", s.prefix, s.network, runID)
}

func (s *CheckpointStore) failedKey(runID string) string {
	return fmt.Sprintf("%s:backfill:%s:%s:failed", s.prefix, s.network, runID)
}

// MarkCompleted records a chunk as done.
func (s *CheckpointStore) MarkCompleted(ctx context.Context, runID string, chunkIndex int) error {
	key := s.completedKey(runID)

	if err := s.client.SAdd(ctx, key, chunkIndex).Err(); err != nil {
		return fmt.Errorf("failed to mark chunk %d completed: %w", chunkIndex, err)
	}

	return s.client.Expire(ctx, key, checkpointTTL).Err()
}

// IsCompleted reports whether a chunk has already been processed.
func (s *CheckpointStore) IsCompleted(ctx context.Context, runID string, chunkIndex int) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.completedKey(runID), chunkIndex).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check chunk %d: %w", chunkIndex, err)
	}

	return ok, nil
}

// CompletedCount returns the number of completed chunks in the run.
func (s *CheckpointStore) CompletedCount(ctx context.Context, runID string) (int64, error) {
	n, err := s.client.SCard(ctx, s.completedKey(runID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count completed chunks: %w", err)
	}

	return n, nil
}

// MarkFailed records a chunk as permanently failed with its reason.
func (s *CheckpointStore) MarkFailed(ctx context.Context, runID string, chunkIndex int, reason string) error {
	key := s.failedKey(runID)

	if err := s.client.HSet(ctx, key, fmt.Sprintf("%d", chunkIndex), reason).Err(); err != nil {
		return fmt.Errorf("failed to mark chunk %d failed: %w", chunkIndex, err)
	}

	return s.client.Expire(ctx, key, checkpointTTL).Err()
}

// FailedChunks returns permanently failed chunks and their failure reasons,
// keyed by chunk index.
func (s *CheckpointStore) FailedChunks(ctx context.Context, runID string) (map[string]string, error) {
	failures, err := s.client.HGetAll(ctx, s.failedKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed chunks: %w", err)
	}

	return failures, nil
}

// ClearFailures drops failure records so a new invocation retries the
// chunks that halted the previous run. Completion records are kept.
func (s *CheckpointStore) ClearFailures(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.failedKey(runID)).Err()
}

// Clear removes all state for a run.
func (s *CheckpointStore) Clear(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.completedKey(runID), s.failedKey(runID)).Err()
}
