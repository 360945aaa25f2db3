package backfill

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaplessdata/block-ingestor/internal/testutil"
	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
	"github.com/gaplessdata/block-ingestor/pkg/normalize"
	"github.com/gaplessdata/block-ingestor/pkg/ratelimit"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

// fakeSource serves synthetic pre-London blocks and can inject failures per
// sub-batch start number.
type fakeSource struct {
	mu       sync.Mutex
	calls    int
	failures map[uint64][]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{failures: make(map[uint64][]error)}
}

func (f *fakeSource) failAt(start uint64, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[start] = append(f.failures[start], errs...)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *fakeSource) RawBlocksByRange(_ context.Context, start, end uint64) ([]*ethereum.RawBlock, error) {
	f.mu.Lock()
	f.calls++

	if errs := f.failures[start]; len(errs) > 0 {
		err := errs[0]
		f.failures[start] = errs[1:]
		f.mu.Unlock()

		return nil, err
	}
	f.mu.Unlock()

	blocks := make([]*ethereum.RawBlock, 0, end-start)

	for n := start; n < end; n++ {
		blocks = append(blocks, &ethereum.RawBlock{
			Number:          ethereum.HexUint64(n),
			Hash:            fmt.Sprintf("0x%064x", n),
			ParentHash:      fmt.Sprintf("0x%064x", n-1),
			Timestamp:       ethereum.HexUint64(1438269988 + n*13),
			GasLimit:        "0x1c9c380",
			GasUsed:         "0x5208",
			Difficulty:      "0x400000000",
			TotalDifficulty: "0x400000000",
			Size:            "0x220",
		})
	}

	return blocks, nil
}

func newTestProcessor(t *testing.T, source BlockSource) (*Processor, *storage.MemoryStore, *CheckpointStore, *Config) {
	t.Helper()

	client, _ := testutil.NewMiniredisClient(t)
	checkpoints := NewCheckpointStore(client, "block-ingestor", "mainnet")
	store := storage.NewMemoryStore()

	limiter, err := ratelimit.New(&ratelimit.Config{Provider: "test", SustainedRPS: 10000})
	require.NoError(t, err)

	cfg := &Config{
		StartBlock:       0,
		EndBlock:         300,
		ChunkSize:        100,
		SubBatchSize:     50,
		Concurrency:      1,
		MaxChunkAttempts: 3,
		PollInterval:     10 * time.Millisecond,
	}

	retryCfg := &ethereum.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	processor := NewProcessor(
		log,
		source,
		limiter,
		normalize.NewNormalizer(normalize.MainnetRules()),
		store,
		checkpoints,
		retryCfg,
		cfg,
		"mainnet",
	)

	return processor, store, checkpoints, cfg
}

func chunkTask(t *testing.T, runID string, chunk Chunk) *asynq.Task {
	t.Helper()

	task, err := NewChunkTask(&ChunkPayload{
		RunID:      runID,
		ChunkIndex: chunk.Index,
		StartBlock: chunk.Start,
		EndBlock:   chunk.End,
		Network:    "mainnet",
	})
	require.NoError(t, err)

	return task
}

func TestHandleChunkTaskSuccess(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	processor, store, checkpoints, cfg := newTestProcessor(t, source)
	runID := checkpoints.RunID(cfg)

	chunk := Chunk{Index: 0, Start: 0, End: 100}
	require.NoError(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunk)))

	count, err := store.CountRange(ctx, 0, 99)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), count)

	done, err := checkpoints.IsCompleted(ctx, runID, 0)
	require.NoError(t, err)
	assert.True(t, done)

	// 100 blocks at sub-batch 50 is two upstream requests.
	assert.Equal(t, 2, source.callCount())
}

func TestHandleChunkTaskSkipsCompleted(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	processor, _, checkpoints, cfg := newTestProcessor(t, source)
	runID := checkpoints.RunID(cfg)

	require.NoError(t, checkpoints.MarkCompleted(ctx, runID, 0))

	chunk := Chunk{Index: 0, Start: 0, End: 100}
	require.NoError(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunk)))

	assert.Equal(t, 0, source.callCount())
}

func TestHandleChunkTaskRetriesTransientFetch(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.failAt(50, syscall.ECONNRESET, syscall.ECONNRESET)

	processor, store, checkpoints, cfg := newTestProcessor(t, source)
	runID := checkpoints.RunID(cfg)

	chunk := Chunk{Index: 0, Start: 0, End: 100}
	require.NoError(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunk)))

	count, err := store.CountRange(ctx, 0, 99)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), count)

	// Two failed attempts at block 50 plus the two successful sub-batches.
	assert.Equal(t, 4, source.callCount())
}

func TestHandleChunkTaskFatalHalts(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.failAt(100, &ethereum.ProviderError{
		Kind:   ethereum.KindFatal,
		Method: "eth_getBlockByNumber",
		Err:    ethereum.ErrBlockNotFound,
	})

	processor, store, checkpoints, cfg := newTestProcessor(t, source)
	runID := checkpoints.RunID(cfg)

	chunk := Chunk{Index: 1, Start: 100, End: 200}
	err := processor.handleChunkTask(ctx, chunkTask(t, runID, chunk))

	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	failed, err := checkpoints.FailedChunks(ctx, runID)
	require.NoError(t, err)
	require.Contains(t, failed, "1")

	done, err := checkpoints.IsCompleted(ctx, runID, 1)
	require.NoError(t, err)
	assert.False(t, done)

	// Nothing from the failed chunk was stored.
	count, err := store.CountRange(ctx, 100, 199)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestResumedRunFillsRangeExactly(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()

	// First run: chunk 1 dies on a transient error that outlives the retry
	// budget, chunks 0 and 2 complete.
	source.failAt(100, syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET)

	processor, store, checkpoints, cfg := newTestProcessor(t, source)
	runID := checkpoints.RunID(cfg)
	chunks := Partition(cfg.StartBlock, cfg.EndBlock, cfg.ChunkSize)
	require.Len(t, chunks, 3)

	require.NoError(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunks[0])))
	require.Error(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunks[1])))
	require.NoError(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunks[2])))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), count)

	// Second invocation after the upstream recovers: only the incomplete
	// chunk is reprocessed, and the range ends up complete with no overlap
	// artifacts.
	require.NoError(t, checkpoints.ClearFailures(ctx, runID))

	callsBefore := source.callCount()

	for _, chunk := range chunks {
		require.NoError(t, processor.handleChunkTask(ctx, chunkTask(t, runID, chunk)))
	}

	assert.Equal(t, callsBefore+2, source.callCount())

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), count)

	missing, err := store.MissingRanges(ctx, 299, 20)
	require.NoError(t, err)
	assert.Empty(t, missing)

	completed, err := checkpoints.CompletedCount(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), completed)
}

func TestHandleChunkTaskSchemaViolationIsFatal(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	processor, _, checkpoints, cfg := newTestProcessor(t, source)

	// Post-London chunk without base fees violates the era rules.
	chunk := Chunk{Index: 0, Start: normalize.LondonBlock, End: normalize.LondonBlock + 10}
	cfgCopy := *cfg
	cfgCopy.StartBlock = chunk.Start
	cfgCopy.EndBlock = chunk.End

	err := processor.handleChunkTask(ctx, chunkTask(t, checkpoints.RunID(&cfgCopy), chunk))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	failed, err := checkpoints.FailedChunks(ctx, checkpoints.RunID(&cfgCopy))
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}
