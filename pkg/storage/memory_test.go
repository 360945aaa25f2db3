package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaplessdata/block-ingestor/pkg/normalize"
)

func testBlock(number uint64, ts time.Time) *normalize.Block {
	return &normalize.Block{
		Number:     number,
		Hash:       "0xaa",
		ParentHash: "0xbb",
		Timestamp:  ts,
		GasLimit:   30000000,
		GasUsed:    10000000,
		Size:       50000,
	}
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.InsertBlocks(ctx, []*normalize.Block{testBlock(100, now)}))

	updated := testBlock(100, now)
	updated.GasUsed = 20000000
	require.NoError(t, store.InsertBlocks(ctx, []*normalize.Block{updated}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	got, err := store.GetBlock(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(20000000), got.GasUsed)
}

func TestMemoryStoreQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	for _, n := range []uint64{5, 1, 3, 9} {
		require.NoError(t, store.InsertBlocks(ctx, []*normalize.Block{testBlock(n, now)}))
	}

	rows, err := store.QueryRange(ctx, 2, 9)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(3), rows[0].Number)
	assert.Equal(t, uint64(9), rows[2].Number)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(9), latest.Number)

	minNum, maxNum, err := store.MinMaxNumbers(ctx)
	require.NoError(t, err)
	require.NotNil(t, minNum)
	require.NotNil(t, maxNum)
	assert.Equal(t, uint64(1), *minNum)
	assert.Equal(t, uint64(9), *maxNum)

	inRange, err := store.CountRange(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), inRange)

	missing, err := store.GetBlock(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	minNum, maxNum, err := store.MinMaxNumbers(ctx)
	require.NoError(t, err)
	assert.Nil(t, minNum)
	assert.Nil(t, maxNum)
}

func TestMemoryStoreMissingRanges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	// Stored: 1-3, 10, 11, 50. Gaps below 50: [4,9] and [12,49].
	for _, n := range []uint64{1, 2, 3, 10, 11, 50} {
		require.NoError(t, store.InsertBlocks(ctx, []*normalize.Block{testBlock(n, now)}))
	}

	ranges, err := store.MissingRanges(ctx, 50, 20)
	require.NoError(t, err)
	require.Len(t, ranges, 2)

	// Largest gap first.
	assert.Equal(t, BlockRange{Start: 12, End: 49}, ranges[0])
	assert.Equal(t, BlockRange{Start: 4, End: 9}, ranges[1])
	assert.Equal(t, uint64(38), ranges[0].Size())

	// Gaps beyond the ceiling are excluded entirely.
	ranges, err = store.MissingRanges(ctx, 11, 20)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, BlockRange{Start: 4, End: 9}, ranges[0])

	// The limit caps the result, keeping the largest.
	ranges, err = store.MissingRanges(ctx, 50, 1)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, uint64(12), ranges[0].Start)
}

func TestBlockRangeSize(t *testing.T) {
	assert.Equal(t, uint64(1), BlockRange{Start: 5, End: 5}.Size())
	assert.Equal(t, uint64(10), BlockRange{Start: 1, End: 10}.Size())
	assert.Equal(t, uint64(0), BlockRange{Start: 10, End: 1}.Size())
}
