package storage

import (
	"context"
	"time"

	"github.com/gaplessdata/block-ingestor/pkg/normalize"
)

// StoredBlock is the read model for completeness queries. Monitoring only
// needs identity, timing and gas columns; full rows stay in ClickHouse.
type StoredBlock struct {
	Number           uint64
	Hash             string
	Timestamp        time.Time
	GasLimit         uint64
	GasUsed          uint64
	BaseFeePerGas    *uint64
	TransactionCount uint64
}

// BlockRange is an inclusive run of block numbers.
type BlockRange struct {
	Start uint64
	End   uint64
}

// Size returns the number of blocks covered by the range.
func (r BlockRange) Size() uint64 {
	if r.End < r.Start {
		return 0
	}

	return r.End - r.Start + 1
}

// Store is the block persistence interface. Writes are idempotent: inserting
// a block number that already exists replaces the stored row.
type Store interface {
	// InsertBlocks upserts a batch of normalized blocks.
	InsertBlocks(ctx context.Context, blocks []*normalize.Block) error

	// GetBlock returns the block at the given height, or nil if absent.
	GetBlock(ctx context.Context, number uint64) (*StoredBlock, error)

	// QueryRange returns stored blocks in [start, end], ordered by number.
	QueryRange(ctx context.Context, start, end uint64) ([]StoredBlock, error)

	// Latest returns the highest stored block, or nil if the store is empty.
	Latest(ctx context.Context) (*StoredBlock, error)

	// Count returns the number of distinct stored blocks.
	Count(ctx context.Context) (uint64, error)

	// CountRange returns the number of distinct stored blocks in [start, end].
	CountRange(ctx context.Context, start, end uint64) (uint64, error)

	// MinMaxNumbers returns the lowest and highest stored block numbers.
	// Both are nil if the store is empty.
	MinMaxNumbers(ctx context.Context) (minNumber, maxNumber *uint64, err error)

	// MissingRanges returns up to limit gaps between stored blocks at or
	// below the given height, largest first.
	MissingRanges(ctx context.Context, below uint64, limit int) ([]BlockRange, error)
}
