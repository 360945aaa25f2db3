package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/gaplessdata/block-ingestor/pkg/normalize"
)

// MemoryStore is an in-memory Store with the same upsert semantics as the
// ClickHouse implementation. It backs unit tests; production always runs on
// BlocksStore.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[uint64]StoredBlock

	// InsertErr, when set, is returned by the next InsertBlocks call.
	InsertErr error

	// InsertedBatches records the block numbers of every successful batch.
	InsertedBatches [][]uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[uint64]StoredBlock),
	}
}

func (m *MemoryStore) InsertBlocks(_ context.Context, blocks []*normalize.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		err := m.InsertErr
		m.InsertErr = nil

		return err
	}

	batch := make([]uint64, 0, len(blocks))

	for _, b := range blocks {
		m.blocks[b.Number] = StoredBlock{
			Number:           b.Number,
			Hash:             b.Hash,
			Timestamp:        b.Timestamp,
			GasLimit:         b.GasLimit,
			GasUsed:          b.GasUsed,
			BaseFeePerGas:    b.BaseFeePerGas,
			TransactionCount: b.TransactionCount,
		}

		batch = append(batch, b.Number)
	}

	m.InsertedBatches = append(m.InsertedBatches, batch)

	return nil
}

func (m *MemoryStore) GetBlock(_ context.Context, number uint64) (*StoredBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blocks[number]
	if !ok {
		return nil, nil
	}

	return &b, nil
}

func (m *MemoryStore) QueryRange(_ context.Context, start, end uint64) ([]StoredBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]StoredBlock, 0)

	for number, b := range m.blocks {
		if number >= start && number <= end {
			rows = append(rows, b)
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })

	return rows, nil
}

func (m *MemoryStore) Latest(_ context.Context) (*StoredBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *StoredBlock

	for number := range m.blocks {
		if latest == nil || number > latest.Number {
			b := m.blocks[number]
			latest = &b
		}
	}

	return latest, nil
}

func (m *MemoryStore) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return uint64(len(m.blocks)), nil
}

func (m *MemoryStore) CountRange(_ context.Context, start, end uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count uint64

	for number := range m.blocks {
		if number >= start && number <= end {
			count++
		}
	}

	return count, nil
}

func (m *MemoryStore) MinMaxNumbers(_ context.Context) (minNumber, maxNumber *uint64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for number := range m.blocks {
		n := number

		if minNumber == nil || n < *minNumber {
			minNumber = &n
		}

		if maxNumber == nil || n > *maxNumber {
			maxNumber = &n
		}
	}

	return minNumber, maxNumber, nil
}

func (m *MemoryStore) MissingRanges(_ context.Context, below uint64, limit int) ([]BlockRange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	numbers := make([]uint64, 0, len(m.blocks))

	for number := range m.blocks {
		if number <= below {
			numbers = append(numbers, number)
		}
	}

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	ranges := make([]BlockRange, 0)

	for i := 1; i < len(numbers); i++ {
		if numbers[i]-numbers[i-1] > 1 {
			ranges = append(ranges, BlockRange{Start: numbers[i-1] + 1, End: numbers[i] - 1})
		}
	}

	// Largest first, ties by position.
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Size() > ranges[j].Size() })

	if limit > 0 && len(ranges) > limit {
		ranges = ranges[:limit]
	}

	return ranges, nil
}
