package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
	"github.com/gaplessdata/block-ingestor/pkg/normalize"
)

// BlocksStore persists normalized blocks in ClickHouse.
type BlocksStore struct {
	client *Client
	table  string
	log    logrus.FieldLogger
}

var _ Store = (*BlocksStore)(nil)

// NewBlocksStore creates a store on top of an existing client.
func NewBlocksStore(log logrus.FieldLogger, client *Client) *BlocksStore {
	return &BlocksStore{
		client: client,
		table:  client.config.QualifiedTable(),
		log:    log.WithField("component", "blocks_store"),
	}
}

// InsertBlocks upserts a batch of blocks in one columnar insert. All rows in
// the batch share an updated_date_time so a retried batch replaces itself
// cleanly.
func (s *BlocksStore) InsertBlocks(ctx context.Context, blocks []*normalize.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	start := time.Now()
	operation := "insert_blocks"
	status := statusSuccess

	defer func() {
		s.client.recordMetrics(operation, status, time.Since(start))
	}()

	cols := NewColumns()
	updatedAt := time.Now().UTC()

	for _, b := range blocks {
		cols.Append(b, updatedAt)
	}

	err := s.client.doWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		return s.client.Do(attemptCtx, ch.Query{
			Body:  fmt.Sprintf("INSERT INTO %s VALUES", s.table),
			Input: cols.Input(),
		})
	})
	if err != nil {
		status = statusFailed

		return fmt.Errorf("insert failed: %w", err)
	}

	common.BlocksIngested.WithLabelValues(s.client.config.Network, "store").Add(float64(len(blocks)))

	return nil
}

// GetBlock returns the stored block at the given height, or nil if absent.
func (s *BlocksStore) GetBlock(ctx context.Context, number uint64) (*StoredBlock, error) {
	rows, err := s.queryBlocks(ctx, "get_block", fmt.Sprintf(
		"%s FROM %s FINAL WHERE number = %d LIMIT 1",
		readColumnsSelect, s.table, number,
	))
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return &rows[0], nil
}

// QueryRange returns stored blocks in [start, end], ordered by number.
func (s *BlocksStore) QueryRange(ctx context.Context, startNum, endNum uint64) ([]StoredBlock, error) {
	if endNum < startNum {
		return nil, fmt.Errorf("invalid range [%d, %d]", startNum, endNum)
	}

	return s.queryBlocks(ctx, "query_range", fmt.Sprintf(
		"%s FROM %s FINAL WHERE number BETWEEN %d AND %d ORDER BY number ASC",
		readColumnsSelect, s.table, startNum, endNum,
	))
}

// Latest returns the highest stored block, or nil if the store is empty.
func (s *BlocksStore) Latest(ctx context.Context) (*StoredBlock, error) {
	rows, err := s.queryBlocks(ctx, "latest", fmt.Sprintf(
		"%s FROM %s FINAL ORDER BY number DESC LIMIT 1",
		readColumnsSelect, s.table,
	))
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return &rows[0], nil
}

// Count returns the number of distinct stored blocks.
func (s *BlocksStore) Count(ctx context.Context) (uint64, error) {
	return s.queryCount(ctx, "count", fmt.Sprintf(
		"SELECT count() AS count FROM %s FINAL", s.table,
	))
}

// CountRange returns the number of distinct stored blocks in [start, end].
func (s *BlocksStore) CountRange(ctx context.Context, startNum, endNum uint64) (uint64, error) {
	return s.queryCount(ctx, "count_range", fmt.Sprintf(
		"SELECT count() AS count FROM %s FINAL WHERE number BETWEEN %d AND %d",
		s.table, startNum, endNum,
	))
}

// MinMaxNumbers returns the lowest and highest stored block numbers.
func (s *BlocksStore) MinMaxNumbers(ctx context.Context) (minNumber, maxNumber *uint64, err error) {
	start := time.Now()
	operation := "min_max_numbers"
	status := statusSuccess

	defer func() {
		s.client.recordMetrics(operation, status, time.Since(start))
	}()

	colCount := new(proto.ColUInt64)
	colMin := new(proto.ColUInt64)
	colMax := new(proto.ColUInt64)

	err = s.client.doWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		colCount.Reset()
		colMin.Reset()
		colMax.Reset()

		minNumber = nil
		maxNumber = nil

		return s.client.Do(attemptCtx, ch.Query{
			Body: fmt.Sprintf(
				"SELECT count() AS count, min(number) AS min, max(number) AS max FROM %s FINAL",
				s.table,
			),
			Result: proto.Results{
				{Name: "count", Data: colCount},
				{Name: "min", Data: colMin},
				{Name: "max", Data: colMax},
			},
			OnResult: func(_ context.Context, _ proto.Block) error {
				// min()/max() over an empty table return zeroes; the count
				// column tells the two states apart.
				if colCount.Rows() > 0 && colCount.Row(0) > 0 {
					minVal := colMin.Row(0)
					maxVal := colMax.Row(0)
					minNumber = &minVal
					maxNumber = &maxVal
				}

				return nil
			},
		})
	})
	if err != nil {
		status = statusFailed

		return nil, nil, fmt.Errorf("query failed: %w", err)
	}

	return minNumber, maxNumber, nil
}

// MissingRanges finds gaps between consecutive stored block numbers at or
// below the given height using a window function, largest gaps first. The
// default third argument to lagInFrame makes the first row compare against
// itself, so the scan start never reports a phantom gap.
func (s *BlocksStore) MissingRanges(ctx context.Context, below uint64, limit int) ([]BlockRange, error) {
	start := time.Now()
	operation := "missing_ranges"
	status := statusSuccess

	defer func() {
		s.client.recordMetrics(operation, status, time.Since(start))
	}()

	query := fmt.Sprintf(`
SELECT
    prev_number + 1 AS gap_start,
    number - 1 AS gap_end
FROM (
    SELECT
        number,
        lagInFrame(number, 1, number) OVER (ORDER BY number ASC ROWS BETWEEN 1 PRECEDING AND CURRENT ROW) AS prev_number
    FROM %s FINAL
    WHERE number <= %d
)
WHERE number - prev_number > 1
ORDER BY (number - prev_number) DESC, gap_start ASC
LIMIT %d`, s.table, below, limit)

	colStart := new(proto.ColUInt64)
	colEnd := new(proto.ColUInt64)

	ranges := make([]BlockRange, 0)

	err := s.client.doWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		colStart.Reset()
		colEnd.Reset()

		ranges = ranges[:0]

		return s.client.Do(attemptCtx, ch.Query{
			Body: query,
			Result: proto.Results{
				{Name: "gap_start", Data: colStart},
				{Name: "gap_end", Data: colEnd},
			},
			OnResult: func(_ context.Context, _ proto.Block) error {
				for i := 0; i < colStart.Rows(); i++ {
					ranges = append(ranges, BlockRange{
						Start: colStart.Row(i),
						End:   colEnd.Row(i),
					})
				}

				return nil
			},
		})
	})
	if err != nil {
		status = statusFailed

		return nil, fmt.Errorf("query failed: %w", err)
	}

	return ranges, nil
}

const readColumnsSelect = "SELECT number, hash, timestamp, gas_limit, gas_used, base_fee_per_gas, transaction_count"

func (s *BlocksStore) queryBlocks(ctx context.Context, operation, query string) ([]StoredBlock, error) {
	start := time.Now()
	status := statusSuccess

	defer func() {
		s.client.recordMetrics(operation, status, time.Since(start))
	}()

	colNumber := new(proto.ColUInt64)
	colHash := new(proto.ColStr)
	colTimestamp := new(proto.ColDateTime64).WithPrecision(proto.PrecisionMilli)
	colGasLimit := new(proto.ColUInt64)
	colGasUsed := new(proto.ColUInt64)
	colBaseFee := new(proto.ColUInt64).Nullable()
	colTxCount := new(proto.ColUInt64)

	rows := make([]StoredBlock, 0)

	err := s.client.doWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		colNumber.Reset()
		colHash.Reset()
		colTimestamp.Reset()
		colGasLimit.Reset()
		colGasUsed.Reset()
		colBaseFee.Reset()
		colTxCount.Reset()

		rows = rows[:0]

		return s.client.Do(attemptCtx, ch.Query{
			Body: query,
			Result: proto.Results{
				{Name: "number", Data: colNumber},
				{Name: "hash", Data: colHash},
				{Name: "timestamp", Data: colTimestamp},
				{Name: "gas_limit", Data: colGasLimit},
				{Name: "gas_used", Data: colGasUsed},
				{Name: "base_fee_per_gas", Data: colBaseFee},
				{Name: "transaction_count", Data: colTxCount},
			},
			OnResult: func(_ context.Context, _ proto.Block) error {
				for i := 0; i < colNumber.Rows(); i++ {
					row := StoredBlock{
						Number:           colNumber.Row(i),
						Hash:             colHash.Row(i),
						Timestamp:        colTimestamp.Row(i),
						GasLimit:         colGasLimit.Row(i),
						GasUsed:          colGasUsed.Row(i),
						TransactionCount: colTxCount.Row(i),
					}

					if baseFee := colBaseFee.Row(i); baseFee.Set {
						v := baseFee.Value
						row.BaseFeePerGas = &v
					}

					rows = append(rows, row)
				}

				return nil
			},
		})
	})
	if err != nil {
		status = statusFailed

		return nil, fmt.Errorf("query failed: %w", err)
	}

	return rows, nil
}

func (s *BlocksStore) queryCount(ctx context.Context, operation, query string) (uint64, error) {
	start := time.Now()
	status := statusSuccess

	defer func() {
		s.client.recordMetrics(operation, status, time.Since(start))
	}()

	var count uint64

	col := new(proto.ColUInt64)

	err := s.client.doWithRetry(ctx, operation, func(attemptCtx context.Context) error {
		col.Reset()

		count = 0

		return s.client.Do(attemptCtx, ch.Query{
			Body: query,
			Result: proto.Results{
				{Name: "count", Data: col},
			},
			OnResult: func(_ context.Context, _ proto.Block) error {
				if col.Rows() > 0 {
					count = col.Row(0)
				}

				return nil
			},
		})
	})
	if err != nil {
		status = statusFailed

		return 0, fmt.Errorf("query failed: %w", err)
	}

	return count, nil
}
