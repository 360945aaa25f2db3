package ethereum

import (
	"context"
	"fmt"
	"time"

	"github.com/0xsequence/ethkit/ethrpc"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

const (
	STATUS_ERROR   = "error"
	STATUS_SUCCESS = "success"
)

// withRequestTimeout applies the configured per-call timeout unless the caller
// already set a deadline.
func (n *Node) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, n.config.RequestTimeout)
}

func (n *Node) recordRPCMetrics(method, status string, duration time.Duration) {
	common.RPCCallDuration.WithLabelValues(n.config.Network, n.config.Name, method, status).Observe(duration.Seconds())
	common.RPCCallsTotal.WithLabelValues(n.config.Network, n.config.Name, method, status).Inc()
}

// BlockNumber returns the current chain head height.
func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := n.withRequestTimeout(ctx)
	defer cancel()

	var blockNumber uint64

	start := time.Now()
	_, err := n.rpc.Do(ctx, ethrpc.BlockNumber().Into(&blockNumber))
	duration := time.Since(start)

	status := STATUS_SUCCESS
	if err != nil {
		status = STATUS_ERROR
	}

	n.recordRPCMetrics("eth_blockNumber", status, duration)

	if err != nil {
		return 0, NewProviderError("eth_blockNumber", err)
	}

	return blockNumber, nil
}

// RawBlockByNumber fetches one block with its full transaction hash list.
// Callers must hold a rate limiter permit.
func (n *Node) RawBlockByNumber(ctx context.Context, number uint64) (*RawBlock, error) {
	ctx, cancel := n.withRequestTimeout(ctx)
	defer cancel()

	var raw RawBlock

	call := ethrpc.NewCallBuilder[RawBlock]("eth_getBlockByNumber", nil, HexUint64(number), false)

	start := time.Now()
	_, err := n.rpc.Do(ctx, call.Into(&raw))
	duration := time.Since(start)

	status := STATUS_SUCCESS
	if err != nil {
		status = STATUS_ERROR
	}

	n.recordRPCMetrics("eth_getBlockByNumber", status, duration)

	if err != nil {
		return nil, NewProviderError("eth_getBlockByNumber", err)
	}

	if raw.Number == "" {
		return nil, &ProviderError{Kind: KindFatal, Method: "eth_getBlockByNumber", Err: fmt.Errorf("%w: %d", ErrBlockNotFound, number)}
	}

	return &raw, nil
}

// RawBlocksByRange fetches the half-open range [start, end) as a single
// batched JSON-RPC request. Ranges beyond the provider's batch ceiling are
// rejected as fatal; callers slice their ranges before asking. Callers must
// hold one rate limiter permit per call.
func (n *Node) RawBlocksByRange(ctx context.Context, start, end uint64) ([]*RawBlock, error) {
	if end <= start {
		return nil, nil
	}

	total := end - start
	if total > uint64(n.config.MaxBatchSize) {
		return nil, &ProviderError{
			Kind:   KindFatal,
			Method: "eth_getBlockByNumber",
			Err:    fmt.Errorf("%w: %d blocks > %d", ErrBatchTooLarge, total, n.config.MaxBatchSize),
		}
	}

	ctx, cancel := n.withRequestTimeout(ctx)
	defer cancel()

	blocks := make([]*RawBlock, total)
	calls := make([]ethrpc.Call, 0, total)

	for i := uint64(0); i < total; i++ {
		raw := &RawBlock{}
		blocks[i] = raw

		call := ethrpc.NewCallBuilder[RawBlock]("eth_getBlockByNumber", nil, HexUint64(start+i), false)
		calls = append(calls, call.Into(raw))
	}

	startTime := time.Now()
	_, err := n.rpc.Do(ctx, calls...)
	duration := time.Since(startTime)

	status := STATUS_SUCCESS
	if err != nil {
		status = STATUS_ERROR
	}

	n.recordRPCMetrics("eth_getBlockByNumber_batch", status, duration)

	if err != nil {
		return nil, NewProviderError("eth_getBlockByNumber", err)
	}

	for i, raw := range blocks {
		if raw.Number == "" {
			return nil, &ProviderError{
				Kind:   KindFatal,
				Method: "eth_getBlockByNumber",
				Err:    fmt.Errorf("%w: %d", ErrBlockNotFound, start+uint64(i)),
			}
		}
	}

	return blocks, nil
}

// FeeHistoryResult is the eth_feeHistory response with hex-encoded quantities.
type FeeHistoryResult struct {
	OldestBlock   string     `json:"oldestBlock"`
	BaseFeePerGas []string   `json:"baseFeePerGas"`
	GasUsedRatio  []float64  `json:"gasUsedRatio"`
	Reward        [][]string `json:"reward,omitempty"`
}

// FeeHistory queries base fee history for the given number of blocks ending at
// the chain head.
func (n *Node) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*FeeHistoryResult, error) {
	ctx, cancel := n.withRequestTimeout(ctx)
	defer cancel()

	var result FeeHistoryResult

	call := ethrpc.NewCallBuilder[FeeHistoryResult]("eth_feeHistory", nil, HexUint64(blockCount), "latest", rewardPercentiles)

	start := time.Now()
	_, err := n.rpc.Do(ctx, call.Into(&result))
	duration := time.Since(start)

	status := STATUS_SUCCESS
	if err != nil {
		status = STATUS_ERROR
	}

	n.recordRPCMetrics("eth_feeHistory", status, duration)

	if err != nil {
		return nil, NewProviderError("eth_feeHistory", err)
	}

	return &result, nil
}
