package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func blockResult(number uint64) map[string]any {
	return map[string]any{
		"number":          HexUint64(number),
		"hash":            fmt.Sprintf("0x%064x", number),
		"parentHash":      fmt.Sprintf("0x%064x", number-1),
		"timestamp":       HexUint64(1438269988 + number*13),
		"gasLimit":        "0x1c9c380",
		"gasUsed":         "0x5208",
		"difficulty":      "0x400000000",
		"totalDifficulty": "0x400000000",
		"size":            "0x220",
		"transactions":    []string{},
	}
}

// newStubNode starts a JSON-RPC stub that serves eth_getBlockByNumber and
// eth_blockNumber for single and batched requests. Blocks at or above the
// missing height come back as null results.
func newStubNode(t *testing.T, missingFrom uint64) (*Node, *int) {
	t.Helper()

	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		batch := strings.HasPrefix(strings.TrimSpace(string(body)), "[")

		var reqs []rpcRequest
		if batch {
			require.NoError(t, json.Unmarshal(body, &reqs))
		} else {
			var single rpcRequest
			require.NoError(t, json.Unmarshal(body, &single))
			reqs = []rpcRequest{single}
		}

		responses := make([]map[string]any, 0, len(reqs))

		for _, req := range reqs {
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}

			switch req.Method {
			case "eth_blockNumber":
				resp["result"] = HexUint64(18_000_000)
			case "eth_getBlockByNumber":
				var numberHex string
				require.NoError(t, json.Unmarshal(req.Params[0], &numberHex))

				number, err := strconv.ParseUint(strings.TrimPrefix(numberHex, "0x"), 16, 64)
				require.NoError(t, err)

				if number >= missingFrom {
					resp["result"] = nil
				} else {
					resp["result"] = blockResult(number)
				}
			default:
				resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
			}

			responses = append(responses, resp)
		}

		w.Header().Set("Content-Type", "application/json")

		if batch {
			require.NoError(t, json.NewEncoder(w).Encode(responses))
		} else {
			require.NoError(t, json.NewEncoder(w).Encode(responses[0]))
		}
	}))
	t.Cleanup(server.Close)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	node, err := NewNode(log, &Config{
		Name:           "stub",
		NodeAddress:    server.URL,
		Network:        "mainnet",
		RequestTimeout: 5 * time.Second,
		MaxBatchSize:   50,
		Retry:          RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)

	return node, &requests
}

func TestBlockNumber(t *testing.T) {
	node, _ := newStubNode(t, 18_000_001)

	height, err := node.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(18_000_000), height)
}

func TestRawBlockByNumber(t *testing.T) {
	node, _ := newStubNode(t, 18_000_001)

	raw, err := node.RawBlockByNumber(context.Background(), 12_000_000)
	require.NoError(t, err)
	assert.Equal(t, HexUint64(12_000_000), raw.Number)
	assert.Equal(t, "0x1c9c380", raw.GasLimit)
}

func TestRawBlockByNumberNotFound(t *testing.T) {
	node, _ := newStubNode(t, 100)

	_, err := node.RawBlockByNumber(context.Background(), 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	assert.False(t, IsRetryable(err))
}

func TestRawBlocksByRange(t *testing.T) {
	node, requests := newStubNode(t, 18_000_001)

	blocks, err := node.RawBlocksByRange(context.Background(), 100, 110)
	require.NoError(t, err)
	require.Len(t, blocks, 10)

	for i, raw := range blocks {
		assert.Equal(t, HexUint64(uint64(100+i)), raw.Number)
	}

	// The whole range fits the batch ceiling, so one HTTP request suffices.
	assert.Equal(t, 1, *requests)
}

func TestRawBlocksByRangeEmpty(t *testing.T) {
	node, requests := newStubNode(t, 18_000_001)

	blocks, err := node.RawBlocksByRange(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Zero(t, *requests)
}

func TestRawBlocksByRangeExceedsBatchCeiling(t *testing.T) {
	node, requests := newStubNode(t, 18_000_001)

	_, err := node.RawBlocksByRange(context.Background(), 0, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.False(t, IsRetryable(err))
	assert.Zero(t, *requests)
}

func TestRawBlocksByRangeMissingBlockIsFatal(t *testing.T) {
	node, _ := newStubNode(t, 105)

	_, err := node.RawBlocksByRange(context.Background(), 100, 110)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	assert.False(t, IsRetryable(err))
}

func TestFeeHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "eth_feeHistory", req.Method)

		w.Header().Set("Content-Type", "application/json")

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"oldestBlock":   "0x112a87c",
				"baseFeePerGas": []string{"0x3b9aca00", "0x3f5476a0"},
				"gasUsedRatio":  []float64{0.52, 0.48},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	node, err := NewNode(log, &Config{
		Name:           "stub",
		NodeAddress:    server.URL,
		Network:        "mainnet",
		RequestTimeout: 5 * time.Second,
		MaxBatchSize:   50,
		Retry:          RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)

	result, err := node.FeeHistory(context.Background(), 2, []float64{50})
	require.NoError(t, err)
	assert.Equal(t, "0x112a87c", result.OldestBlock)
	assert.Len(t, result.BaseFeePerGas, 2)
	assert.Len(t, result.GasUsedRatio, 2)
}
