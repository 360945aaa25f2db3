package ethereum

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// RawBlock is the wire-format block as returned by eth_getBlockByNumber and
// eth_subscribe newHeads: every numeric field is a 0x-prefixed hex string, and
// fields introduced by later protocol forks are simply absent on older blocks.
// Normalization into native types happens in pkg/normalize; this type carries
// the payload untouched.
type RawBlock struct {
	Number          string            `json:"number"`
	Hash            string            `json:"hash"`
	ParentHash      string            `json:"parentHash"`
	Timestamp       string            `json:"timestamp"`
	GasLimit        string            `json:"gasLimit"`
	GasUsed         string            `json:"gasUsed"`
	BaseFeePerGas   string            `json:"baseFeePerGas,omitempty"`
	Difficulty      string            `json:"difficulty,omitempty"`
	TotalDifficulty string            `json:"totalDifficulty,omitempty"`
	Size            string            `json:"size"`
	BlobGasUsed     string            `json:"blobGasUsed,omitempty"`
	ExcessBlobGas   string            `json:"excessBlobGas,omitempty"`
	Transactions    []json.RawMessage `json:"transactions"`
}

// TransactionCount returns the number of transactions carried in the payload.
// newHeads notifications omit the transaction list entirely; callers must
// re-fetch the full block before counting.
func (r *RawBlock) TransactionCount() int {
	return len(r.Transactions)
}

// HasTransactions reports whether the payload carries a transaction list.
func (r *RawBlock) HasTransactions() bool {
	return r.Transactions != nil
}

// ParseHexUint64 decodes a 0x-prefixed hex quantity. The empty string means
// the field was absent upstream and is reported as such.
func ParseHexUint64(s string) (uint64, bool, error) {
	if s == "" {
		return 0, false, nil
	}

	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return 0, false, fmt.Errorf("malformed hex quantity %q", s)
	}

	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return 0, false, fmt.Errorf("malformed hex quantity %q", s)
	}

	if !v.IsUint64() {
		return 0, false, fmt.Errorf("hex quantity %q overflows uint64", s)
	}

	return v.Uint64(), true, nil
}

// ParseHexBig decodes a 0x-prefixed hex quantity of arbitrary size.
// Difficulty totals exceed uint64 and need big.Int.
func ParseHexBig(s string) (*big.Int, bool, error) {
	if s == "" {
		return nil, false, nil
	}

	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return nil, false, fmt.Errorf("malformed hex quantity %q", s)
	}

	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, false, fmt.Errorf("malformed hex quantity %q", s)
	}

	return v, true, nil
}

// HexUint64 encodes a block number for JSON-RPC params.
func HexUint64(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
