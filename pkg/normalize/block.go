package normalize

import (
	"math/big"
	"time"
)

// Block is the canonical, fully typed representation of an execution-layer
// block. Pointer fields are nil when the protocol era of the block does not
// define them: a pre-London block has no base fee, a post-merge block has no
// meaningful difficulty, and blob accounting only exists from Cancun onwards.
type Block struct {
	Number           uint64
	Hash             string
	ParentHash       string
	Timestamp        time.Time
	GasLimit         uint64
	GasUsed          uint64
	BaseFeePerGas    *uint64
	Difficulty       *big.Int
	TotalDifficulty  *big.Int
	Size             uint64
	TransactionCount uint64
	BlobGasUsed      *uint64
	ExcessBlobGas    *uint64
}

// GasUtilization returns gasUsed as a fraction of gasLimit.
func (b *Block) GasUtilization() float64 {
	if b.GasLimit == 0 {
		return 0
	}

	return float64(b.GasUsed) / float64(b.GasLimit)
}

// Age returns how far behind now the block's timestamp is.
func (b *Block) Age(now time.Time) time.Duration {
	return now.Sub(b.Timestamp)
}
