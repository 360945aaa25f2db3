package storage

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ClickHouse/ch-go/proto"

	"github.com/gaplessdata/block-ingestor/pkg/normalize"
)

// Columns holds all columns for block batch insert using the ch-go columnar
// protocol. Column order matches the table DDL in schema.go.
type Columns struct {
	UpdatedDateTime  proto.ColDateTime
	Timestamp        *proto.ColDateTime64
	Number           proto.ColUInt64
	Hash             proto.ColStr
	ParentHash       proto.ColStr
	GasLimit         proto.ColUInt64
	GasUsed          proto.ColUInt64
	BaseFeePerGas    *proto.ColNullable[uint64]
	Difficulty       *proto.ColNullable[proto.UInt256]
	TotalDifficulty  *proto.ColNullable[proto.UInt256]
	Size             proto.ColUInt64
	TransactionCount proto.ColUInt64
	BlobGasUsed      *proto.ColNullable[uint64]
	ExcessBlobGas    *proto.ColNullable[uint64]
}

// NewColumns creates a Columns instance with all nullable columns initialized.
func NewColumns() *Columns {
	return &Columns{
		Timestamp:       new(proto.ColDateTime64).WithPrecision(proto.PrecisionMilli),
		BaseFeePerGas:   new(proto.ColUInt64).Nullable(),
		Difficulty:      new(proto.ColUInt256).Nullable(),
		TotalDifficulty: new(proto.ColUInt256).Nullable(),
		BlobGasUsed:     new(proto.ColUInt64).Nullable(),
		ExcessBlobGas:   new(proto.ColUInt64).Nullable(),
	}
}

// Append adds one block row to all columns.
func (c *Columns) Append(b *normalize.Block, updatedAt time.Time) {
	c.UpdatedDateTime.Append(updatedAt)
	c.Timestamp.Append(b.Timestamp)
	c.Number.Append(b.Number)
	c.Hash.Append(b.Hash)
	c.ParentHash.Append(b.ParentHash)
	c.GasLimit.Append(b.GasLimit)
	c.GasUsed.Append(b.GasUsed)
	c.BaseFeePerGas.Append(nullableUint64(b.BaseFeePerGas))
	c.Difficulty.Append(nullableUInt256(b.Difficulty))
	c.TotalDifficulty.Append(nullableUInt256(b.TotalDifficulty))
	c.Size.Append(b.Size)
	c.TransactionCount.Append(b.TransactionCount)
	c.BlobGasUsed.Append(nullableUint64(b.BlobGasUsed))
	c.ExcessBlobGas.Append(nullableUint64(b.ExcessBlobGas))
}

// Reset clears all columns for reuse.
func (c *Columns) Reset() {
	c.UpdatedDateTime.Reset()
	c.Timestamp.Reset()
	c.Number.Reset()
	c.Hash.Reset()
	c.ParentHash.Reset()
	c.GasLimit.Reset()
	c.GasUsed.Reset()
	c.BaseFeePerGas.Reset()
	c.Difficulty.Reset()
	c.TotalDifficulty.Reset()
	c.Size.Reset()
	c.TransactionCount.Reset()
	c.BlobGasUsed.Reset()
	c.ExcessBlobGas.Reset()
}

// Input returns the proto.Input for inserting data.
func (c *Columns) Input() proto.Input {
	return proto.Input{
		{Name: "updated_date_time", Data: &c.UpdatedDateTime},
		{Name: "timestamp", Data: c.Timestamp},
		{Name: "number", Data: &c.Number},
		{Name: "hash", Data: &c.Hash},
		{Name: "parent_hash", Data: &c.ParentHash},
		{Name: "gas_limit", Data: &c.GasLimit},
		{Name: "gas_used", Data: &c.GasUsed},
		{Name: "base_fee_per_gas", Data: c.BaseFeePerGas},
		{Name: "difficulty", Data: c.Difficulty},
		{Name: "total_difficulty", Data: c.TotalDifficulty},
		{Name: "size", Data: &c.Size},
		{Name: "transaction_count", Data: &c.TransactionCount},
		{Name: "blob_gas_used", Data: c.BlobGasUsed},
		{Name: "excess_blob_gas", Data: c.ExcessBlobGas},
	}
}

// Rows returns the number of rows in the columns.
func (c *Columns) Rows() int {
	return c.Number.Rows()
}

// nullableUint64 converts a *uint64 to proto.Nullable[uint64].
func nullableUint64(v *uint64) proto.Nullable[uint64] {
	if v == nil {
		return proto.Null[uint64]()
	}

	return proto.NewNullable(*v)
}

// nullableUInt256 converts a *big.Int to proto.Nullable[proto.UInt256].
// Total difficulty exceeds uint64 on mainnet, hence the wide column.
func nullableUInt256(v *big.Int) proto.Nullable[proto.UInt256] {
	if v == nil {
		return proto.Null[proto.UInt256]()
	}

	return proto.NewNullable(bigToUInt256(v))
}

// bigToUInt256 packs a non-negative big.Int into the four 64-bit words of a
// proto.UInt256. Values wider than 256 bits do not occur in block headers.
func bigToUInt256(v *big.Int) proto.UInt256 {
	var buf [32]byte

	v.FillBytes(buf[:])

	return proto.UInt256{
		Low: proto.UInt128{
			Low:  binary.BigEndian.Uint64(buf[24:32]),
			High: binary.BigEndian.Uint64(buf[16:24]),
		},
		High: proto.UInt128{
			Low:  binary.BigEndian.Uint64(buf[8:16]),
			High: binary.BigEndian.Uint64(buf[0:8]),
		},
	}
}

// uint256ToBig unpacks a proto.UInt256 back into a big.Int.
func uint256ToBig(v proto.UInt256) *big.Int {
	var buf [32]byte

	binary.BigEndian.PutUint64(buf[0:8], v.High.High)
	binary.BigEndian.PutUint64(buf[8:16], v.High.Low)
	binary.BigEndian.PutUint64(buf[16:24], v.Low.High)
	binary.BigEndian.PutUint64(buf[24:32], v.Low.Low)

	return new(big.Int).SetBytes(buf[:])
}
