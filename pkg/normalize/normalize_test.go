package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
)

func validRaw(number uint64) *ethereum.RawBlock {
	raw := &ethereum.RawBlock{
		Number:     ethereum.HexUint64(number),
		Hash:       fmt.Sprintf("0xhash%d", number),
		ParentHash: fmt.Sprintf("0xhash%d", number-1),
		Timestamp:  "0x64e8f1a4",
		GasLimit:   "0x1c9c380",
		GasUsed:    "0xd5e119",
		Size:       "0x1a2b3",
		Transactions: []json.RawMessage{
			json.RawMessage(`{"hash":"0x01"}`),
			json.RawMessage(`{"hash":"0x02"}`),
			json.RawMessage(`{"hash":"0x03"}`),
		},
	}

	if number < MergeBlock {
		raw.Difficulty = "0x1b4fd6f4cd6b2a"
		raw.TotalDifficulty = "0xc70d815d562d3cfa955"
	}

	if number >= LondonBlock {
		raw.BaseFeePerGas = "0x3b9aca00"
	}

	if number >= CancunBlock {
		raw.BlobGasUsed = "0x60000"
		raw.ExcessBlobGas = "0x0"
	}

	return raw
}

func TestNormalizePreLondon(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	block, err := n.Normalize(validRaw(12000000))
	require.NoError(t, err)

	assert.Equal(t, uint64(12000000), block.Number)
	assert.Nil(t, block.BaseFeePerGas)
	assert.Nil(t, block.BlobGasUsed)
	assert.Nil(t, block.ExcessBlobGas)
	require.NotNil(t, block.Difficulty)
	require.NotNil(t, block.TotalDifficulty)
	assert.Equal(t, "58750003716598352816469", block.TotalDifficulty.String())
	assert.Equal(t, int64(0x64e8f1a4), block.Timestamp.Unix())
	assert.Equal(t, time.UTC, block.Timestamp.Location())
	assert.Equal(t, uint64(3), block.TransactionCount)
}

func TestNormalizeLondonBoundary(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	// Last pre-London block: no base fee.
	block, err := n.Normalize(validRaw(LondonBlock - 1))
	require.NoError(t, err)
	assert.Nil(t, block.BaseFeePerGas)

	// Activation block carries a base fee.
	block, err = n.Normalize(validRaw(LondonBlock))
	require.NoError(t, err)
	require.NotNil(t, block.BaseFeePerGas)
	assert.Equal(t, uint64(1000000000), *block.BaseFeePerGas)
}

func TestNormalizePostMergeDropsDifficulty(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	// Providers report difficulty 0x0 on post-merge blocks; it is dropped
	// rather than stored as a bogus zero.
	raw := validRaw(MergeBlock)
	raw.Difficulty = "0x0"
	raw.TotalDifficulty = "0xc70d815d562d3cfa955"

	block, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Nil(t, block.Difficulty)
	assert.Nil(t, block.TotalDifficulty)
	require.NotNil(t, block.BaseFeePerGas)
}

func TestNormalizeCancunBlobFields(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	block, err := n.Normalize(validRaw(CancunBlock))
	require.NoError(t, err)

	require.NotNil(t, block.BlobGasUsed)
	assert.Equal(t, uint64(0x60000), *block.BlobGasUsed)
	require.NotNil(t, block.ExcessBlobGas)
	assert.Equal(t, uint64(0), *block.ExcessBlobGas)
}

func TestNormalizeMissingRequiredFieldFails(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	tests := []struct {
		name   string
		mutate func(*ethereum.RawBlock)
		field  string
	}{
		{
			name:   "missing base fee post-london",
			mutate: func(r *ethereum.RawBlock) { r.BaseFeePerGas = "" },
			field:  "baseFeePerGas",
		},
		{
			name:   "missing blob gas post-cancun",
			mutate: func(r *ethereum.RawBlock) { r.BlobGasUsed = "" },
			field:  "blobGasUsed",
		},
		{
			name:   "missing timestamp",
			mutate: func(r *ethereum.RawBlock) { r.Timestamp = "" },
			field:  "timestamp",
		},
		{
			name:   "missing hash",
			mutate: func(r *ethereum.RawBlock) { r.Hash = "" },
			field:  "hash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw(CancunBlock + 100)
			tt.mutate(raw)

			_, err := n.Normalize(raw)
			require.Error(t, err)

			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.field, schemaErr.Field)
		})
	}
}

func TestNormalizeGasUsedExceedsLimit(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	raw := validRaw(CancunBlock)
	raw.GasLimit = "0x100"
	raw.GasUsed = "0x200"

	_, err := n.Normalize(raw)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "gasUsed", schemaErr.Field)
}

func TestNormalizeMalformedHex(t *testing.T) {
	n := NewNormalizer(MainnetRules())

	raw := validRaw(CancunBlock)
	raw.GasUsed = "not-hex"

	_, err := n.Normalize(raw)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestNormalizeDeterministic(t *testing.T) {
	n := NewNormalizer(MainnetRules())
	raw := validRaw(CancunBlock + 10)

	first, err := n.Normalize(raw)
	require.NoError(t, err)

	second, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRulesRegisterFutureFork(t *testing.T) {
	rules := MainnetRules()

	const futureField = Field("futureGasTarget")

	require.NoError(t, rules.Register(Fork{
		Name:       "future",
		Block:      25000000,
		Introduces: []Field{futureField},
	}))

	assert.False(t, rules.Required(futureField, 24999999))
	assert.True(t, rules.Required(futureField, 25000000))
	assert.Equal(t, "future", rules.EraAt(25000000))

	// Existing field rules are untouched.
	assert.True(t, rules.Required(FieldBaseFeePerGas, 25000000))
	assert.True(t, rules.Forbidden(FieldDifficulty, 25000000))

	// Duplicate names are rejected.
	require.Error(t, rules.Register(Fork{Name: "future", Block: 26000000}))
}

func TestEraAt(t *testing.T) {
	rules := MainnetRules()

	assert.Equal(t, "frontier", rules.EraAt(0))
	assert.Equal(t, "frontier", rules.EraAt(LondonBlock-1))
	assert.Equal(t, "london", rules.EraAt(LondonBlock))
	assert.Equal(t, "paris", rules.EraAt(MergeBlock))
	assert.Equal(t, "cancun", rules.EraAt(CancunBlock))
}
