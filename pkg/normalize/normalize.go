package normalize

import (
	"fmt"
	"math/big"
	"time"

	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
)

// SchemaError indicates a block payload that violates the protocol-era field
// rules. It is never retried: the provider returned a well-formed response
// whose content is wrong, and refetching will not change it.
type SchemaError struct {
	Number uint64
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation in block %d, field %q: %s", e.Number, e.Field, e.Reason)
}

// Normalizer converts raw hex-encoded block payloads into canonical blocks
// according to a fork schedule. It holds no mutable state and is safe for
// concurrent use.
type Normalizer struct {
	rules *Rules
}

// NewNormalizer returns a Normalizer with the given fork schedule.
func NewNormalizer(rules *Rules) *Normalizer {
	return &Normalizer{rules: rules}
}

// Normalize validates and converts a raw block. The same raw payload always
// yields the same result or the same error.
func (n *Normalizer) Normalize(raw *ethereum.RawBlock) (*Block, error) {
	number, err := requiredUint64(raw.Number, "number", 0)
	if err != nil {
		return nil, err
	}

	timestamp, err := requiredUint64(raw.Timestamp, "timestamp", number)
	if err != nil {
		return nil, err
	}

	gasLimit, err := requiredUint64(raw.GasLimit, "gasLimit", number)
	if err != nil {
		return nil, err
	}

	gasUsed, err := requiredUint64(raw.GasUsed, "gasUsed", number)
	if err != nil {
		return nil, err
	}

	if gasUsed > gasLimit {
		return nil, &SchemaError{
			Number: number,
			Field:  "gasUsed",
			Reason: fmt.Sprintf("gasUsed %d exceeds gasLimit %d", gasUsed, gasLimit),
		}
	}

	size, err := requiredUint64(raw.Size, "size", number)
	if err != nil {
		return nil, err
	}

	if raw.Hash == "" {
		return nil, &SchemaError{Number: number, Field: "hash", Reason: "missing"}
	}

	if raw.ParentHash == "" {
		return nil, &SchemaError{Number: number, Field: "parentHash", Reason: "missing"}
	}

	block := &Block{
		Number:           number,
		Hash:             raw.Hash,
		ParentHash:       raw.ParentHash,
		Timestamp:        time.Unix(int64(timestamp), 0).UTC(),
		GasLimit:         gasLimit,
		GasUsed:          gasUsed,
		Size:             size,
		TransactionCount: uint64(raw.TransactionCount()),
	}

	block.BaseFeePerGas, err = n.gatedUint64(raw.BaseFeePerGas, FieldBaseFeePerGas, number)
	if err != nil {
		return nil, err
	}

	block.BlobGasUsed, err = n.gatedUint64(raw.BlobGasUsed, FieldBlobGasUsed, number)
	if err != nil {
		return nil, err
	}

	block.ExcessBlobGas, err = n.gatedUint64(raw.ExcessBlobGas, FieldExcessBlobGas, number)
	if err != nil {
		return nil, err
	}

	block.Difficulty, err = n.gatedBig(raw.Difficulty, FieldDifficulty, number)
	if err != nil {
		return nil, err
	}

	block.TotalDifficulty, err = n.gatedBig(raw.TotalDifficulty, FieldTotalDifficulty, number)
	if err != nil {
		return nil, err
	}

	return block, nil
}

// requiredUint64 parses a field every block must carry regardless of era.
func requiredUint64(value, field string, number uint64) (uint64, error) {
	v, present, err := ethereum.ParseHexUint64(value)
	if err != nil {
		return 0, &SchemaError{Number: number, Field: field, Reason: err.Error()}
	}

	if !present {
		return 0, &SchemaError{Number: number, Field: field, Reason: "missing"}
	}

	return v, nil
}

// gatedUint64 applies the fork schedule: required fields must parse, forbidden
// fields are dropped even when a provider fills them in.
func (n *Normalizer) gatedUint64(value string, field Field, number uint64) (*uint64, error) {
	if n.rules.Forbidden(field, number) {
		return nil, nil
	}

	v, present, err := ethereum.ParseHexUint64(value)
	if err != nil {
		return nil, &SchemaError{Number: number, Field: string(field), Reason: err.Error()}
	}

	if !present {
		return nil, &SchemaError{
			Number: number,
			Field:  string(field),
			Reason: fmt.Sprintf("missing but required in era %q", n.rules.EraAt(number)),
		}
	}

	return &v, nil
}

func (n *Normalizer) gatedBig(value string, field Field, number uint64) (*big.Int, error) {
	if n.rules.Forbidden(field, number) {
		return nil, nil
	}

	v, present, err := ethereum.ParseHexBig(value)
	if err != nil {
		return nil, &SchemaError{Number: number, Field: string(field), Reason: err.Error()}
	}

	if !present {
		return nil, &SchemaError{
			Number: number,
			Field:  string(field),
			Reason: fmt.Sprintf("missing but required in era %q", n.rules.EraAt(number)),
		}
	}

	return v, nil
}
