package normalize

import (
	"fmt"
	"sort"
)

// Field identifies a fork-gated block field.
type Field string

const (
	FieldBaseFeePerGas   Field = "baseFeePerGas"
	FieldDifficulty      Field = "difficulty"
	FieldTotalDifficulty Field = "totalDifficulty"
	FieldBlobGasUsed     Field = "blobGasUsed"
	FieldExcessBlobGas   Field = "excessBlobGas"
)

// Mainnet activation heights.
const (
	// LondonBlock activated EIP-1559 and introduced baseFeePerGas.
	LondonBlock uint64 = 12965000

	// MergeBlock is the first proof-of-stake block. Difficulty is zero and
	// total difficulty is frozen from here on, so both are dropped.
	MergeBlock uint64 = 15537394

	// CancunBlock activated EIP-4844 and introduced blob gas accounting.
	CancunBlock uint64 = 19426587
)

// Fork describes one protocol upgrade: the height it activates at and the
// fork-gated fields it introduces or retires. Forks never mutate the rules of
// fields they do not name.
type Fork struct {
	Name       string
	Block      uint64
	Introduces []Field
	Retires    []Field
}

// Rules is an ordered fork schedule. It answers, for a given block height,
// whether each fork-gated field is required or forbidden.
type Rules struct {
	forks []Fork
}

// MainnetRules returns the Ethereum mainnet fork schedule.
func MainnetRules() *Rules {
	return &Rules{
		forks: []Fork{
			{
				Name:       "frontier",
				Block:      0,
				Introduces: []Field{FieldDifficulty, FieldTotalDifficulty},
			},
			{
				Name:       "london",
				Block:      LondonBlock,
				Introduces: []Field{FieldBaseFeePerGas},
			},
			{
				Name:    "paris",
				Block:   MergeBlock,
				Retires: []Field{FieldDifficulty, FieldTotalDifficulty},
			},
			{
				Name:       "cancun",
				Block:      CancunBlock,
				Introduces: []Field{FieldBlobGasUsed, FieldExcessBlobGas},
			},
		},
	}
}

// Register adds a fork to the schedule. Future upgrades extend the table
// without touching normalization logic.
func (r *Rules) Register(f Fork) error {
	if f.Name == "" {
		return fmt.Errorf("fork name is required")
	}

	for _, existing := range r.forks {
		if existing.Name == f.Name {
			return fmt.Errorf("fork %q is already registered", f.Name)
		}
	}

	r.forks = append(r.forks, f)

	sort.SliceStable(r.forks, func(i, j int) bool {
		return r.forks[i].Block < r.forks[j].Block
	})

	return nil
}

// EraAt returns the name of the most recent fork at or below the given height.
func (r *Rules) EraAt(number uint64) string {
	name := ""

	for _, f := range r.forks {
		if f.Block > number {
			break
		}

		name = f.Name
	}

	return name
}

// Required reports whether the field must be present on a block at the given
// height: introduced by an active fork and not retired by a later one.
func (r *Rules) Required(field Field, number uint64) bool {
	active := false

	for _, f := range r.forks {
		if f.Block > number {
			break
		}

		for _, introduced := range f.Introduces {
			if introduced == field {
				active = true
			}
		}

		for _, retired := range f.Retires {
			if retired == field {
				active = false
			}
		}
	}

	return active
}

// Forbidden reports whether the field must be absent at the given height.
// Providers backfill some retired fields with zero values; those are dropped
// rather than stored.
func (r *Rules) Forbidden(field Field, number uint64) bool {
	return !r.Required(field, number)
}
