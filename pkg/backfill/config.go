package backfill

import (
	"fmt"
	"time"
)

// Config holds configuration for a backfill run.
//
//nolint:tagliatelle // YAML config uses snake_case by convention
type Config struct {
	// StartBlock is the first block of the run (inclusive).
	StartBlock uint64 `yaml:"start_block"`

	// EndBlock is one past the last block of the run.
	EndBlock uint64 `yaml:"end_block"`

	// ChunkSize is the number of blocks per chunk, default: 100.
	ChunkSize uint64 `yaml:"chunk_size" default:"100"`

	// SubBatchSize is the number of blocks per JSON-RPC batch request within
	// a chunk, default: 50. Capped at the provider's batch ceiling.
	SubBatchSize uint64 `yaml:"sub_batch_size" default:"50"`

	// Concurrency is the number of chunk workers, default: 4.
	Concurrency int `yaml:"concurrency" default:"4"`

	// MaxChunkAttempts bounds delivery attempts per chunk, default: 3.
	MaxChunkAttempts int `yaml:"max_chunk_attempts" default:"3"`

	// PollInterval is how often the scheduler checks run progress,
	// default: 5s.
	PollInterval time.Duration `yaml:"poll_interval" default:"5s"`
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.EndBlock <= c.StartBlock {
		return fmt.Errorf("end_block (%d) must be greater than start_block (%d)", c.EndBlock, c.StartBlock)
	}

	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk_size must be positive")
	}

	if c.SubBatchSize == 0 {
		return fmt.Errorf("sub_batch_size must be positive")
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if c.MaxChunkAttempts <= 0 {
		return fmt.Errorf("max_chunk_attempts must be positive")
	}

	return nil
}
