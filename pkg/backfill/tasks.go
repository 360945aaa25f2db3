package backfill

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// ChunkTaskType is the task type for backfill chunk processing.
const ChunkTaskType = "backfill_chunk_process"

// ChunkQueue returns the backfill queue name for a network.
func ChunkQueue(network string) string {
	return fmt.Sprintf("backfill:%s:chunks", network)
}

// ChunkPayload is the payload of a chunk task.
//
//nolint:tagliatelle // snake_case required for compatibility with queued tasks
type ChunkPayload struct {
	RunID      string `json:"run_id"`
	ChunkIndex int    `json:"chunk_index"`
	StartBlock uint64 `json:"start_block"`
	EndBlock   uint64 `json:"end_block"`
	Network    string `json:"network"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *ChunkPayload) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *ChunkPayload) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewChunkTask creates a chunk task.
func NewChunkTask(payload *ChunkPayload) (*asynq.Task, error) {
	data, err := payload.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(ChunkTaskType, data), nil
}
