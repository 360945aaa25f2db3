package backfill

import "fmt"

// Chunk is a half-open range [Start, End) of block numbers processed as one
// unit of work. Chunks are the granularity of checkpointing: a re-run skips
// completed chunks and repeats incomplete ones from their start.
type Chunk struct {
	Index int
	Start uint64
	End   uint64
}

// Blocks returns the number of blocks covered by the chunk.
func (c Chunk) Blocks() uint64 {
	return c.End - c.Start
}

// ID returns a stable identifier for the chunk within its run.
func (c Chunk) ID() string {
	return fmt.Sprintf("%d:%d-%d", c.Index, c.Start, c.End)
}

// Partition splits [start, end) into chunks of at most chunkSize blocks. The
// final chunk is short when the range does not divide evenly.
func Partition(start, end, chunkSize uint64) []Chunk {
	if end <= start || chunkSize == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, (end-start+chunkSize-1)/chunkSize)

	for index, cur := 0, start; cur < end; index++ {
		chunkEnd := cur + chunkSize
		if chunkEnd > end {
			chunkEnd = end
		}

		chunks = append(chunks, Chunk{Index: index, Start: cur, End: chunkEnd})
		cur = chunkEnd
	}

	return chunks
}
