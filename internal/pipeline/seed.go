package pipeline

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/protocol"
	"github.com/loqalabs/loqa-dub/internal/transcript"
)

// Seed writes every chunk payload and queues its id for translation.
func Seed(ctx context.Context, store bus.Store, chunks []transcript.Chunk) error {
	for i, chunk := range chunks {
		record := protocol.TranscriptChunk{ID: chunk.ID, Index: i, Entries: chunk.Entries}
		if err := bus.PutJSON(ctx, store, protocol.TranscriptKey(chunk.ID), record); err != nil {
			return fmt.Errorf("seed chunk %s: %w", chunk.ID, err)
		}
		if err := store.Enqueue(ctx, protocol.QueueTranscriptChunks, chunk.ID); err != nil {
			return fmt.Errorf("queue chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}
