package tts

import (
	"context"
	"crypto/sha256"
	"time"
)

type mockSynth struct{}

// NewMockSynth returns a backend whose audio is a digest of the markup, so
// equal markup yields equal bytes.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(5 * time.Millisecond):
		}
		sum := sha256.Sum256([]byte(req.Markup))
		chunks <- SynthChunk{
			ChunkID:  req.ChunkID,
			Sequence: 0,
			Audio:    sum[:],
			Final:    true,
		}
	}()
	return chunks, errs
}
