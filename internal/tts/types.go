package tts

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a backend finishes without producing audio.
var ErrEmptyAudio = errors.New("tts produced no audio")

// SynthRequest carries one chunk's speech markup.
type SynthRequest struct {
	ChunkID string
	Markup  string
	Voice   string
}

// SynthChunk is a piece of encoded audio for a request. Pieces arrive in
// sequence order and the last one has Final set.
type SynthChunk struct {
	ChunkID  string
	Sequence int
	Audio    []byte
	Final    bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Collect drains a synthesis stream and concatenates its audio.
func Collect(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var audio []byte
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			audio = append(audio, chunk.Audio...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
