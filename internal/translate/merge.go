package translate

import (
	"fmt"
	"math"
	"strings"

	"github.com/loqalabs/loqa-dub/internal/transcript"
)

// MergeMode selects how a translation is laid back onto the chunk's entries.
type MergeMode string

const (
	// MergePositional expects one translated string per entry.
	MergePositional MergeMode = "positional"
	// MergeProportional expects the chunk translated as one blob and spreads
	// its words over the entries by their share of source words.
	MergeProportional MergeMode = "proportional"
)

// RequestFor builds the translation request a chunk needs under mode.
func RequestFor(chunk transcript.Chunk, mode MergeMode, sourceLang, targetLang string) Request {
	req := Request{SourceLang: sourceLang, TargetLang: targetLang}
	if mode == MergeProportional {
		req.Texts = []string{transcript.JoinText(chunk.Entries)}
	} else {
		req.Texts = chunk.Texts()
	}
	return req
}

// MergeChunk attaches a translation result to the chunk's timing. The output
// always has exactly one segment per entry, in entry order.
func MergeChunk(chunk transcript.Chunk, result Result, targetLang string, mode MergeMode) ([]transcript.Segment, error) {
	if len(chunk.Entries) == 0 {
		return nil, fmt.Errorf("%w: chunk %q has no entries", ErrEmptyInput, chunk.ID)
	}
	texts, err := Resolve(result, targetLang)
	if err != nil {
		return nil, fmt.Errorf("chunk %q: %w", chunk.ID, err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: chunk %q has no translation", ErrEmptyInput, chunk.ID)
	}

	switch mode {
	case MergeProportional:
		texts, err = allocateWords(chunk.Entries, strings.Join(texts, " "))
		if err != nil {
			return nil, fmt.Errorf("chunk %q: %w", chunk.ID, err)
		}
	case MergePositional, "":
		if len(texts) != len(chunk.Entries) {
			return nil, fmt.Errorf("%w: chunk %q has %d entries but %d translations", ErrCountMismatch, chunk.ID, len(chunk.Entries), len(texts))
		}
	default:
		return nil, fmt.Errorf("%w: unknown merge mode %q", transcript.ErrValidation, mode)
	}

	segments := make([]transcript.Segment, len(chunk.Entries))
	for i, entry := range chunk.Entries {
		segments[i] = transcript.Segment{
			TextTranslated: texts[i],
			Start:          entry.Start,
			Duration:       entry.Duration,
		}
	}
	return segments, nil
}

// allocateWords splits blob across entries proportionally to each entry's
// source word count. Each entry takes the nearest integer share; the last
// entry takes whatever remains.
func allocateWords(entries []transcript.Entry, blob string) ([]string, error) {
	translated := strings.Fields(blob)
	if len(translated) == 0 {
		return nil, fmt.Errorf("%w: translation has no words", ErrEmptyInput)
	}
	counts := make([]int, len(entries))
	total := 0
	for i, entry := range entries {
		counts[i] = len(strings.Fields(entry.Text))
		total += counts[i]
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: chunk has no source words", ErrEmptyInput)
	}

	out := make([]string, len(entries))
	cursor := 0
	for i := range entries {
		end := len(translated)
		if i < len(entries)-1 {
			share := int(math.Round(float64(counts[i]) / float64(total) * float64(len(translated))))
			end = min(cursor+share, len(translated))
		}
		out[i] = strings.Join(translated[cursor:end], " ")
		cursor = end
	}
	return out, nil
}
