package transcript

import (
	"fmt"
	"strings"
)

// MergeTranslated attaches per-chunk translations, flattened in chunk order,
// to the original transcript. A count mismatch signals corrupted data and is
// reported as a validation error.
func MergeTranslated(entries []Entry, perChunk [][]string) ([]Entry, error) {
	flat := make([]string, 0, len(entries))
	for _, chunk := range perChunk {
		flat = append(flat, chunk...)
	}
	if len(flat) != len(entries) {
		return nil, fmt.Errorf("%w: %d translated lines for %d transcript entries", ErrValidation, len(flat), len(entries))
	}

	merged := make([]Entry, len(entries))
	for i, entry := range entries {
		entry.Translated = flat[i]
		merged[i] = entry
	}
	return merged, nil
}

// JoinText renders the whole transcript as one paragraph.
func JoinText(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		parts = append(parts, strings.TrimSpace(entry.Text))
	}
	return strings.Join(parts, " ")
}

// Flatten concatenates chunk entries in chunk order.
func Flatten(chunks []Chunk) []Entry {
	var out []Entry
	for _, chunk := range chunks {
		out = append(out, chunk.Entries...)
	}
	return out
}
