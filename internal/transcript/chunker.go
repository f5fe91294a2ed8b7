package transcript

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// IDScheme selects how chunk identifiers are derived.
type IDScheme string

const (
	// IDSchemeIndex names chunks "{scope}_{sequence}".
	IDSchemeIndex IDScheme = "index"
	// IDSchemeStart names chunks "{scope}_{start}" using the first entry's start time.
	IDSchemeStart IDScheme = "start"
)

// ChunkOptions bounds the chunks produced by Build.
type ChunkOptions struct {
	MaxChars int
	MaxItems int
	Scheme   IDScheme
}

// Split greedily partitions entries into contiguous groups. An entry is
// admitted while the running length plus its trimmed length stays within
// maxChars and the group holds fewer than maxItems entries; every admitted
// entry also counts one separator character. Entries are atomic, so an entry
// longer than maxChars ends up alone in its own group.
func Split(entries []Entry, maxChars, maxItems int) [][]Entry {
	var (
		groups  [][]Entry
		current []Entry
		running int
	)
	for _, entry := range entries {
		length := textLength(entry.Text)
		if running+length <= maxChars && len(current) < maxItems {
			current = append(current, entry)
			running += length + 1
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current = []Entry{entry}
		running = length + 1
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Build splits entries and assigns each group a stable identifier scoped by
// scope (typically a video id). Identical input yields identical ids.
func Build(scope string, entries []Entry, opts ChunkOptions) ([]Chunk, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, fmt.Errorf("%w: chunk scope must not be empty", ErrValidation)
	}
	if opts.MaxChars <= 0 || opts.MaxItems <= 0 {
		return nil, fmt.Errorf("%w: chunk limits must be positive (max_chars=%d, max_items=%d)", ErrValidation, opts.MaxChars, opts.MaxItems)
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = IDSchemeIndex
	}
	if scheme != IDSchemeIndex && scheme != IDSchemeStart {
		return nil, fmt.Errorf("%w: unknown chunk id scheme %q", ErrValidation, scheme)
	}

	groups := Split(entries, opts.MaxChars, opts.MaxItems)
	chunks := make([]Chunk, 0, len(groups))
	seen := make(map[string]int, len(groups))
	for i, group := range groups {
		id := chunkID(scope, scheme, i, group[0])
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = id + "-" + strconv.Itoa(n)
		} else {
			seen[id] = 1
		}
		chunks = append(chunks, Chunk{ID: id, Entries: group})
	}
	return chunks, nil
}

// IDs returns the chunk identifiers in chunk order.
func IDs(chunks []Chunk) []string {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids
}

func chunkID(scope string, scheme IDScheme, index int, first Entry) string {
	if scheme == IDSchemeStart {
		return scope + "_" + strconv.FormatFloat(first.Start, 'f', 2, 64)
	}
	return scope + "_" + strconv.Itoa(index)
}

func textLength(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}
