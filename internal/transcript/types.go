package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation marks malformed input: empty scopes, invalid limits or
// mismatched entry counts. It is never retried.
var ErrValidation = errors.New("transcript validation error")

// Entry is one timed line of the source transcript. Fields other than text,
// start, duration and text_translated are carried through untouched.
type Entry struct {
	Text       string
	Start      float64
	Duration   float64
	Translated string
	Extra      map[string]json.RawMessage
}

// End returns the time the entry stops speaking.
func (e Entry) End() float64 {
	return e.Start + e.Duration
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["text"] = e.Text
	out["start"] = e.Start
	out["duration"] = e.Duration
	if e.Translated != "" {
		out["text_translated"] = e.Translated
	}
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Entry{}
	if err := takeField(raw, "text", &e.Text); err != nil {
		return err
	}
	if err := takeField(raw, "start", &e.Start); err != nil {
		return err
	}
	if err := takeField(raw, "duration", &e.Duration); err != nil {
		return err
	}
	if err := takeField(raw, "text_translated", &e.Translated); err != nil {
		return err
	}
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

func takeField(raw map[string]json.RawMessage, key string, target any) error {
	value, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if err := json.Unmarshal(value, target); err != nil {
		return fmt.Errorf("decode transcript field %q: %w", key, err)
	}
	return nil
}

// Chunk is a contiguous, size-bounded slice of the transcript processed as one
// translation and synthesis unit.
type Chunk struct {
	ID      string  `json:"id"`
	Entries []Entry `json:"entries"`
}

// Texts returns the raw text of every entry in order.
func (c Chunk) Texts() []string {
	texts := make([]string, len(c.Entries))
	for i, entry := range c.Entries {
		texts[i] = entry.Text
	}
	return texts
}

// Segment is a translated entry: the translated text on the original timing.
type Segment struct {
	TextTranslated string  `json:"text_translated"`
	Start          float64 `json:"start"`
	Duration       float64 `json:"duration"`
}

// End returns the time the segment's slot closes.
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// AudioChunk is the synthesized audio for one chunk.
type AudioChunk struct {
	ChunkID string `json:"chunk_id"`
	Audio   []byte `json:"audio"`
}
