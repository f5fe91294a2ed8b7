package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSettings() Settings {
	cfg := config.Default()
	cfg.Chunking.MaxChars = 11
	cfg.Chunking.MaxItems = 5
	s := SettingsFromConfig(cfg)
	s.DequeueTimeout = 20 * time.Millisecond
	s.Deadline = 5 * time.Second
	return s
}

// sampleEntries chunks into three groups at max_chars=11:
// [Hello world] [Good] [morning].
func sampleEntries() []transcript.Entry {
	return []transcript.Entry{
		{Text: "Hello", Start: 0, Duration: 1},
		{Text: "world", Start: 1, Duration: 1},
		{Text: "Good", Start: 3, Duration: 1},
		{Text: "morning", Start: 4, Duration: 1.5},
	}
}

func prefixTranslator(prefix string) translate.Translator {
	return translate.Func(func(ctx context.Context, req translate.Request) (translate.Result, error) {
		out := make([]string, len(req.Texts))
		for i, text := range req.Texts {
			out[i] = prefix + text
		}
		return translate.Texts(out...), nil
	})
}

type recordingSpeaker struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (s *recordingSpeaker) Speak(ctx context.Context, chunkID, markup string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[chunkID]++
	if s.fail != "" && strings.Contains(markup, s.fail) {
		return nil, errors.New("voice unavailable")
	}
	return []byte(markup), nil
}

func (s *recordingSpeaker) count(chunkID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[chunkID]
}

type memoryRecorder struct {
	mu          sync.Mutex
	runs        map[string]string
	transitions []string
}

func (r *memoryRecorder) StartRun(_ context.Context, runID, scope string, chunks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]string)
	}
	r.runs[runID] = "running"
	return nil
}

func (r *memoryRecorder) RecordTransition(_ context.Context, runID, chunkID, from, to, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, chunkID+":"+from+">"+to)
	return nil
}

func (r *memoryRecorder) FinishRun(_ context.Context, runID, status string, missing int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = status
	return nil
}
