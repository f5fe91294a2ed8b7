package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is a chunk's position in the pipeline.
type State string

const (
	StatePending      State = "pending"
	StateTranslating  State = "translating"
	StateTranslated   State = "translated"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

var (
	ErrIllegalTransition = errors.New("illegal chunk state transition")
	ErrUnknownChunk      = errors.New("unknown chunk")
)

var transitions = map[State][]State{
	StatePending:      {StateTranslating},
	StateTranslating:  {StateTranslated, StateFailed},
	StateTranslated:   {StateSynthesizing},
	StateSynthesizing: {StateDone, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Recorder persists run and chunk transition history.
type Recorder interface {
	StartRun(ctx context.Context, runID, scope string, chunks int) error
	RecordTransition(ctx context.Context, runID, chunkID, from, to, detail string) error
	FinishRun(ctx context.Context, runID, status string, missing int) error
}

// NopRecorder discards history.
type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, string, string, int) error { return nil }

func (NopRecorder) RecordTransition(context.Context, string, string, string, string, string) error {
	return nil
}

func (NopRecorder) FinishRun(context.Context, string, string, int) error { return nil }

// Tracker holds the state of every chunk in one run. It only observes: the
// workers never consult it to decide what to do next.
type Tracker struct {
	mu       sync.Mutex
	runID    string
	states   map[string]State
	recorder Recorder
	logger   *slog.Logger
}

func NewTracker(runID string, ids []string, recorder Recorder, logger *slog.Logger) *Tracker {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	states := make(map[string]State, len(ids))
	for _, id := range ids {
		states[id] = StatePending
	}
	return &Tracker{
		runID:    runID,
		states:   states,
		recorder: recorder,
		logger:   logger,
	}
}

// RunID identifies the run being tracked.
func (t *Tracker) RunID() string { return t.runID }

// Advance moves chunk id to state to. Moving to the current state is a no-op.
func (t *Tracker) Advance(ctx context.Context, id string, to State, detail string) error {
	t.mu.Lock()
	from, ok := t.states[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChunk, id)
	}
	if from == to {
		t.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s from %s to %s", ErrIllegalTransition, id, from, to)
	}
	t.states[id] = to
	t.mu.Unlock()

	t.logger.Debug("chunk state changed",
		slog.String("run_id", t.runID),
		slog.String("chunk_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if err := t.recorder.RecordTransition(ctx, t.runID, id, string(from), string(to), detail); err != nil {
		t.logger.Warn("failed to record chunk transition", slog.String("chunk_id", id), slogError(err))
	}
	return nil
}

// State returns the current state of id.
func (t *Tracker) State(id string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	return s, ok
}

// Snapshot copies every chunk's state.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for id, s := range t.states {
		out[id] = s
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
