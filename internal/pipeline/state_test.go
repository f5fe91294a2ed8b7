package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestTrackerLifecycle(t *testing.T) {
	rec := &memoryRecorder{}
	tracker := NewTracker("run-1", []string{"a"}, rec, newLogger())
	ctx := context.Background()

	for _, next := range []State{StateTranslating, StateTranslated, StateSynthesizing, StateDone} {
		if err := tracker.Advance(ctx, "a", next, ""); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	if s, _ := tracker.State("a"); s != StateDone || !s.Terminal() {
		t.Fatalf("expected done, got %s", s)
	}
	if len(rec.transitions) != 4 || rec.transitions[0] != "a:pending>translating" {
		t.Fatalf("unexpected recorded transitions %v", rec.transitions)
	}
}

func TestTrackerRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []State
	}{
		{"skip translating", []State{StateTranslated}},
		{"fail from pending", []State{StateFailed}},
		{"fail from translated", []State{StateTranslating, StateTranslated, StateFailed}},
		{"leave done", []State{StateTranslating, StateTranslated, StateSynthesizing, StateDone, StateFailed}},
		{"leave failed", []State{StateTranslating, StateFailed, StateSynthesizing}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := NewTracker("run", []string{"a"}, nil, newLogger())
			var err error
			for _, next := range tc.path {
				if err = tracker.Advance(context.Background(), "a", next, ""); err != nil {
					break
				}
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
		})
	}
}

func TestTrackerSameStateAndUnknown(t *testing.T) {
	tracker := NewTracker("run", []string{"a"}, nil, newLogger())
	if err := tracker.Advance(context.Background(), "a", StatePending, ""); err != nil {
		t.Fatalf("same-state advance should be a no-op: %v", err)
	}
	if err := tracker.Advance(context.Background(), "b", StateTranslating, ""); !errors.Is(err, ErrUnknownChunk) {
		t.Fatalf("expected ErrUnknownChunk, got %v", err)
	}
	snap := tracker.Snapshot()
	snap["a"] = StateDone
	if s, _ := tracker.State("a"); s != StatePending {
		t.Fatal("snapshot must be a copy")
	}
}
