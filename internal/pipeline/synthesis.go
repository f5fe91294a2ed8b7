package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/protocol"
	"github.com/loqalabs/loqa-dub/internal/ssml"
	"go.opentelemetry.io/otel/codes"
)

// Speaker turns one chunk's markup into encoded audio.
type Speaker interface {
	Speak(ctx context.Context, chunkID, markup string) ([]byte, error)
}

// SpeakerFunc adapts a plain function to Speaker.
type SpeakerFunc func(ctx context.Context, chunkID, markup string) ([]byte, error)

func (f SpeakerFunc) Speak(ctx context.Context, chunkID, markup string) ([]byte, error) {
	return f(ctx, chunkID, markup)
}

// SynthesisWorker waits for ready signals and synthesizes each translated
// chunk once. It stops after handling the expected number of distinct ids,
// counting chunks with no translation record as handled.
type SynthesisWorker struct {
	store    bus.Store
	speaker  Speaker
	settings Settings
	tracker  *Tracker
	metrics  *instruments
	logger   *slog.Logger

	prepareOnce sync.Once
	prepareErr  error
	sub         *bus.Subscription

	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
	handled  int
}

func NewSynthesisWorker(store bus.Store, speaker Speaker, settings Settings, tracker *Tracker, logger *slog.Logger) *SynthesisWorker {
	logger = logger.With(slog.String("component", "synthesis-worker"))
	return &SynthesisWorker{
		store:    store,
		speaker:  speaker,
		settings: settings,
		tracker:  tracker,
		metrics:  newInstruments(logger),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Prepare subscribes to the ready channel under the pubsub discipline. It must
// run before the translation stage starts signalling; Run calls it if needed.
func (w *SynthesisWorker) Prepare(ctx context.Context) error {
	w.prepareOnce.Do(func() {
		if w.settings.Notify != NotifyPubSub {
			return
		}
		w.sub, w.prepareErr = w.store.Subscribe(ctx, protocol.ChannelTranslations)
	})
	return w.prepareErr
}

// Done is closed once every expected chunk has been handled.
func (w *SynthesisWorker) Done() <-chan struct{} { return w.done }

// Handled reports how many distinct chunks have been taken so far.
func (w *SynthesisWorker) Handled() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handled
}

// Run blocks until total distinct ids were handled or ctx ends. A wait that
// times out is retried; only ctx turns it into an error.
func (w *SynthesisWorker) Run(ctx context.Context, total int) error {
	if err := w.Prepare(ctx); err != nil {
		return fmt.Errorf("subscribe ready channel: %w", err)
	}
	if w.sub != nil {
		defer w.sub.Close()
	}

	seen := make(map[string]struct{}, total)
	for len(seen) < total {
		id, ok, err := w.next(ctx)
		if err != nil {
			return fmt.Errorf("synthesis stopped after %d of %d chunks: %w", len(seen), total, err)
		}
		if !ok {
			w.logger.Debug("waiting for ready chunks", slog.Int("remaining", total-len(seen)))
			continue
		}
		if _, dup := seen[id]; dup {
			w.logger.Debug("discarding duplicate ready signal", slog.String("chunk_id", id))
			continue
		}
		seen[id] = struct{}{}
		w.process(ctx, id)
		w.mu.Lock()
		w.handled = len(seen)
		w.mu.Unlock()
	}

	w.doneOnce.Do(func() { close(w.done) })
	w.logger.Info("synthesis stage complete", slog.Int("chunks", total))
	return nil
}

var errSubscriptionClosed = errors.New("ready channel closed")

func (w *SynthesisWorker) next(ctx context.Context) (string, bool, error) {
	timeout := w.settings.dequeueTimeout()
	if w.sub == nil {
		return w.store.Dequeue(ctx, protocol.QueueTranslations, timeout)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-w.sub.Messages():
		return id, true, nil
	case <-w.sub.Done():
		return "", false, errSubscriptionClosed
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (w *SynthesisWorker) process(ctx context.Context, id string) {
	started := time.Now()
	ctx, span := w.metrics.startSpan(ctx, stageSynthesis, id)
	defer span.End()

	w.advance(ctx, id, StateSynthesizing, "")
	if err := w.synthesizeChunk(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, bus.ErrNotFound) {
			w.logger.Warn("translation record missing", slog.String("chunk_id", id))
		} else {
			w.logger.Warn("chunk synthesis failed", slog.String("chunk_id", id), slogError(err))
		}
		w.advance(ctx, id, StateFailed, err.Error())
		w.metrics.failure(ctx, stageSynthesis, started)
		if err := w.store.Delete(ctx, protocol.AudioKey(id)); err != nil {
			w.logger.Warn("failed to clear stale audio", slog.String("chunk_id", id), slogError(err))
		}
		return
	}
	w.advance(ctx, id, StateDone, "")
	w.metrics.succeeded(ctx, stageSynthesis, started)
}

func (w *SynthesisWorker) synthesizeChunk(ctx context.Context, id string) error {
	var record protocol.TranslatedChunk
	if err := bus.GetJSON(ctx, w.store, protocol.TranslationKey(id), &record); err != nil {
		return fmt.Errorf("load translation: %w", err)
	}
	if len(record.Segments) == 0 {
		return fmt.Errorf("load translation: %w", ssml.ErrNoSegments)
	}

	opts := w.settings.Markup
	// The first chunk is played from time zero; later chunks start at their
	// first segment.
	opts.Origin = 0
	if record.Index > 0 {
		opts.Origin = record.Segments[0].Start
	}
	markup, err := ssml.Build(record.Segments, opts)
	if err != nil {
		return fmt.Errorf("build markup: %w", err)
	}

	audio, err := w.speaker.Speak(ctx, id, markup)
	if err != nil {
		return err
	}
	if err := w.store.Put(ctx, protocol.AudioKey(id), audio); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	return nil
}

func (w *SynthesisWorker) advance(ctx context.Context, id string, to State, detail string) {
	if w.tracker == nil {
		return
	}
	if err := w.tracker.Advance(ctx, id, to, detail); err != nil {
		w.logger.Debug("chunk state not advanced", slog.String("chunk_id", id), slogError(err))
	}
}
