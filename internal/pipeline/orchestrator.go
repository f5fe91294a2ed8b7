package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/protocol"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
	"golang.org/x/sync/errgroup"
)

// ErrDeadline marks a run cut short by the overall deadline. The result
// returned alongside it holds whatever audio was collected.
var ErrDeadline = errors.New("pipeline deadline exceeded")

// Result is the outcome of one run. Chunks follow chunk order; Missing lists
// ids with no stored audio.
type Result struct {
	RunID   string
	Chunks  []transcript.AudioChunk
	Missing []string
	States  map[string]State
}

// Orchestrator chunks a transcript, seeds the store, runs both stages
// concurrently and collects the audio.
type Orchestrator struct {
	store      bus.Store
	translator translate.Translator
	speaker    Speaker
	settings   Settings
	recorder   Recorder
	logger     *slog.Logger
}

func NewOrchestrator(store bus.Store, translator translate.Translator, speaker Speaker, settings Settings, recorder Recorder, logger *slog.Logger) *Orchestrator {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Orchestrator{
		store:      store,
		translator: translator,
		speaker:    speaker,
		settings:   settings,
		recorder:   recorder,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// Run dubs entries under scope. Validation errors are returned before any
// work starts; per-chunk failures only show up in Missing and States.
func (o *Orchestrator) Run(ctx context.Context, scope string, entries []transcript.Entry) (Result, error) {
	chunks, err := transcript.Build(scope, entries, o.settings.Chunking)
	if err != nil {
		return Result{}, err
	}
	ids := transcript.IDs(chunks)
	runID := uuid.NewString()
	logger := o.logger.With(slog.String("run_id", runID), slog.String("scope", scope))
	result := Result{RunID: runID}
	if len(chunks) == 0 {
		logger.Info("nothing to dub")
		return result, nil
	}

	if err := o.recorder.StartRun(ctx, runID, scope, len(chunks)); err != nil {
		logger.Warn("failed to record run start", slogError(err))
	}
	tracker := NewTracker(runID, ids, o.recorder, logger)

	runCtx := ctx
	if o.settings.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.settings.Deadline)
		defer cancel()
	}

	runErr := o.runStages(runCtx, chunks, ids, tracker, logger)

	audio, missing, collectErr := CollectAudio(ctx, o.store, ids, logger)
	result.Chunks = audio
	result.Missing = missing
	result.States = tracker.Snapshot()

	if runErr != nil && ctx.Err() == nil && errors.Is(runErr, context.DeadlineExceeded) {
		runErr = fmt.Errorf("%w after %s: %d of %d chunks synthesized", ErrDeadline, o.settings.Deadline, len(audio), len(ids))
	}
	err = errors.Join(runErr, collectErr)

	status := "completed"
	switch {
	case err != nil:
		status = "aborted"
	case len(missing) > 0:
		status = "partial"
	}
	if recErr := o.recorder.FinishRun(context.WithoutCancel(ctx), runID, status, len(missing)); recErr != nil {
		logger.Warn("failed to record run finish", slogError(recErr))
	}
	logger.Info("dub run finished",
		slog.String("status", status),
		slog.Int("chunks", len(ids)),
		slog.Int("synthesized", len(audio)),
		slog.Int("missing", len(missing)),
	)
	return result, err
}

func (o *Orchestrator) runStages(ctx context.Context, chunks []transcript.Chunk, ids []string, tracker *Tracker, logger *slog.Logger) error {
	// Signals left over from an earlier run would be miscounted.
	for _, queue := range []string{protocol.QueueTranscriptChunks, protocol.QueueTranslations} {
		if err := o.store.Purge(ctx, queue); err != nil {
			return fmt.Errorf("purge %s: %w", queue, err)
		}
	}
	// Ids are stable across runs of one scope, so output from an earlier run
	// would otherwise be collected as this run's.
	for _, id := range ids {
		for _, key := range []string{protocol.TranslationKey(id), protocol.AudioKey(id)} {
			if err := o.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("clear %s: %w", key, err)
			}
		}
	}

	synthesis := NewSynthesisWorker(o.store, o.speaker, o.settings, tracker, logger)
	if err := synthesis.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare synthesis: %w", err)
	}
	if err := Seed(ctx, o.store, chunks); err != nil {
		return err
	}
	translation := NewTranslationWorker(o.store, o.translator, o.settings, tracker, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return translation.Run(gctx, ids) })
	g.Go(func() error { return synthesis.Run(gctx, len(ids)) })
	return g.Wait()
}

// CollectAudio reads every expected audio record in id order. Ids without
// audio are returned in missing and logged.
func CollectAudio(ctx context.Context, store bus.Store, ids []string, logger *slog.Logger) ([]transcript.AudioChunk, []string, error) {
	var (
		chunks  []transcript.AudioChunk
		missing []string
	)
	for _, id := range ids {
		audio, err := store.Get(ctx, protocol.AudioKey(id))
		if errors.Is(err, bus.ErrNotFound) {
			logger.Warn("audio missing for chunk", slog.String("chunk_id", id))
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return chunks, missing, fmt.Errorf("collect audio %s: %w", id, err)
		}
		chunks = append(chunks, transcript.AudioChunk{ChunkID: id, Audio: audio})
	}
	return chunks, missing, nil
}

// CollectTranslations reads every expected translation record in id order.
func CollectTranslations(ctx context.Context, store bus.Store, ids []string, logger *slog.Logger) ([]protocol.TranslatedChunk, []string, error) {
	var (
		chunks  []protocol.TranslatedChunk
		missing []string
	)
	for _, id := range ids {
		var record protocol.TranslatedChunk
		err := bus.GetJSON(ctx, store, protocol.TranslationKey(id), &record)
		if errors.Is(err, bus.ErrNotFound) {
			logger.Warn("translation missing for chunk", slog.String("chunk_id", id))
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return chunks, missing, fmt.Errorf("collect translation %s: %w", id, err)
		}
		chunks = append(chunks, record)
	}
	return chunks, missing, nil
}
