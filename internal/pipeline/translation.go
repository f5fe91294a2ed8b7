package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/protocol"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
	"go.opentelemetry.io/otel/codes"
)

// TranslationWorker turns stored transcript chunks into stored translated
// segments and signals the synthesis stage for each one.
type TranslationWorker struct {
	store      bus.Store
	translator translate.Translator
	settings   Settings
	tracker    *Tracker
	metrics    *instruments
	logger     *slog.Logger
}

func NewTranslationWorker(store bus.Store, translator translate.Translator, settings Settings, tracker *Tracker, logger *slog.Logger) *TranslationWorker {
	logger = logger.With(slog.String("component", "translation-worker"))
	return &TranslationWorker{
		store:      store,
		translator: translator,
		settings:   settings,
		tracker:    tracker,
		metrics:    newInstruments(logger),
		logger:     logger,
	}
}

// Run processes every id. With SourceQueue the ids only fix how many chunks to
// take from the transcript queue; otherwise they are walked in order. A
// failing chunk is logged and skipped.
func (w *TranslationWorker) Run(ctx context.Context, ids []string) error {
	if w.settings.Source == SourceQueue {
		return w.runQueue(ctx, len(ids))
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("translation stopped: %w", err)
		}
		w.process(ctx, id)
	}
	w.logger.Info("translation stage complete", slog.Int("chunks", len(ids)))
	return nil
}

func (w *TranslationWorker) runQueue(ctx context.Context, total int) error {
	seen := make(map[string]struct{}, total)
	for len(seen) < total {
		id, ok, err := w.store.Dequeue(ctx, protocol.QueueTranscriptChunks, w.settings.dequeueTimeout())
		if err != nil {
			return fmt.Errorf("translation stopped: %w", err)
		}
		if !ok {
			w.logger.Debug("waiting for transcript chunks", slog.Int("remaining", total-len(seen)))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		w.process(ctx, id)
	}
	w.logger.Info("translation stage complete", slog.Int("chunks", total))
	return nil
}

func (w *TranslationWorker) process(ctx context.Context, id string) {
	started := time.Now()
	ctx, span := w.metrics.startSpan(ctx, stageTranslation, id)
	defer span.End()

	w.advance(ctx, id, StateTranslating, "")
	if err := w.translateChunk(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Warn("chunk translation failed", slog.String("chunk_id", id), slogError(err))
		w.advance(ctx, id, StateFailed, err.Error())
		w.metrics.failure(ctx, stageTranslation, started)
		if err := w.store.Delete(ctx, protocol.TranslationKey(id)); err != nil {
			w.logger.Warn("failed to clear stale translation", slog.String("chunk_id", id), slogError(err))
		}
	} else {
		w.advance(ctx, id, StateTranslated, "")
		w.metrics.succeeded(ctx, stageTranslation, started)
	}
	// Failed chunks are signalled too; the synthesis stage finds no record
	// and accounts for them as missing instead of waiting for them.
	if err := w.signal(ctx, id); err != nil {
		w.logger.Warn("failed to signal chunk ready", slog.String("chunk_id", id), slogError(err))
	}
}

func (w *TranslationWorker) translateChunk(ctx context.Context, id string) error {
	var record protocol.TranscriptChunk
	if err := bus.GetJSON(ctx, w.store, protocol.TranscriptKey(id), &record); err != nil {
		return fmt.Errorf("load transcript chunk: %w", err)
	}
	chunk := transcript.Chunk{ID: record.ID, Entries: record.Entries}
	req := translate.RequestFor(chunk, w.settings.MergeMode, w.settings.SourceLang, w.settings.TargetLang)
	result, err := w.translator.Translate(ctx, req)
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	segments, err := translate.MergeChunk(chunk, result, w.settings.TargetLang, w.settings.MergeMode)
	if err != nil {
		return err
	}
	out := protocol.TranslatedChunk{ID: id, Index: record.Index, Segments: segments}
	if err := bus.PutJSON(ctx, w.store, protocol.TranslationKey(id), out); err != nil {
		return fmt.Errorf("store translation: %w", err)
	}
	return nil
}

func (w *TranslationWorker) signal(ctx context.Context, id string) error {
	if w.settings.Notify == NotifyPubSub {
		return w.store.Publish(ctx, protocol.ChannelTranslations, id)
	}
	return w.store.Enqueue(ctx, protocol.QueueTranslations, id)
}

func (w *TranslationWorker) advance(ctx context.Context, id string, to State, detail string) {
	if w.tracker == nil {
		return
	}
	if err := w.tracker.Advance(ctx, id, to, detail); err != nil {
		w.logger.Debug("chunk state not advanced", slog.String("chunk_id", id), slogError(err))
	}
}
