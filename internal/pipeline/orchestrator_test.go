package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/natsserver"
	"github.com/loqalabs/loqa-dub/internal/protocol"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
)

func TestOrchestratorRunsBothStages(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	rec := &memoryRecorder{}
	orch := NewOrchestrator(store, prefixTranslator("vi:"), &recordingSpeaker{}, testSettings(), rec, newLogger())

	result, err := orch.Run(context.Background(), "vid", sampleEntries())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	wantIDs := []string{"vid_0", "vid_1", "vid_2"}
	if len(result.Chunks) != len(wantIDs) {
		t.Fatalf("expected %d audio chunks, got %d", len(wantIDs), len(result.Chunks))
	}
	for i, chunk := range result.Chunks {
		if chunk.ChunkID != wantIDs[i] {
			t.Fatalf("chunk %d: expected %s, got %s", i, wantIDs[i], chunk.ChunkID)
		}
		if !strings.Contains(string(chunk.Audio), "<prosody") {
			t.Fatalf("chunk %s audio is not the rendered markup", chunk.ChunkID)
		}
		if result.States[chunk.ChunkID] != StateDone {
			t.Fatalf("chunk %s in state %s", chunk.ChunkID, result.States[chunk.ChunkID])
		}
	}
	if len(result.Missing) != 0 {
		t.Fatalf("unexpected missing %v", result.Missing)
	}
	if !strings.Contains(string(result.Chunks[0].Audio), "vi:Hello") {
		t.Fatalf("translation not applied: %s", result.Chunks[0].Audio)
	}
	if rec.runs[result.RunID] != "completed" {
		t.Fatalf("expected completed run, got %q", rec.runs[result.RunID])
	}

	translations, missing, err := CollectTranslations(context.Background(), store, wantIDs, newLogger())
	if err != nil || len(missing) != 0 {
		t.Fatalf("CollectTranslations: missing=%v err=%v", missing, err)
	}
	if translations[1].Index != 1 || translations[1].Segments[0].TextTranslated != "vi:Good" {
		t.Fatalf("unexpected translation record %+v", translations[1])
	}
}

func TestOrchestratorReportsFailedTranslationAsMissing(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	translator := translate.Func(func(ctx context.Context, req translate.Request) (translate.Result, error) {
		if req.Texts[0] == "Good" {
			return nil, errors.New("quota exceeded")
		}
		return translate.Texts(req.Texts...), nil
	})
	rec := &memoryRecorder{}
	orch := NewOrchestrator(store, translator, &recordingSpeaker{}, testSettings(), rec, newLogger())

	started := time.Now()
	result, err := orch.Run(context.Background(), "vid", sampleEntries())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if time.Since(started) > 3*time.Second {
		t.Fatal("a failed chunk must not stall the run until the deadline")
	}
	if len(result.Missing) != 1 || result.Missing[0] != "vid_1" {
		t.Fatalf("expected vid_1 missing, got %v", result.Missing)
	}
	if result.States["vid_1"] != StateFailed || result.States["vid_2"] != StateDone {
		t.Fatalf("unexpected states %v", result.States)
	}
	if rec.runs[result.RunID] != "partial" {
		t.Fatalf("expected partial run, got %q", rec.runs[result.RunID])
	}
}

func TestOrchestratorRetryDoesNotReuseEarlierAudio(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	first := NewOrchestrator(store, prefixTranslator("vi:"), &recordingSpeaker{}, testSettings(), nil, newLogger())
	if result, err := first.Run(context.Background(), "vid", sampleEntries()); err != nil || len(result.Chunks) != 3 {
		t.Fatalf("first run: chunks=%d err=%v", len(result.Chunks), err)
	}

	broken := SpeakerFunc(func(ctx context.Context, chunkID, markup string) ([]byte, error) {
		return nil, errors.New("voice unavailable")
	})
	second := NewOrchestrator(store, prefixTranslator("fr:"), broken, testSettings(), nil, newLogger())
	result, err := second.Run(context.Background(), "vid", sampleEntries())
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Fatalf("expected no audio, got %d chunks (first %q)", len(result.Chunks), result.Chunks[0].Audio)
	}
	if len(result.Missing) != 3 {
		t.Fatalf("expected every chunk missing, got %v", result.Missing)
	}
}

func TestOrchestratorRetryClearsEarlierTranslations(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	first := NewOrchestrator(store, prefixTranslator("vi:"), &recordingSpeaker{}, testSettings(), nil, newLogger())
	if _, err := first.Run(context.Background(), "vid", sampleEntries()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	settings := testSettings()
	settings.Deadline = 150 * time.Millisecond
	stuck := translate.Func(func(ctx context.Context, req translate.Request) (translate.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	second := NewOrchestrator(store, stuck, &recordingSpeaker{}, settings, nil, newLogger())
	result, err := second.Run(context.Background(), "vid", sampleEntries())
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("expected ErrDeadline, got %v", err)
	}
	if len(result.Chunks) != 0 || len(result.Missing) != 3 {
		t.Fatalf("expected every chunk missing, got chunks=%d missing=%v", len(result.Chunks), result.Missing)
	}
	_, missing, err := CollectTranslations(context.Background(), store, []string{"vid_0", "vid_1", "vid_2"}, newLogger())
	if err != nil || len(missing) != 3 {
		t.Fatalf("expected earlier translations cleared, missing=%v err=%v", missing, err)
	}
}

func TestOrchestratorDeadline(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	stuck := SpeakerFunc(func(ctx context.Context, chunkID, markup string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	settings := testSettings()
	settings.Deadline = 150 * time.Millisecond
	orch := NewOrchestrator(store, prefixTranslator(""), stuck, settings, nil, newLogger())

	result, err := orch.Run(context.Background(), "vid", sampleEntries())
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("expected ErrDeadline, got %v", err)
	}
	if len(result.Missing) != 3 || len(result.Chunks) != 0 {
		t.Fatalf("expected every chunk missing, got chunks=%d missing=%v", len(result.Chunks), result.Missing)
	}
}

func TestOrchestratorValidation(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	orch := NewOrchestrator(store, prefixTranslator(""), &recordingSpeaker{}, testSettings(), nil, newLogger())

	if _, err := orch.Run(context.Background(), " ", sampleEntries()); !errors.Is(err, transcript.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	result, err := orch.Run(context.Background(), "vid", nil)
	if err != nil || len(result.Chunks) != 0 {
		t.Fatalf("empty transcript: chunks=%d err=%v", len(result.Chunks), err)
	}
}

func TestOrchestratorQueueSourcePubSubProportional(t *testing.T) {
	store := bus.NewMemoryStore(time.Hour)
	defer store.Close()
	// Stale signals from an earlier run are purged before seeding.
	_ = store.Enqueue(context.Background(), protocol.QueueTranslations, "vid_9")

	settings := testSettings()
	settings.Source = SourceQueue
	settings.Notify = NotifyPubSub
	settings.MergeMode = translate.MergeProportional
	blob := translate.Func(func(ctx context.Context, req translate.Request) (translate.Result, error) {
		if len(req.Texts) != 1 {
			t.Errorf("proportional mode should send one blob, got %d texts", len(req.Texts))
		}
		return translate.PlainText(strings.ToUpper(req.Texts[0])), nil
	})
	orch := NewOrchestrator(store, blob, &recordingSpeaker{}, settings, nil, newLogger())

	result, err := orch.Run(context.Background(), "vid", sampleEntries())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.Chunks) != 3 || len(result.Missing) != 0 {
		t.Fatalf("unexpected result chunks=%d missing=%v", len(result.Chunks), result.Missing)
	}
	translations, _, _ := CollectTranslations(context.Background(), store, []string{"vid_0"}, newLogger())
	segs := translations[0].Segments
	if segs[0].TextTranslated != "HELLO" || segs[1].TextTranslated != "WORLD" {
		t.Fatalf("unexpected proportional split %+v", segs)
	}
}

func TestOrchestratorOverNATS(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	store, err := bus.Open(context.Background(), config.StoreConfig{
		Backend: "nats", Bucket: "DUB_PIPELINE", StreamPrefix: "DUB_PIPELINE_Q", TTLSeconds: 600,
	}, client)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	settings := testSettings()
	settings.Chunking.Scheme = transcript.IDSchemeStart
	orch := NewOrchestrator(store, prefixTranslator("vi:"), &recordingSpeaker{}, settings, nil, newLogger())
	result, err := orch.Run(context.Background(), "vid", sampleEntries())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []string{"vid_0.00", "vid_3.00", "vid_4.00"}
	if len(result.Chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d (missing %v)", len(want), len(result.Chunks), result.Missing)
	}
	for i, chunk := range result.Chunks {
		if chunk.ChunkID != want[i] {
			t.Fatalf("chunk %d: expected %s, got %s", i, want[i], chunk.ChunkID)
		}
	}
}

func TestSynchronousTranslate(t *testing.T) {
	merged, err := Translate(context.Background(), prefixTranslator("vi:"), testSettings(), sampleEntries())
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if len(merged) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(merged))
	}
	for i, entry := range merged {
		if entry.Translated != "vi:"+sampleEntries()[i].Text {
			t.Fatalf("entry %d: unexpected translation %q", i, entry.Translated)
		}
		if entry.Start != sampleEntries()[i].Start {
			t.Fatalf("entry %d: timing changed", i)
		}
	}

	short := translate.Func(func(ctx context.Context, req translate.Request) (translate.Result, error) {
		return translate.Texts("only one"), nil
	})
	if _, err := Translate(context.Background(), short, testSettings(), sampleEntries()); !errors.Is(err, translate.ErrCountMismatch) {
		t.Fatalf("expected ErrCountMismatch, got %v", err)
	}
}
