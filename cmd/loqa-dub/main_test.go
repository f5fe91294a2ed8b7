package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/loqalabs/loqa-dub/internal/transcript"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("LOQA_DUB_TRANSLATOR_MODE", "mock")
	t.Setenv("LOQA_DUB_TRANSLATOR_REQUESTS_PER_MINUTE", "0")
	t.Setenv("LOQA_DUB_TTS_MODE", "mock")
	t.Setenv("LOQA_DUB_STORE_BACKEND", "memory")
	t.Setenv("LOQA_DUB_EVENT_STORE_RETENTION_MODE", "ephemeral")
	t.Setenv("LOQA_DUB_TELEMETRY_LOG_LEVEL", "error")
	t.Setenv("LOQA_DUB_PIPELINE_DEQUEUE_TIMEOUT_MS", "50")

	dir := t.TempDir()
	path := filepath.Join(dir, "talk.json")
	data := `[{"text":"Hello","start":0,"duration":1,"speaker":"a"},{"text":"world","start":1.2,"duration":0.8}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDubCommandWritesAudio(t *testing.T) {
	input := setupEnv(t)
	outDir := filepath.Join(t.TempDir(), "out")

	stdout, err := execute(t, "dub", "-i", input, "-o", outDir)
	if err != nil {
		t.Fatalf("dub returned error: %v (%s)", err, stdout)
	}
	audio, err := os.ReadFile(filepath.Join(outDir, "talk_0.mp3"))
	if err != nil {
		t.Fatalf("expected audio file: %v", err)
	}
	if len(audio) == 0 {
		t.Fatal("expected non-empty audio")
	}

	var summary runSummary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", stdout, err)
	}
	if len(summary.Chunks) != 1 || summary.Chunks[0].ChunkID != "talk_0" || summary.Chunks[0].State != "done" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Chunks[0].Bytes != len(audio) {
		t.Fatalf("summary bytes %d, file bytes %d", summary.Chunks[0].Bytes, len(audio))
	}
}

func TestDubCommandRefusesLockedOutput(t *testing.T) {
	input := setupEnv(t)
	outDir := t.TempDir()

	lock := flock.New(filepath.Join(outDir, lockName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("pre-lock failed: %v", err)
	}
	defer func() { _ = lock.Unlock() }()

	_, err = execute(t, "dub", "-i", input, "-o", outDir, "--scope", "vid")
	if err == nil || !strings.Contains(err.Error(), "another dub run") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestTranslateCommandPrintsTranscript(t *testing.T) {
	input := setupEnv(t)

	stdout, err := execute(t, "translate", "-i", input)
	if err != nil {
		t.Fatalf("translate returned error: %v", err)
	}
	var entries []transcript.Entry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(entries) != 2 || entries[0].Translated != "[vi] Hello" || entries[1].Translated != "[vi] world" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if _, ok := entries[0].Extra["speaker"]; !ok {
		t.Fatal("expected extra fields to survive")
	}
}

func TestTranslateCommandMissingInput(t *testing.T) {
	setupEnv(t)
	if _, err := execute(t, "translate", "-i", filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing transcript")
	}
}
