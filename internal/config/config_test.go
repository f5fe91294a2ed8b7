package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Chunking.MaxChars != 4500 || cfg.Chunking.MaxItems != 100 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Store.TTL() != time.Hour {
		t.Fatalf("expected 1h store ttl, got %s", cfg.Store.TTL())
	}
	if cfg.Pipeline.DequeueTimeout() != 10*time.Second {
		t.Fatalf("expected 10s dequeue timeout, got %s", cfg.Pipeline.DequeueTimeout())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_DUB_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_DUB_BUS_USERNAME", "alice")
	t.Setenv("LOQA_DUB_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_DUB_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_DUB_STORE_BACKEND", "nats")
	t.Setenv("LOQA_DUB_STORE_TTL_SECONDS", "120")
	t.Setenv("LOQA_DUB_CHUNKING_MAX_CHARS", "500")
	t.Setenv("LOQA_DUB_CHUNKING_ID_SCHEME", "start")
	t.Setenv("LOQA_DUB_PIPELINE_MERGE_MODE", "proportional")
	t.Setenv("LOQA_DUB_PIPELINE_NOTIFY", "pubsub")
	t.Setenv("LOQA_DUB_TIMING_WEIGHT", "0.5")
	t.Setenv("LOQA_DUB_TTS_OUTPUT_FORMAT", "wav")
	t.Setenv("LOQA_DUB_EVENT_STORE_MAX_RUNS", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Store.Backend != "nats" || cfg.Store.TTLSeconds != 120 {
		t.Fatalf("expected store override, got %+v", cfg.Store)
	}
	if cfg.Chunking.MaxChars != 500 || cfg.Chunking.IDScheme != "start" {
		t.Fatalf("expected chunking override, got %+v", cfg.Chunking)
	}
	if cfg.Pipeline.MergeMode != "proportional" || cfg.Pipeline.Notify != "pubsub" {
		t.Fatalf("expected pipeline override, got %+v", cfg.Pipeline)
	}
	if cfg.Timing.Weight != 0.5 {
		t.Fatalf("expected timing weight override, got %v", cfg.Timing.Weight)
	}
	if cfg.TTS.OutputFormat != "wav" {
		t.Fatalf("expected output format override")
	}
	if cfg.EventStore.MaxRuns != 12 {
		t.Fatalf("expected max runs override")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dub.yaml")
	data := []byte(`chunking:
  max_chars: 900
  max_items: 20
pipeline:
  target_lang: de
tts:
  voice: de-DE-KatjaNeural
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chunking.MaxChars != 900 || cfg.Chunking.MaxItems != 20 {
		t.Fatalf("unexpected chunking: %+v", cfg.Chunking)
	}
	if cfg.Pipeline.TargetLang != "de" || cfg.TTS.Voice != "de-DE-KatjaNeural" {
		t.Fatalf("unexpected overrides: %+v %+v", cfg.Pipeline, cfg.TTS)
	}
	if cfg.Pipeline.MergeMode != "positional" {
		t.Fatalf("expected defaults preserved for unset keys")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"merge mode", func(c *Config) { c.Pipeline.MergeMode = "fuzzy" }},
		{"notify", func(c *Config) { c.Pipeline.Notify = "carrier-pigeon" }},
		{"clamp range", func(c *Config) { c.Timing.MinPercent, c.Timing.MaxPercent = 10, -10 }},
		{"ttl", func(c *Config) { c.Store.TTLSeconds = 0 }},
		{"azure translator without key", func(c *Config) { c.Translator.Mode = "azure" }},
		{"exec tts without command", func(c *Config) { c.TTS.Mode = "exec" }},
		{"output format", func(c *Config) { c.TTS.OutputFormat = "flac" }},
		{"id scheme", func(c *Config) { c.Chunking.IDScheme = "random" }},
		{"trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TraceExporter = "otlp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		if got := (TelemetryConfig{LogLevel: name}).SlogLevel(); got != want {
			t.Fatalf("SlogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "loqa-dub.example.yaml"))
	if err != nil {
		t.Fatalf("example config failed to load: %v", err)
	}
	if cfg.Store.Backend != "nats" || cfg.Telemetry.TraceExporter != "none" {
		t.Fatalf("unexpected example values: store=%q trace=%q", cfg.Store.Backend, cfg.Telemetry.TraceExporter)
	}
}
