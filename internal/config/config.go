package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// TraceExporter is otlp, stdout or none. Empty picks otlp when an
	// endpoint is set and none otherwise.
	TraceExporter string `yaml:"trace_exporter"`
}

// SlogLevel maps log_level onto a slog level, defaulting to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Chunking    ChunkingConfig   `yaml:"chunking"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Timing      TimingConfig     `yaml:"timing"`
	Markup      MarkupConfig     `yaml:"markup"`
	Translator  TranslatorConfig `yaml:"translator"`
	TTS         TTSConfig        `yaml:"tts"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// StoreConfig selects the ephemeral handoff store shared by the stage workers.
type StoreConfig struct {
	Backend      string `yaml:"backend"` // memory, nats
	Bucket       string `yaml:"bucket"`
	StreamPrefix string `yaml:"stream_prefix"`
	TTLSeconds   int    `yaml:"ttl_seconds"`
}

func (s StoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

type ChunkingConfig struct {
	MaxChars int    `yaml:"max_chars"`
	MaxItems int    `yaml:"max_items"`
	IDScheme string `yaml:"id_scheme"` // index, start
}

type PipelineConfig struct {
	MergeMode         string `yaml:"merge_mode"`         // positional, proportional
	Notify            string `yaml:"notify"`             // queue, pubsub
	TranslationSource string `yaml:"translation_source"` // list, queue
	DequeueTimeoutMS  int    `yaml:"dequeue_timeout_ms"`
	DeadlineSeconds   int    `yaml:"deadline_seconds"`
	SourceLang        string `yaml:"source_lang"`
	TargetLang        string `yaml:"target_lang"`
}

func (p PipelineConfig) DequeueTimeout() time.Duration {
	return time.Duration(p.DequeueTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) Deadline() time.Duration {
	return time.Duration(p.DeadlineSeconds) * time.Second
}

type TimingConfig struct {
	Weight     float64 `yaml:"weight"`
	MinPercent int     `yaml:"min_percent"`
	MaxPercent int     `yaml:"max_percent"`
}

type MarkupConfig struct {
	MinGapMS int `yaml:"min_gap_ms"`
	MaxGapMS int `yaml:"max_gap_ms"`
	LeadMS   int `yaml:"lead_ms"`
}

type TranslatorConfig struct {
	Mode              string `yaml:"mode"` // mock, azure, llm, exec
	Endpoint          string `yaml:"endpoint"`
	APIKey            string `yaml:"api_key"`
	Region            string `yaml:"region"`
	Model             string `yaml:"model"`
	Command           string `yaml:"command"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

type TTSConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, azure
	Command        string `yaml:"command"`
	Voice          string `yaml:"voice"`
	Region         string `yaml:"region"`
	APIKey         string `yaml:"api_key"`
	Endpoint       string `yaml:"endpoint"`
	OutputFormat   string `yaml:"output_format"` // mp3, wav, webm
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dub",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Backend:      "memory",
			Bucket:       "DUB_RECORDS",
			StreamPrefix: "DUB_QUEUE",
			TTLSeconds:   3600,
		},
		Chunking: ChunkingConfig{
			MaxChars: 4500,
			MaxItems: 100,
			IDScheme: "index",
		},
		Pipeline: PipelineConfig{
			MergeMode:         "positional",
			Notify:            "queue",
			TranslationSource: "list",
			DequeueTimeoutMS:  10000,
			DeadlineSeconds:   900,
			SourceLang:        "",
			TargetLang:        "vi",
		},
		Timing: TimingConfig{
			Weight:     0.7,
			MinPercent: -50,
			MaxPercent: 100,
		},
		Markup: MarkupConfig{
			MinGapMS: 100,
			MaxGapMS: 2000,
			LeadMS:   100,
		},
		Translator: TranslatorConfig{
			Mode:              "mock",
			Endpoint:          "https://api.cognitive.microsofttranslator.com",
			Model:             "llama3.2:latest",
			RequestsPerMinute: 60,
			TimeoutSeconds:    10,
		},
		TTS: TTSConfig{
			Mode:           "mock",
			Voice:          "vi-VN-HoaiMyNeural",
			OutputFormat:   "mp3",
			TimeoutSeconds: 45,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-dub-events.db",
			RetentionMode: "session",
			RetentionDays: 7,
			MaxRuns:       1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_DUB_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_DUB_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_DUB_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_DUB_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_DUB_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_DUB_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_DUB_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_DUB_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_DUB_TELEMETRY_TRACE_EXPORTER")
	overrideBool(&cfg.Bus.Embedded, "LOQA_DUB_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_DUB_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_DUB_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_DUB_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_DUB_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_DUB_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_DUB_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_DUB_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_DUB_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_DUB_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Backend, "LOQA_DUB_STORE_BACKEND")
	overrideString(&cfg.Store.Bucket, "LOQA_DUB_STORE_BUCKET")
	overrideString(&cfg.Store.StreamPrefix, "LOQA_DUB_STORE_STREAM_PREFIX")
	overrideInt(&cfg.Store.TTLSeconds, "LOQA_DUB_STORE_TTL_SECONDS")
	overrideInt(&cfg.Chunking.MaxChars, "LOQA_DUB_CHUNKING_MAX_CHARS")
	overrideInt(&cfg.Chunking.MaxItems, "LOQA_DUB_CHUNKING_MAX_ITEMS")
	overrideString(&cfg.Chunking.IDScheme, "LOQA_DUB_CHUNKING_ID_SCHEME")
	overrideString(&cfg.Pipeline.MergeMode, "LOQA_DUB_PIPELINE_MERGE_MODE")
	overrideString(&cfg.Pipeline.Notify, "LOQA_DUB_PIPELINE_NOTIFY")
	overrideString(&cfg.Pipeline.TranslationSource, "LOQA_DUB_PIPELINE_TRANSLATION_SOURCE")
	overrideInt(&cfg.Pipeline.DequeueTimeoutMS, "LOQA_DUB_PIPELINE_DEQUEUE_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.DeadlineSeconds, "LOQA_DUB_PIPELINE_DEADLINE_SECONDS")
	overrideString(&cfg.Pipeline.SourceLang, "LOQA_DUB_PIPELINE_SOURCE_LANG")
	overrideString(&cfg.Pipeline.TargetLang, "LOQA_DUB_PIPELINE_TARGET_LANG")
	overrideFloat(&cfg.Timing.Weight, "LOQA_DUB_TIMING_WEIGHT")
	overrideInt(&cfg.Timing.MinPercent, "LOQA_DUB_TIMING_MIN_PERCENT")
	overrideInt(&cfg.Timing.MaxPercent, "LOQA_DUB_TIMING_MAX_PERCENT")
	overrideInt(&cfg.Markup.MinGapMS, "LOQA_DUB_MARKUP_MIN_GAP_MS")
	overrideInt(&cfg.Markup.MaxGapMS, "LOQA_DUB_MARKUP_MAX_GAP_MS")
	overrideInt(&cfg.Markup.LeadMS, "LOQA_DUB_MARKUP_LEAD_MS")
	overrideString(&cfg.Translator.Mode, "LOQA_DUB_TRANSLATOR_MODE")
	overrideString(&cfg.Translator.Endpoint, "LOQA_DUB_TRANSLATOR_ENDPOINT")
	overrideString(&cfg.Translator.APIKey, "LOQA_DUB_TRANSLATOR_API_KEY")
	overrideString(&cfg.Translator.Region, "LOQA_DUB_TRANSLATOR_REGION")
	overrideString(&cfg.Translator.Model, "LOQA_DUB_TRANSLATOR_MODEL")
	overrideString(&cfg.Translator.Command, "LOQA_DUB_TRANSLATOR_COMMAND")
	overrideInt(&cfg.Translator.RequestsPerMinute, "LOQA_DUB_TRANSLATOR_REQUESTS_PER_MINUTE")
	overrideInt(&cfg.Translator.TimeoutSeconds, "LOQA_DUB_TRANSLATOR_TIMEOUT_SECONDS")
	overrideString(&cfg.TTS.Mode, "LOQA_DUB_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_DUB_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_DUB_TTS_VOICE")
	overrideString(&cfg.TTS.Region, "LOQA_DUB_TTS_REGION")
	overrideString(&cfg.TTS.APIKey, "LOQA_DUB_TTS_API_KEY")
	overrideString(&cfg.TTS.Endpoint, "LOQA_DUB_TTS_ENDPOINT")
	overrideString(&cfg.TTS.OutputFormat, "LOQA_DUB_TTS_OUTPUT_FORMAT")
	overrideInt(&cfg.TTS.TimeoutSeconds, "LOQA_DUB_TTS_TIMEOUT_SECONDS")
	overrideString(&cfg.EventStore.Path, "LOQA_DUB_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_DUB_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_DUB_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "LOQA_DUB_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_DUB_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "otlp", "stdout", "none":
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	if cfg.Telemetry.TraceExporter == "otlp" && strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
		return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	switch cfg.Store.Backend {
	case "memory", "nats":
	default:
		return errors.New("store.backend must be one of memory|nats")
	}
	if cfg.Store.TTLSeconds <= 0 {
		return errors.New("store.ttl_seconds must be positive")
	}
	if cfg.Store.Backend == "nats" && (cfg.Store.Bucket == "" || cfg.Store.StreamPrefix == "") {
		return errors.New("store.bucket and store.stream_prefix must be set when backend=nats")
	}
	if cfg.Chunking.MaxChars <= 0 {
		return errors.New("chunking.max_chars must be positive")
	}
	if cfg.Chunking.MaxItems <= 0 {
		return errors.New("chunking.max_items must be positive")
	}
	switch cfg.Chunking.IDScheme {
	case "index", "start":
	default:
		return errors.New("chunking.id_scheme must be one of index|start")
	}
	switch cfg.Pipeline.MergeMode {
	case "positional", "proportional":
	default:
		return errors.New("pipeline.merge_mode must be one of positional|proportional")
	}
	switch cfg.Pipeline.Notify {
	case "queue", "pubsub":
	default:
		return errors.New("pipeline.notify must be one of queue|pubsub")
	}
	switch cfg.Pipeline.TranslationSource {
	case "list", "queue":
	default:
		return errors.New("pipeline.translation_source must be one of list|queue")
	}
	if cfg.Pipeline.DequeueTimeoutMS <= 0 {
		return errors.New("pipeline.dequeue_timeout_ms must be positive")
	}
	if cfg.Pipeline.DeadlineSeconds < 0 {
		return errors.New("pipeline.deadline_seconds must be >= 0")
	}
	if strings.TrimSpace(cfg.Pipeline.TargetLang) == "" {
		return errors.New("pipeline.target_lang must not be empty")
	}
	if cfg.Timing.Weight < 0 || cfg.Timing.Weight > 1 {
		return errors.New("timing.weight must be between 0 and 1")
	}
	if cfg.Timing.MinPercent > cfg.Timing.MaxPercent {
		return errors.New("timing.min_percent must not exceed timing.max_percent")
	}
	if cfg.Markup.MinGapMS < 0 || cfg.Markup.MaxGapMS < cfg.Markup.MinGapMS {
		return errors.New("markup.max_gap_ms must be >= markup.min_gap_ms >= 0")
	}
	switch cfg.Translator.Mode {
	case "mock", "azure", "llm", "exec":
	default:
		return errors.New("translator.mode must be one of mock|azure|llm|exec")
	}
	if cfg.Translator.Mode == "azure" && (cfg.Translator.APIKey == "" || cfg.Translator.Region == "" || cfg.Translator.Endpoint == "") {
		return errors.New("translator.api_key, translator.region and translator.endpoint must be set when mode=azure")
	}
	if cfg.Translator.Mode == "llm" && cfg.Translator.Endpoint == "" {
		return errors.New("translator.endpoint must be set when mode=llm")
	}
	if cfg.Translator.Mode == "exec" && cfg.Translator.Command == "" {
		return errors.New("translator.command must be set when mode=exec")
	}
	if cfg.Translator.RequestsPerMinute < 0 {
		return errors.New("translator.requests_per_minute must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "azure":
	default:
		return errors.New("tts.mode must be one of mock|exec|azure")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "azure" && cfg.TTS.APIKey == "" {
		return errors.New("tts.api_key must be set when mode=azure")
	}
	if cfg.TTS.Mode == "azure" && cfg.TTS.Region == "" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.region or tts.endpoint must be set when mode=azure")
	}
	switch cfg.TTS.OutputFormat {
	case "mp3", "wav", "webm":
	default:
		return errors.New("tts.output_format must be one of mp3|wav|webm")
	}
	if cfg.TTS.Voice == "" {
		return errors.New("tts.voice must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
