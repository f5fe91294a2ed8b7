package tts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
)

// Service bounds each synthesis call by the configured timeout and logs
// outcomes per chunk.
type Service struct {
	cfg    config.TTSConfig
	synth  Synthesizer
	logger *slog.Logger
}

func NewService(cfg config.TTSConfig, synth Synthesizer, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		synth:  synth,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

// Voice is the configured voice name.
func (s *Service) Voice() string { return s.cfg.Voice }

// Speak synthesizes markup for one chunk and returns the encoded audio.
func (s *Service) Speak(ctx context.Context, chunkID, markup string) ([]byte, error) {
	timeout := time.Duration(s.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	audio, err := Collect(ctx, s.synth, SynthRequest{ChunkID: chunkID, Markup: markup, Voice: s.cfg.Voice})
	if err != nil {
		s.logger.Warn("tts synthesis error", slog.String("chunk_id", chunkID), slogError(err))
		return nil, fmt.Errorf("synthesize chunk %q: %w", chunkID, err)
	}
	s.logger.Debug("tts synthesis complete",
		slog.String("chunk_id", chunkID),
		slog.Int("bytes", len(audio)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return audio, nil
}

// FromConfig builds the configured backend.
func FromConfig(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.OutputFormat)
	case "azure":
		return NewAzureSynth(AzureConfig{
			Region:       cfg.Region,
			APIKey:       cfg.APIKey,
			Endpoint:     cfg.Endpoint,
			OutputFormat: cfg.OutputFormat,
		}, &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second})
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
