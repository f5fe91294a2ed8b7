package translate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	"golang.org/x/time/rate"
)

type limited struct {
	next    Translator
	limiter *rate.Limiter
}

// WithRateLimit throttles next to perMinute requests. A non-positive limit
// returns next unchanged.
func WithRateLimit(next Translator, perMinute int) Translator {
	if perMinute <= 0 {
		return next
	}
	return &limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

func (l *limited) Translate(ctx context.Context, req Request) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("translator rate limiter: %w", err)
	}
	return l.next.Translate(ctx, req)
}

// FromConfig builds the configured backend wrapped in its rate limit.
func FromConfig(cfg config.TranslatorConfig, video VideoContext) (Translator, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var (
		backend Translator
		err     error
	)
	switch cfg.Mode {
	case "mock", "":
		backend = NewMockTranslator()
	case "azure":
		backend, err = NewAzureTranslator(AzureConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Region:   cfg.Region,
			Timeout:  timeout,
		}, nil)
	case "llm":
		var client *http.Client
		if timeout > 0 {
			client = &http.Client{Timeout: timeout}
		}
		backend = NewLLMTranslator(cfg.Endpoint, cfg.Model, video, client)
	case "exec":
		backend, err = NewExecTranslator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown translator mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return WithRateLimit(backend, cfg.RequestsPerMinute), nil
}
