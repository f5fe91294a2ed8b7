package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Output formats accepted by the cloud speech endpoint, keyed by the short
// names used in configuration.
var outputFormats = map[string]string{
	"mp3":  "audio-16khz-32kbitrate-mono-mp3",
	"wav":  "riff-16khz-16bit-mono-pcm",
	"webm": "webm-24khz-16bit-mono-opus",
}

// OutputFormat maps a short format name to the endpoint's header value.
func OutputFormat(name string) (string, error) {
	format, ok := outputFormats[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown tts output format %q", name)
	}
	return format, nil
}

// AzureConfig configures the cloud speech backend. Endpoint overrides the
// URL derived from Region.
type AzureConfig struct {
	Region       string
	APIKey       string
	Endpoint     string
	OutputFormat string
}

type azureSynth struct {
	url        string
	apiKey     string
	format     string
	httpClient *http.Client
}

func NewAzureSynth(cfg AzureConfig, httpClient *http.Client) (Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("azure tts: api key required")
	}
	url := strings.TrimSpace(cfg.Endpoint)
	if url == "" {
		if strings.TrimSpace(cfg.Region) == "" {
			return nil, errors.New("azure tts: region or endpoint required")
		}
		url = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	format, err := OutputFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &azureSynth{url: url, apiKey: cfg.APIKey, format: format, httpClient: httpClient}, nil
}

func (a *azureSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader([]byte(req.Markup)))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)
		httpReq.Header.Set("Content-Type", "application/ssml+xml")
		httpReq.Header.Set("X-Microsoft-OutputFormat", a.format)
		httpReq.Header.Set("User-Agent", "loqa-dub")

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("azure tts: http error: %w", err)
			return
		}
		defer resp.Body.Close()
		audio, err := io.ReadAll(resp.Body)
		if err != nil {
			errs <- fmt.Errorf("azure tts: read body: %w", err)
			return
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			errs <- fmt.Errorf("azure tts: http %d: %s", resp.StatusCode, strings.TrimSpace(string(audio)))
			return
		}
		chunks <- SynthChunk{ChunkID: req.ChunkID, Audio: audio, Final: true}
	}()
	return chunks, errs
}
