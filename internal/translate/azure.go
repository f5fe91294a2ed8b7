package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const azureAPIVersion = "3.0"

// AzureConfig configures the cloud text translation backend.
type AzureConfig struct {
	Endpoint string
	APIKey   string
	Region   string
	Timeout  time.Duration
}

type azureTranslator struct {
	cfg        AzureConfig
	httpClient *http.Client
}

type azureTextItem struct {
	Text string `json:"Text"`
}

type azureResponseItem struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

// NewAzureTranslator builds a backend for the cloud translator REST API.
// A nil httpClient gets a default client bounded by cfg.Timeout.
func NewAzureTranslator(cfg AzureConfig, httpClient *http.Client) (Translator, error) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" || strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("azure translator: endpoint, api key and region are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &azureTranslator{cfg: cfg, httpClient: httpClient}, nil
}

func (a *azureTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if len(req.Texts) == 0 {
		return nil, ErrEmptyInput
	}
	query := url.Values{}
	query.Set("api-version", azureAPIVersion)
	if req.SourceLang != "" {
		query.Set("from", req.SourceLang)
	}
	query.Add("to", req.TargetLang)

	items := make([]azureTextItem, len(req.Texts))
	for i, text := range req.Texts {
		items[i] = azureTextItem{Text: text}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("azure translator: encode body: %w", err)
	}

	endpoint := a.cfg.Endpoint + "/translate?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure translator: new request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.cfg.APIKey)
	httpReq.Header.Set("Ocp-Apim-Subscription-Region", a.cfg.Region)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure translator: http error: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure translator: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("azure translator: http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded []azureResponseItem
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("azure translator: decode response: %w", err)
	}
	out := make(List, len(decoded))
	for i, item := range decoded {
		m := make(LanguageMap, len(item.Translations))
		for _, tr := range item.Translations {
			m[tr.To] = tr.Text
		}
		out[i] = m
	}
	return out, nil
}
