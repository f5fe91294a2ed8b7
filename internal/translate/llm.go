package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// VideoContext gives the generative backend background on the source video.
type VideoContext struct {
	Title       string
	Description string
	Tags        []string
}

type llmTranslator struct {
	endpoint   string
	model      string
	video      VideoContext
	httpClient *http.Client
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewLLMTranslator builds a backend that asks a generative model, served over
// the Ollama generate API, to translate each sentence separately.
func NewLLMTranslator(endpoint, model string, video VideoContext, httpClient *http.Client) Translator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if model == "" {
		model = "llama3.2:latest"
	}
	return &llmTranslator{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		video:      video,
		httpClient: httpClient,
	}
}

func (g *llmTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if len(req.Texts) == 0 {
		return nil, ErrEmptyInput
	}
	prompt, err := buildPrompt(g.video, req.TargetLang, req.Texts)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(ollamaRequest{
		Model:   g.model,
		Prompt:  prompt,
		Stream:  true,
		Options: ollamaOptions{Temperature: 0},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm translator: model returned status %s", resp.Status)
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("llm translator: decode stream: %w", err)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var translated []string
	if err := decodeJSONArray(accumulated.String(), &translated); err != nil {
		return nil, fmt.Errorf("llm translator: parse reply: %w", err)
	}
	if len(translated) != len(req.Texts) {
		return nil, fmt.Errorf("%w: model returned %d sentences for %d inputs", ErrCountMismatch, len(translated), len(req.Texts))
	}
	return Texts(translated...), nil
}

func buildPrompt(video VideoContext, targetLang string, texts []string) (string, error) {
	input, err := json.MarshalIndent(texts, "", "  ")
	if err != nil {
		return "", err
	}
	tags, err := json.Marshal(video.Tags)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are a professional translator and subtitle expert.\n")
	fmt.Fprintf(&b, "Translate EACH sentence in the given JSON array individually and separately into %s.\n\n", targetLang)
	if video.Title != "" || video.Description != "" || len(video.Tags) > 0 {
		b.WriteString("## CONTEXT:\n")
		fmt.Fprintf(&b, "- Video Title: %q\n", video.Title)
		fmt.Fprintf(&b, "- Description: %q\n", video.Description)
		fmt.Fprintf(&b, "- Tags: %s\n\n", tags)
	}
	b.WriteString("## INPUT:\n")
	b.Write(input)
	b.WriteString("\n\n## REQUIREMENTS:\n")
	b.WriteString("1. Translate each element separately, preserving order and count (1:1 mapping).\n")
	fmt.Fprintf(&b, "2. Output MUST be a JSON array with exactly %d strings.\n", len(texts))
	b.WriteString("3. Do not merge or split sentences.\n")
	b.WriteString("4. Return ONLY the JSON array, with no commentary or markdown.\n")
	return b.String(), nil
}

// decodeJSONArray tolerates replies wrapped in code fences or surrounded by
// prose by falling back to the outermost bracketed span.
func decodeJSONArray(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := stripCodeFence(trimmed)
	if start := strings.Index(sanitized, "["); start >= 0 {
		if end := strings.LastIndex(sanitized, "]"); end > start {
			sanitized = sanitized[start : end+1]
		}
	}
	if sanitized == trimmed {
		return directErr
	}
	return json.Unmarshal([]byte(sanitized), target)
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	body := strings.TrimPrefix(content, "```")
	if newline := strings.Index(body, "\n"); newline >= 0 {
		body = body[newline+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
