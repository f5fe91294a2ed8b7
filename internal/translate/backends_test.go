package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
)

func TestAzureTranslatorRequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("api-version") != "3.0" || q.Get("to") != "vi" || q.Get("from") != "en" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "secret" || r.Header.Get("Ocp-Apim-Subscription-Region") != "southeastasia" {
			t.Errorf("missing auth headers")
		}
		var items []map[string]string
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(items) != 2 || items[0]["Text"] != "Hello" {
			t.Errorf("unexpected body %+v", items)
		}
		_, _ = w.Write([]byte(`[{"translations":[{"text":"Xin chào","to":"vi"}]},{"translations":[{"text":"thế giới","to":"vi"}]}]`))
	}))
	defer server.Close()

	backend, err := NewAzureTranslator(AzureConfig{Endpoint: server.URL + "/", APIKey: "secret", Region: "southeastasia"}, server.Client())
	if err != nil {
		t.Fatalf("NewAzureTranslator returned error: %v", err)
	}
	result, err := backend.Translate(context.Background(), Request{Texts: []string{"Hello", "world"}, SourceLang: "en", TargetLang: "vi"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	segments, err := MergeChunk(helloWorldChunk(), result, "vi", MergePositional)
	if err != nil {
		t.Fatalf("MergeChunk returned error: %v", err)
	}
	if segments[0].TextTranslated != "Xin chào" || segments[1].TextTranslated != "thế giới" {
		t.Fatalf("unexpected segments %+v", segments)
	}
}

func TestAzureTranslatorHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	backend, err := NewAzureTranslator(AzureConfig{Endpoint: server.URL, APIKey: "k", Region: "r"}, server.Client())
	if err != nil {
		t.Fatalf("NewAzureTranslator returned error: %v", err)
	}
	_, err = backend.Translate(context.Background(), Request{Texts: []string{"x"}, TargetLang: "vi"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected http 429 error, got %v", err)
	}
}

func TestNewAzureTranslatorRequiresCredentials(t *testing.T) {
	if _, err := NewAzureTranslator(AzureConfig{Endpoint: "http://x"}, nil); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestLLMTranslatorStreamsFencedArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(req.Prompt, "Video Title: \"Greetings\"") || !strings.Contains(req.Prompt, "exactly 2 strings") {
			t.Errorf("prompt missing context: %s", req.Prompt)
		}
		parts := []string{"```json\n[\"Xin ", "chào\", \"thế giới\"]\n```"}
		for i, part := range parts {
			line, _ := json.Marshal(ollamaStreamResponse{Response: part, Done: i == len(parts)-1})
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
	defer server.Close()

	backend := NewLLMTranslator(server.URL, "", VideoContext{Title: "Greetings", Tags: []string{"intro"}}, server.Client())
	result, err := backend.Translate(context.Background(), Request{Texts: []string{"Hello", "world"}, TargetLang: "vi"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	texts, err := Resolve(result, "vi")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(texts) != 2 || texts[0] != "Xin chào" || texts[1] != "thế giới" {
		t.Fatalf("unexpected texts %q", texts)
	}
}

func TestLLMTranslatorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		line, _ := json.Marshal(ollamaStreamResponse{Response: `["Xin chào thế giới"]`, Done: true})
		fmt.Fprintf(w, "%s\n", line)
	}))
	defer server.Close()

	backend := NewLLMTranslator(server.URL, "m", VideoContext{}, server.Client())
	_, err := backend.Translate(context.Background(), Request{Texts: []string{"Hello", "world"}, TargetLang: "vi"})
	if !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("expected ErrCountMismatch, got %v", err)
	}
}

func TestDecodeJSONArrayWithProse(t *testing.T) {
	var out []string
	if err := decodeJSONArray("Here you go: [\"a\", \"b\"] hope it helps", &out); err != nil {
		t.Fatalf("decodeJSONArray returned error: %v", err)
	}
	if len(out) != 2 || out[1] != "b" {
		t.Fatalf("unexpected decode %q", out)
	}
	if err := decodeJSONArray("no json here", &out); err == nil {
		t.Fatal("expected error for payload without array")
	}
}

func TestMockTranslatorTagsTarget(t *testing.T) {
	result, err := NewMockTranslator().Translate(context.Background(), Request{Texts: []string{" hi "}, TargetLang: "vi"})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	texts, err := Resolve(result, "vi")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if texts[0] != "[vi] hi" {
		t.Fatalf("unexpected mock text %q", texts[0])
	}
}

func TestWithRateLimitHonoursContext(t *testing.T) {
	calls := 0
	next := Func(func(ctx context.Context, req Request) (Result, error) {
		calls++
		return Texts(req.Texts...), nil
	})
	limited := WithRateLimit(next, 1)

	if _, err := limited.Translate(context.Background(), Request{Texts: []string{"a"}}); err != nil {
		t.Fatalf("first call returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := limited.Translate(ctx, Request{Texts: []string{"b"}}); err == nil {
		t.Fatal("expected second call to be throttled past the deadline")
	}
	if calls != 1 {
		t.Fatalf("expected one backend call, got %d", calls)
	}
}

func TestFromConfigModes(t *testing.T) {
	cfg := config.TranslatorConfig{Mode: "mock", RequestsPerMinute: 0}
	backend, err := FromConfig(cfg, VideoContext{})
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	if _, ok := backend.(*mockTranslator); !ok {
		t.Fatalf("expected bare mock backend, got %T", backend)
	}

	cfg.RequestsPerMinute = 30
	backend, err = FromConfig(cfg, VideoContext{})
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	if _, ok := backend.(*limited); !ok {
		t.Fatalf("expected rate limited backend, got %T", backend)
	}

	if _, err := FromConfig(config.TranslatorConfig{Mode: "carrier-pigeon"}, VideoContext{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if _, err := FromConfig(config.TranslatorConfig{Mode: "exec"}, VideoContext{}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
}
