package translate

import (
	"context"
	"strings"
	"time"
)

type mockTranslator struct{}

// NewMockTranslator returns a backend that tags each text with the target
// language instead of translating it.
func NewMockTranslator() Translator { return &mockTranslator{} }

func (m *mockTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	out := make(List, len(req.Texts))
	for i, text := range req.Texts {
		out[i] = LanguageMap{req.TargetLang: "[" + req.TargetLang + "] " + strings.TrimSpace(text)}
	}
	return out, nil
}
