package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-dub/internal/transcript"
)

var (
	ErrEmptyInput      = fmt.Errorf("%w: empty translation input", transcript.ErrValidation)
	ErrCountMismatch   = fmt.Errorf("%w: translated count mismatch", transcript.ErrValidation)
	ErrMissingLanguage = fmt.Errorf("%w: translation missing target language", transcript.ErrValidation)
)

// Request describes texts to translate. SourceLang may be empty for
// auto-detection.
type Request struct {
	Texts      []string
	SourceLang string
	TargetLang string
}

// Translator is the contract for translation backends.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// Result is the shape a backend hands back: PlainText, LanguageMap, or a List
// with one element per requested text. It is resolved once, at the merge
// boundary, into plain strings.
type Result interface {
	resolve(targetLang string) ([]string, error)
}

// PlainText is a single translated string.
type PlainText string

// LanguageMap holds one translation per target language code.
type LanguageMap map[string]string

// List holds one result per requested text, in request order.
type List []Result

func (p PlainText) resolve(string) ([]string, error) {
	return []string{string(p)}, nil
}

func (m LanguageMap) resolve(targetLang string) ([]string, error) {
	if text, ok := m[targetLang]; ok {
		return []string{text}, nil
	}
	for lang, text := range m {
		if strings.EqualFold(lang, targetLang) {
			return []string{text}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrMissingLanguage, targetLang)
}

func (l List) resolve(targetLang string) ([]string, error) {
	out := make([]string, 0, len(l))
	for i, item := range l {
		if _, nested := item.(List); nested {
			return nil, fmt.Errorf("%w: nested list at position %d", transcript.ErrValidation, i)
		}
		if item == nil {
			return nil, fmt.Errorf("%w: nil result at position %d", ErrEmptyInput, i)
		}
		texts, err := item.resolve(targetLang)
		if err != nil {
			return nil, err
		}
		out = append(out, texts...)
	}
	return out, nil
}

// Resolve flattens a result into translated strings for targetLang.
func Resolve(result Result, targetLang string) ([]string, error) {
	if result == nil {
		return nil, ErrEmptyInput
	}
	return result.resolve(targetLang)
}

// Texts wraps plain strings as a List result.
func Texts(texts ...string) List {
	out := make(List, len(texts))
	for i, text := range texts {
		out[i] = PlainText(text)
	}
	return out
}

// Func adapts a plain function to the Translator contract.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Translate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
