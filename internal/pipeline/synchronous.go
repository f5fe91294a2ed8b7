package pipeline

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
)

// Translate runs the translation stage inline, without the store, and returns
// the transcript with text_translated attached to every entry. Any failing
// chunk fails the call.
func Translate(ctx context.Context, translator translate.Translator, settings Settings, entries []transcript.Entry) ([]transcript.Entry, error) {
	chunks, err := transcript.Build("sync", entries, settings.Chunking)
	if err != nil {
		return nil, err
	}
	perChunk := make([][]string, 0, len(chunks))
	for i, chunk := range chunks {
		req := translate.RequestFor(chunk, settings.MergeMode, settings.SourceLang, settings.TargetLang)
		result, err := translator.Translate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("translate chunk %d: %w", i, err)
		}
		segments, err := translate.MergeChunk(chunk, result, settings.TargetLang, settings.MergeMode)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(segments))
		for j, seg := range segments {
			texts[j] = seg.TextTranslated
		}
		perChunk = append(perChunk, texts)
	}
	return transcript.MergeTranslated(entries, perChunk)
}
