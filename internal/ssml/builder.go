// Package ssml renders translated, rate-annotated segments into a single
// speech synthesis markup document.
package ssml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dub/internal/timing"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"golang.org/x/text/language"
)

var ErrNoSegments = errors.New("ssml: no segments to render")

// Options controls voice selection and silence insertion.
type Options struct {
	Voice string
	// Lang is used for xml:lang when the voice name carries no locale.
	Lang string
	// Origin is the playback time, in seconds, at which the document's audio
	// starts. Leading silence covers the distance to the first segment.
	Origin float64
	MinGap time.Duration
	MaxGap time.Duration
	Lead   time.Duration
	Timing timing.Config
}

// AnnotatedSegment is a translated segment with its computed speech rate and
// the silence to insert after it.
type AnnotatedSegment struct {
	transcript.Segment
	RatePercent int
	PauseAfter  time.Duration
}

// Annotate computes a rate for every segment and the bounded pauses between
// consecutive segments. The returned lead is the silence before the first one.
func Annotate(segments []transcript.Segment, opts Options) ([]AnnotatedSegment, time.Duration, error) {
	if len(segments) == 0 {
		return nil, 0, ErrNoSegments
	}
	input := make([]timing.Segment, len(segments))
	for i, seg := range segments {
		input[i] = timing.Segment{Text: seg.TextTranslated, Duration: seg.Duration}
	}
	rates := timing.ComputeRates(input, opts.Timing)

	annotated := make([]AnnotatedSegment, len(segments))
	for i, seg := range segments {
		annotated[i] = AnnotatedSegment{Segment: seg, RatePercent: rates.Percents[i]}
		if i+1 < len(segments) {
			annotated[i].PauseAfter = boundedGap(segments[i+1].Start-seg.End(), opts.MinGap, opts.MaxGap)
		}
	}

	var lead time.Duration
	// Only inter-segment pauses are capped; the lead keeps the first line on time.
	if offset := seconds(segments[0].Start - opts.Origin); offset > opts.Lead {
		lead = offset
	}
	return annotated, lead, nil
}

// Build annotates segments and renders them in one step.
func Build(segments []transcript.Segment, opts Options) (string, error) {
	annotated, lead, err := Annotate(segments, opts)
	if err != nil {
		return "", err
	}
	return Render(annotated, lead, opts)
}

// Render produces the markup document: one speak root, one voice scope, one
// prosody element per segment and break elements for the computed pauses.
func Render(segments []AnnotatedSegment, lead time.Duration, opts Options) (string, error) {
	if len(segments) == 0 {
		return "", ErrNoSegments
	}
	if strings.TrimSpace(opts.Voice) == "" {
		return "", errors.New("ssml: voice must not be empty")
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="http://www.w3.org/2001/mstts" xml:lang="%s">`, Escape(Locale(opts.Voice, opts.Lang)))
	b.WriteString("\n")
	fmt.Fprintf(&b, `<voice name="%s">`, Escape(opts.Voice))
	b.WriteString("\n")
	if lead > 0 {
		writeBreak(&b, lead)
	}
	for _, seg := range segments {
		fmt.Fprintf(&b, `<prosody rate="%s">%s</prosody>`, timing.FormatRate(seg.RatePercent), Escape(seg.TextTranslated))
		b.WriteString("\n")
		if seg.PauseAfter > 0 {
			writeBreak(&b, seg.PauseAfter)
		}
	}
	b.WriteString("</voice>\n</speak>")
	return b.String(), nil
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five reserved markup characters.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Locale derives xml:lang from a voice name such as "vi-VN-HoaiMyNeural",
// falling back to lang and finally to en-US.
func Locale(voice, lang string) string {
	parts := strings.Split(voice, "-")
	if len(parts) >= 2 {
		if tag, err := language.Parse(parts[0] + "-" + parts[1]); err == nil {
			return tag.String()
		}
	}
	if tag, err := language.Parse(strings.TrimSpace(lang)); err == nil && tag != language.Und {
		return tag.String()
	}
	return language.AmericanEnglish.String()
}

func boundedGap(gap float64, minGap, maxGap time.Duration) time.Duration {
	d := seconds(gap)
	if d > minGap && d < maxGap {
		return d
	}
	return 0
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Millisecond)
}

func writeBreak(b *strings.Builder, d time.Duration) {
	b.WriteString(`<break time="`)
	b.WriteString(strconv.FormatInt(d.Milliseconds(), 10))
	b.WriteString(`ms"/>`)
	b.WriteString("\n")
}
