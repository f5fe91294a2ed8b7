// Package timing converts translated text back into speech-rate adjustments
// so synthesized speech fits the original segment slots.
package timing

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Segment is the minimal shape the reconciler needs: text and its time slot.
type Segment struct {
	Text     string
	Duration float64
}

// Config controls smoothing and clamping of the computed rates.
type Config struct {
	// Weight blends the segment's own pace with the batch average.
	Weight     float64
	MinPercent int
	MaxPercent int
}

func DefaultConfig() Config {
	return Config{Weight: 0.7, MinPercent: -50, MaxPercent: 100}
}

// Result carries one rate per input segment plus the batch baseline in
// characters per second.
type Result struct {
	Percents   []int
	AverageCPS float64
}

// ComputeRates returns a signed speed adjustment per segment. A batch with no
// characters or no duration yields a neutral rate for every segment.
func ComputeRates(segments []Segment, cfg Config) Result {
	result := Result{Percents: make([]int, len(segments))}

	var totalChars int
	var totalDuration float64
	lengths := make([]int, len(segments))
	for i, seg := range segments {
		lengths[i] = textLength(seg.Text)
		totalChars += lengths[i]
		if seg.Duration > 0 {
			totalDuration += seg.Duration
		}
	}
	if totalChars == 0 || totalDuration <= 0 {
		return result
	}

	avg := float64(totalChars) / totalDuration
	result.AverageCPS = avg
	for i, seg := range segments {
		result.Percents[i] = cfg.clamp(ratePercent(lengths[i], seg.Duration, avg, cfg.Weight))
	}
	return result
}

func ratePercent(length int, duration, avg, weight float64) int {
	if length == 0 {
		return 0
	}
	segCPS := avg
	if duration > 0 {
		segCPS = float64(length) / duration
	}
	smooth := weight*segCPS + (1-weight)*avg
	if smooth <= 0 {
		return 0
	}
	expected := float64(length) / smooth
	factor := duration / expected
	percent := math.Round((factor - 1) * 100)
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return 0
	}
	return int(percent)
}

func (c Config) clamp(percent int) int {
	if percent < c.MinPercent {
		return c.MinPercent
	}
	if percent > c.MaxPercent {
		return c.MaxPercent
	}
	return percent
}

// FormatRate renders a percentage the way prosody directives expect it:
// "+10%", "-20%" or "0%".
func FormatRate(percent int) string {
	if percent > 0 {
		return "+" + strconv.Itoa(percent) + "%"
	}
	return strconv.Itoa(percent) + "%"
}

func textLength(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}
