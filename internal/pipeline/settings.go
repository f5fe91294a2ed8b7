// Package pipeline runs the translate-then-synthesize stages over a chunked
// transcript. The two stage workers share nothing in memory: every handoff
// goes through a bus.Store.
package pipeline

import (
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/ssml"
	"github.com/loqalabs/loqa-dub/internal/timing"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
)

// Notify selects how the translation stage tells the synthesis stage that a
// chunk is ready.
type Notify string

const (
	NotifyQueue  Notify = "queue"
	NotifyPubSub Notify = "pubsub"
)

// Source selects where the translation stage takes chunk ids from.
type Source string

const (
	SourceList  Source = "list"
	SourceQueue Source = "queue"
)

// Settings is the immutable configuration handed to the workers.
type Settings struct {
	Chunking       transcript.ChunkOptions
	MergeMode      translate.MergeMode
	Notify         Notify
	Source         Source
	DequeueTimeout time.Duration
	Deadline       time.Duration
	SourceLang     string
	TargetLang     string
	Markup         ssml.Options
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		Chunking: transcript.ChunkOptions{
			MaxChars: cfg.Chunking.MaxChars,
			MaxItems: cfg.Chunking.MaxItems,
			Scheme:   transcript.IDScheme(cfg.Chunking.IDScheme),
		},
		MergeMode:      translate.MergeMode(cfg.Pipeline.MergeMode),
		Notify:         Notify(cfg.Pipeline.Notify),
		Source:         Source(cfg.Pipeline.TranslationSource),
		DequeueTimeout: cfg.Pipeline.DequeueTimeout(),
		Deadline:       cfg.Pipeline.Deadline(),
		SourceLang:     cfg.Pipeline.SourceLang,
		TargetLang:     cfg.Pipeline.TargetLang,
		Markup: ssml.Options{
			Voice:  cfg.TTS.Voice,
			Lang:   cfg.Pipeline.TargetLang,
			MinGap: time.Duration(cfg.Markup.MinGapMS) * time.Millisecond,
			MaxGap: time.Duration(cfg.Markup.MaxGapMS) * time.Millisecond,
			Lead:   time.Duration(cfg.Markup.LeadMS) * time.Millisecond,
			Timing: timing.Config{
				Weight:     cfg.Timing.Weight,
				MinPercent: cfg.Timing.MinPercent,
				MaxPercent: cfg.Timing.MaxPercent,
			},
		},
	}
}

func (s Settings) dequeueTimeout() time.Duration {
	if s.DequeueTimeout <= 0 {
		return 10 * time.Second
	}
	return s.DequeueTimeout
}
