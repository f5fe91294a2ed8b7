package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dub/pipeline"

const (
	stageTranslation = "translation"
	stageSynthesis   = "synthesis"
)

type instruments struct {
	tracer     trace.Tracer
	translated metric.Int64Counter
	synthed    metric.Int64Counter
	failed     metric.Int64Counter
	duration   metric.Float64Histogram
}

// newInstruments binds to the global providers. Instruments that fail to
// register stay nil and are skipped.
func newInstruments(logger *slog.Logger) *instruments {
	meter := otel.Meter(instrumentationName)
	inst := &instruments{tracer: otel.Tracer(instrumentationName)}
	var err error
	if inst.translated, err = meter.Int64Counter("loqa.dub.chunks.translated",
		metric.WithDescription("Chunks translated and stored")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "loqa.dub.chunks.translated"), slogError(err))
	}
	if inst.synthed, err = meter.Int64Counter("loqa.dub.chunks.synthesized",
		metric.WithDescription("Chunks synthesized and stored")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "loqa.dub.chunks.synthesized"), slogError(err))
	}
	if inst.failed, err = meter.Int64Counter("loqa.dub.chunks.failed",
		metric.WithDescription("Chunks that failed a stage")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "loqa.dub.chunks.failed"), slogError(err))
	}
	if inst.duration, err = meter.Float64Histogram("loqa.dub.stage.duration",
		metric.WithDescription("Per-chunk stage latency"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "loqa.dub.stage.duration"), slogError(err))
	}
	return inst
}

func (i *instruments) startSpan(ctx context.Context, stage, chunkID string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, stage+".chunk", trace.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("chunk_id", chunkID),
	))
}

func (i *instruments) succeeded(ctx context.Context, stage string, started time.Time) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	counter := i.translated
	if stage == stageSynthesis {
		counter = i.synthed
	}
	if counter != nil {
		counter.Add(ctx, 1, attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}

func (i *instruments) failure(ctx context.Context, stage string, started time.Time) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	if i.failed != nil {
		i.failed.Add(ctx, 1, attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}
