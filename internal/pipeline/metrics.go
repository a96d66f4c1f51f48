package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	runs            metric.Int64Counter
	transitions     metric.Int64Counter
	runDuration     metric.Float64Histogram
	runSegments     metric.Int64Histogram
	segmentDuration metric.Float64Histogram
	segmentErrors   metric.Int64Counter
}

func newMetrics(meter metric.Meter, log *slog.Logger) *metrics {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	warn := func(name string, err error) {
		log.Warn("failed to create instrument", slog.String("instrument", name), slogError(err))
	}

	m := &metrics{}
	var err error
	if m.runs, err = meter.Int64Counter("voiceclone.runs",
		metric.WithDescription("Finished runs by outcome")); err != nil {
		warn("voiceclone.runs", err)
		m.runs, _ = fallback.Int64Counter("voiceclone.runs")
	}
	if m.transitions, err = meter.Int64Counter("voiceclone.run.transitions",
		metric.WithDescription("Run state transitions")); err != nil {
		warn("voiceclone.run.transitions", err)
		m.transitions, _ = fallback.Int64Counter("voiceclone.run.transitions")
	}
	if m.runDuration, err = meter.Float64Histogram("voiceclone.run.duration",
		metric.WithDescription("Wall time of a run"), metric.WithUnit("s")); err != nil {
		warn("voiceclone.run.duration", err)
		m.runDuration, _ = fallback.Float64Histogram("voiceclone.run.duration")
	}
	if m.runSegments, err = meter.Int64Histogram("voiceclone.run.segments",
		metric.WithDescription("Segments per run")); err != nil {
		warn("voiceclone.run.segments", err)
		m.runSegments, _ = fallback.Int64Histogram("voiceclone.run.segments")
	}
	if m.segmentDuration, err = meter.Float64Histogram("voiceclone.segment.duration",
		metric.WithDescription("Wall time of one engine call"), metric.WithUnit("s")); err != nil {
		warn("voiceclone.segment.duration", err)
		m.segmentDuration, _ = fallback.Float64Histogram("voiceclone.segment.duration")
	}
	if m.segmentErrors, err = meter.Int64Counter("voiceclone.segment.errors",
		metric.WithDescription("Failed engine calls")); err != nil {
		warn("voiceclone.segment.errors", err)
		m.segmentErrors, _ = fallback.Int64Counter("voiceclone.segment.errors")
	}
	return m
}

func (m *metrics) transition(ctx context.Context, state State) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
}

func (m *metrics) runFinished(ctx context.Context, outcome string, elapsed time.Duration, segments int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
	if segments > 0 {
		m.runSegments.Record(ctx, int64(segments))
	}
}

func (m *metrics) segmentFinished(ctx context.Context, elapsed time.Duration, err error) {
	m.segmentDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		m.segmentErrors.Add(ctx, 1)
	}
}
