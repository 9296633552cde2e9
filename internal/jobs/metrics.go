package jobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type jobMetrics struct {
	jobs        metric.Int64Counter
	lines       metric.Int64Counter
	lineLatency metric.Float64Histogram
	llmLatency  metric.Float64Histogram
}

func newJobMetrics(r *Runner) (*jobMetrics, error) {
	meter := otel.Meter("github.com/loqalabs/podcraft/jobs")
	jobs, err := meter.Int64Counter("podcraft.jobs.total", metric.WithDescription("Finished jobs by kind and status"))
	if err != nil {
		return nil, err
	}
	lines, err := meter.Int64Counter("podcraft.lines.synthesized", metric.WithDescription("Script lines synthesized"))
	if err != nil {
		return nil, err
	}
	lineLatency, err := meter.Float64Histogram("podcraft.line.synthesis.duration",
		metric.WithDescription("Time to synthesize one script line"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	llmLatency, err := meter.Float64Histogram("podcraft.script.llm.duration",
		metric.WithDescription("Time spent waiting for the LLM"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64ObservableGauge("podcraft.jobs.active", metric.WithDescription("1 while a job occupies the runner"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		var v int64
		if r.Snapshot().State != StateIdle {
			v = 1
		}
		obs.ObserveInt64(active, v)
		return nil
	}, active)
	if err != nil {
		return nil, err
	}
	return &jobMetrics{jobs: jobs, lines: lines, lineLatency: lineLatency, llmLatency: llmLatency}, nil
}

func (m *jobMetrics) jobFinished(kind Kind, status string) {
	m.jobs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", status),
	))
}

func (m *jobMetrics) lineSynthesized(voiceName string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("voice", voiceName))
	m.lines.Add(context.Background(), 1, attrs)
	m.lineLatency.Record(context.Background(), took.Seconds(), attrs)
}

func (m *jobMetrics) llmCompleted(took time.Duration) {
	m.llmLatency.Record(context.Background(), took.Seconds())
}
