package rag

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// pipelineMetrics holds the pipeline instruments. Instruments that fail to
// register are left nil and skipped.
type pipelineMetrics struct {
	runs     metric.Int64Counter
	points   metric.Int64Counter
	duration metric.Float64Histogram
}

func newPipelineMetrics(meter metric.Meter, logger *zap.Logger) *pipelineMetrics {
	m := &pipelineMetrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"ragd.rag.operations_total",
		metric.WithDescription("Pipeline operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		logger.Warn("failed to create operations counter", zap.Error(err))
	}

	m.points, err = meter.Int64Counter(
		"ragd.rag.points_indexed_total",
		metric.WithDescription("Points written to the vector store by indexing"),
		metric.WithUnit("{point}"),
	)
	if err != nil {
		logger.Warn("failed to create points counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"ragd.rag.operation.duration_seconds",
		metric.WithDescription("Duration of pipeline operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	return m
}

func (m *pipelineMetrics) record(ctx context.Context, op, result string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	)
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

func (m *pipelineMetrics) indexed(ctx context.Context, n int) {
	if m.points != nil && n > 0 {
		m.points.Add(ctx, int64(n))
	}
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
