package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/mcp"

// toolMetrics records invocations, latency and failures per tool.
// Instruments that fail to register stay nil and are skipped.
type toolMetrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	failures    metric.Int64Counter
	inFlight    metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("registering mcp instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &toolMetrics{}
	var err error
	m.invocations, err = meter.Int64Counter("ragd.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{invocation}"))
	warn("invocations_total", err)

	// rag_index and rag_answer wait on the model provider, hence the long tail.
	m.duration, err = meter.Float64Histogram("ragd.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency by tool and outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300))
	warn("duration_seconds", err)

	m.failures, err = meter.Int64Counter("ragd.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{error}"))
	warn("errors_total", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragd.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls currently running"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	return m
}

// track marks a tool call in flight. The returned func records the outcome
// and must be called exactly once with the call's final error.
func (m *toolMetrics) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}
	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		m.record(ctx, tool, time.Since(start), err)
	}
}

func (m *toolMetrics) record(ctx context.Context, tool string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = categorizeError(err)
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool), attribute.String("outcome", outcome))
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool), attribute.String("reason", outcome)))
	}
}

// categorizeError maps an error to a low-cardinality reason label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrInvalidProjectID), errors.Is(err, rag.ErrInvalidProject),
		errors.Is(err, llm.ErrEmptyInput), errors.Is(err, errInvalidArgument):
		return "validation_error"
	case errors.Is(err, vectorstore.ErrCollectionNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return "not_found"
	case errors.Is(err, rag.ErrIndexInProgress):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrEmbeddingFailed), errors.Is(err, llm.ErrGenerationFailed):
		return "provider_error"
	default:
		return "internal_error"
	}
}
