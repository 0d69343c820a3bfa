package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestToolMetrics_Track(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newToolMetrics(mp.Meter(instrumentationName), nil)
	ctx := context.Background()

	m.track(ctx, "rag_search")(nil)
	m.track(ctx, "rag_search")(fmt.Errorf("search failed: %w", vectorstore.ErrCollectionNotFound))
	m.record(ctx, "rag_index", 20*time.Millisecond, rag.ErrIndexInProgress)

	got := collect(t, reader)
	require.Contains(t, got, "ragd.mcp.tool.invocations_total")
	require.Contains(t, got, "ragd.mcp.tool.duration_seconds")
	require.Contains(t, got, "ragd.mcp.tool.active_requests")

	invocations := got["ragd.mcp.tool.invocations_total"].Data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range invocations.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)

	outcomes := map[string]int64{}
	for _, dp := range invocations.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		outcomes[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 1, "not_found": 1, "conflict": 1}, outcomes)

	active := got["ragd.mcp.tool.active_requests"].Data.(metricdata.Sum[int64])
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value, "every tracked call completed")
	}

	reasons := map[string]int64{}
	for _, dp := range got["ragd.mcp.tool.errors_total"].Data.(metricdata.Sum[int64]).DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("reason"))
		reasons[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"not_found": 1, "conflict": 1}, reasons)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", store.ErrInvalidProjectID), "validation_error"},
		{fmt.Errorf("%w: text is required", errInvalidArgument), "validation_error"},
		{jobs.ErrJobNotFound, "not_found"},
		{rag.ErrIndexInProgress, "conflict"},
		{context.DeadlineExceeded, "timeout"},
		{&llm.EmbeddingError{Provider: "openai", Err: errors.New("boom")}, "provider_error"},
		{errors.New("disk full"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), fmt.Sprint(tt.err))
	}
}
