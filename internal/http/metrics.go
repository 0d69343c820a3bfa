package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/http"

// signalKey is the echo context key under which handleError records the
// failure signal of a request.
const signalKey = "ragd.signal"

// Answer requests include a generation round trip, hence the long tail.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// requestMetrics records per-route counts, latency and response sizes.
// Instruments that fail to register stay nil and are skipped.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("registering http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &requestMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("ragd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route, status and signal"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("ragd.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route, status and signal"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	warn("request_duration_seconds", err)

	m.size, err = meter.Int64Histogram("ragd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000))
	warn("response_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragd.http.active_requests",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	return m
}

// middleware must sit outside logRequests so the status and failure signal
// are final when it records.
func (m *requestMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		if m.inFlight != nil {
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)
		}

		err := next(c)

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("endpoint", routeLabel(c.Path())),
			attribute.Int("status", c.Response().Status),
			attribute.String("signal", signalLabel(c)),
		)
		if m.requests != nil {
			m.requests.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if m.size != nil {
			m.size.Record(ctx, c.Response().Size, attrs)
		}
		return err
	}
}

// routeLabel uses the route template (e.g. /api/v1/nlp/index/push/:project_id)
// so project and job ids never become label values.
func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return "unmatched"
	}
	return path
}

func signalLabel(c echo.Context) string {
	if s, ok := c.Get(signalKey).(Signal); ok {
		return string(s)
	}
	return "ok"
}
