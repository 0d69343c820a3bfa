// Package logging provides structured logging for ragd.
//
// Logger wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Stdout and optional OpenTelemetry output
//   - Context field injection (trace_id, span_id, project.id, request.id)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling where errors are never dropped
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithProjectID(ctx, "42")
//	logger.Info(ctx, "index pushed", zap.Int("inserted", n))
//
// Library packages that only need a *zap.Logger take logger.Underlying().
package logging
