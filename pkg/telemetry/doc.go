// Package telemetry provides observability instrumentation for the
// pipeline itself: structured logging (zerolog), Prometheus metrics,
// and OpenTelemetry tracing.
//
// Initialize at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	logger, err := telemetry.NewLogger(cfg.Logging)
//	metrics, err := telemetry.NewMetrics(cfg.Metrics)
//	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
//
// Component loggers are derived with NewComponentLogger and carry a
// "component" field on every line.
package telemetry
