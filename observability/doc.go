// Package observability provides an OpenTelemetry metrics extension for
// the incident engine. MetricsExtension implements lifecycle hooks and
// counts jobs, workflows, steps, suspensions, stale incidents and
// closures.
//
// For per-job tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
