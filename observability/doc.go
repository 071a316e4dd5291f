// Package observability provides OpenTelemetry-based lifecycle metrics for
// the scheduler. MetricsExtension implements ext hooks to count scheduled,
// started, completed and failed jobs.
//
// For per-execution tracing and duration histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
