// Package middleware provides composable middleware for resumption jobs.
//
// A [Middleware] wraps a job handler. Middleware are composed with [Chain]
// and run before each job; the first middleware in the slice is the
// outermost wrapper.
//
//	// recover → tracing → metrics → logging → timeout → handler
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	    middleware.Timeout(logger),
//	)
//
// # Built-in Middleware
//
//   - [Recover] turns a panicking step into an error so one incident never
//     takes the worker pool down
//   - [Logging] logs job name, incident, duration and outcome
//   - [Timeout] bounds a job by its configured deadline
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-job duration and outcome counters
//
// Middleware must call next unless deliberately short-circuiting.
package middleware
