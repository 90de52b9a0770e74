// Package middleware provides composable middleware for email job
// execution.
//
// A [Middleware] wraps one attempt of a job handler. Middleware are
// composed with [Chain]; the first middleware in the slice is the
// outermost wrapper.
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Recover]: turns handler panics into attempt failures
//   - [Logging]: logs job type, attempt number, duration and outcome
//   - [Tracing]: wraps each attempt in an OpenTelemetry span
//   - [Metrics]: records attempt duration and outcome counters
//
// Attempts carry no execution deadline of their own. A handler bounds
// its work through the timeouts of the transport it calls.
package middleware
