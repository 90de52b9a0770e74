// Package observability exports Prometheus metrics for the notification
// pipeline.
//
// A single [Collector] plays three roles:
//
//   - as an ext.Extension it counts job lifecycle events and observes
//     execution latency per job type;
//   - as a cache.Recorder it counts response cache hits and misses per
//     route template;
//   - as an event.Recorder it counts bus publishes and handler outcomes per
//     channel kind.
//
// Gauges that mirror live state (online users, stream drops) are sampled on
// scrape through [Collector.WatchOnline] and [Collector.WatchDrops].
//
// For per-attempt OpenTelemetry tracing and metrics, see the middleware
// package.
package observability
