package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/herald/job"
)

// meterName is the instrumentation scope name for herald metrics.
const meterName = "github.com/xraph/herald"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider. Without a configured provider the noop
// instruments make this a pass-through.
//
// Instruments:
//   - herald.job.duration (Float64Histogram): attempt time in seconds
//   - herald.job.attempts (Int64Counter): total attempts
//
// Both carry the attributes job_type, priority and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"herald.job.duration",
		metric.WithDescription("Duration of email job attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"herald.job.attempts",
		metric.WithDescription("Total number of email job attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_type", string(j.Type)),
			attribute.String("priority", j.Priority.String()),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return err
	}
}
