package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/herald/cache"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/job"
)

// Namespace prefixes every metric name.
const Namespace = "herald"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Collector)(nil)
	_ ext.JobEnqueued  = (*Collector)(nil)
	_ ext.JobStarted   = (*Collector)(nil)
	_ ext.JobCompleted = (*Collector)(nil)
	_ ext.JobRetrying  = (*Collector)(nil)
	_ ext.JobFailed    = (*Collector)(nil)
	_ cache.Recorder   = (*Collector)(nil)
	_ event.Recorder   = (*Collector)(nil)
)

// Collector records pipeline metrics into a Prometheus registry.
type Collector struct {
	reg prometheus.Registerer

	jobsEnqueued  *prometheus.CounterVec
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventsHandled   *prometheus.CounterVec
}

// NewCollector creates a collector and registers its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		reg: reg,
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted into the queue.",
		}, []string{"type"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_started_total",
			Help:      "Job attempts started by a worker.",
		}, []string{"type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs that finished successfully.",
		}, []string{"type"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_retried_total",
			Help:      "Failed attempts rescheduled with backoff.",
		}, []string{"type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs moved to the failed list after exhausting attempts.",
		}, []string{"type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of successful job attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by route and result.",
		}, []string{"route", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_published_total",
			Help:      "Event bus publishes by channel kind and result.",
		}, []string{"kind", "result"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_handled_total",
			Help:      "Event handler invocations by channel kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		c.jobsEnqueued,
		c.jobsStarted,
		c.jobsCompleted,
		c.jobsRetried,
		c.jobsFailed,
		c.jobDuration,
		c.cacheLookups,
		c.eventsPublished,
		c.eventsHandled,
	)
	return c
}

// WatchOnline registers a gauge sampled from fn on every scrape.
func (c *Collector) WatchOnline(fn func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "gateway_online_users",
		Help:      "Users with at least one live gateway connection.",
	}, func() float64 { return float64(fn()) }))
}

// WatchDrops registers a counter sampled from fn on every scrape.
func (c *Collector) WatchDrops(fn func() int64) {
	c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stream_events_dropped_total",
		Help:      "Realtime events dropped because a connection buffer was full.",
	}, func() float64 { return float64(fn()) }))
}

// Name implements ext.Extension.
func (c *Collector) Name() string { return "prometheus" }

// OnJobEnqueued implements ext.JobEnqueued.
func (c *Collector) OnJobEnqueued(_ context.Context, j *job.Job) error {
	c.jobsEnqueued.WithLabelValues(string(j.Type)).Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (c *Collector) OnJobStarted(_ context.Context, j *job.Job) error {
	c.jobsStarted.WithLabelValues(string(j.Type)).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (c *Collector) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	c.jobsCompleted.WithLabelValues(string(j.Type)).Inc()
	c.jobDuration.WithLabelValues(string(j.Type)).Observe(elapsed.Seconds())
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (c *Collector) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	c.jobsRetried.WithLabelValues(string(j.Type)).Inc()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (c *Collector) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	c.jobsFailed.WithLabelValues(string(j.Type)).Inc()
	return nil
}

// CacheLookup implements cache.Recorder.
func (c *Collector) CacheLookup(route string, hit bool) {
	c.cacheLookups.WithLabelValues(route, result(hit, "hit", "miss")).Inc()
}

// EventPublished implements event.Recorder.
func (c *Collector) EventPublished(kind string, ok bool) {
	c.eventsPublished.WithLabelValues(kind, result(ok, "ok", "error")).Inc()
}

// EventHandled implements event.Recorder.
func (c *Collector) EventHandled(kind string, err error) {
	c.eventsHandled.WithLabelValues(kind, result(err == nil, "ok", "error")).Inc()
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
