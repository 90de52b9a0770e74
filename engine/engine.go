package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/auth"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/cache"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/kv"
	"github.com/xraph/herald/mail"
	mw "github.com/xraph/herald/middleware"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/queue"
	redisstore "github.com/xraph/herald/store/redis"
	"github.com/xraph/herald/stream"
)

const instrumentationName = "github.com/xraph/herald"

// Engine owns every pipeline component.
type Engine struct {
	cfg    herald.Config
	logger *slog.Logger

	kv        *kv.Store
	registry  *job.Registry
	queue     *queue.Queue
	bus       *event.Bus
	broker    *stream.Broker
	gateway   *gateway.Server
	cache     *cache.Cache
	verifier  *auth.Verifier
	mailer    mail.Mailer
	collector *observability.Collector
	promReg   *prometheus.Registry
	notifier  *Notifier
	api       *api.API

	exts           []ext.Extension
	mws            []mw.Middleware
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMailer overrides the mail transport selected by the config.
func WithMailer(m mail.Mailer) Option {
	return func(e *Engine) { e.mailer = m }
}

// WithExtension registers a job lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.exts = append(e.exts, x) }
}

// WithMiddleware adds job middleware after the built-in tracing, metrics
// and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithPrometheusRegistry sets the registry metrics are registered with and
// served from. By default each engine has its own registry.
func WithPrometheusRegistry(r *prometheus.Registry) Option {
	return func(e *Engine) { e.promReg = r }
}

// WithTracerProvider sets the OpenTelemetry tracer provider for job
// tracing. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider for job
// metrics. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// Build validates cfg, connects the key-value store and wires every
// component. Nothing runs until Start.
func Build(ctx context.Context, cfg herald.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	logger := e.logger

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}
	e.verifier = verifier

	if e.mailer == nil {
		m, mailErr := mail.FromConfig(cfg.Mail, logger)
		if mailErr != nil {
			return nil, mailErr
		}
		e.mailer = m
	}

	e.kv = kv.New(cfg.Redis.URL,
		kv.WithLogger(logger),
		kv.WithOpTimeout(cfg.Redis.OpTimeout),
		kv.WithDialRetries(cfg.Redis.DialRetries),
		kv.WithPoolSize(cfg.Redis.PoolSize),
	)
	if err := e.kv.Connect(ctx); err != nil {
		return nil, err
	}
	client := e.kv.Client()

	if e.promReg == nil {
		e.promReg = prometheus.NewRegistry()
		e.promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	e.collector = observability.NewCollector(e.promReg)

	// Jobs.
	e.registry = job.NewRegistry()
	mail.Register(e.registry, e.mailer, cfg.Mail.FrontendURL)

	qopts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithConcurrency(cfg.Queue.Concurrency),
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithBackoff(retryBackoff(cfg.Queue)),
		queue.WithHeartbeat(cfg.Queue.HeartbeatInterval, cfg.Queue.StaleThreshold),
		queue.WithRetention(dlq.Retention{
			MaxEntries: cfg.Queue.FailedRetention.MaxEntries,
			MaxAge:     cfg.Queue.FailedRetention.MaxAge,
		}),
		queue.WithLimits(rateLimits(cfg.Queue.RateLimits)...),
		queue.WithExtension(e.collector),
		queue.WithMiddleware(e.jobMiddleware()...),
	}
	for _, x := range e.exts {
		qopts = append(qopts, queue.WithExtension(x))
	}
	e.queue = queue.New(redisstore.New(client, redisstore.WithLogger(logger)), e.registry, qopts...)

	// Events and realtime.
	e.bus = event.NewBus(
		event.NewRedisTransport(client, event.WithRedisLogger(logger)),
		event.WithLogger(logger),
		event.WithRecorder(e.collector),
	)
	e.broker = stream.NewBroker(logger, stream.WithBufferSize(cfg.Gateway.BufferSize))
	e.gateway = gateway.NewServer(e.broker, e.bus, gateway.NewJWTAuthenticator(verifier),
		gateway.WithLogger(logger),
		gateway.WithEventRate(cfg.Gateway.EventRate, cfg.Gateway.EventBurst),
	)
	e.collector.WatchOnline(e.gateway.OnlineUsersCount)
	e.collector.WatchDrops(func() int64 { return e.broker.Stats().TotalDropped })

	// Response cache.
	e.cache = cache.New(e.kv,
		cache.WithLogger(logger),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithDisabled(cfg.Cache.Disabled),
		cache.WithRecorder(e.collector),
	)

	e.notifier = NewNotifier(e.queue, e.bus, e.cache, logger)

	e.api = api.New(e.queue, verifier,
		api.WithLogger(logger),
		api.WithStore(e.kv),
		api.WithGateway(cfg.Gateway.Path, e.gateway),
		api.WithMetrics(promhttp.HandlerFor(e.promReg, promhttp.HandlerOpts{})),
	)
	return e, nil
}

func (e *Engine) jobMiddleware() []mw.Middleware {
	tracing := mw.Tracing()
	if e.tracerProvider != nil {
		tracing = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if e.meterProvider != nil {
		metrics = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	}
	mws := []mw.Middleware{tracing, metrics, mw.Logging(e.logger)}
	return append(mws, e.mws...)
}

func retryBackoff(cfg herald.QueueConfig) backoff.Strategy {
	if cfg.BackoffJitter {
		return backoff.NewExponentialWithJitter(cfg.BackoffBase, cfg.BackoffMax)
	}
	return backoff.NewExponential(cfg.BackoffBase, cfg.BackoffMax)
}

func rateLimits(cfgs []herald.RateLimitConfig) []queue.Limit {
	limits := make([]queue.Limit, 0, len(cfgs))
	for _, c := range cfgs {
		limits = append(limits, queue.Limit{
			Type:           c.Type,
			MaxConcurrency: c.MaxConcurrency,
			RateLimit:      c.PerSecond,
			RateBurst:      c.Burst,
		})
	}
	return limits
}

// Start bridges the gateway to the event bus and starts the job workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.gateway.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	if err := e.queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	e.logger.Info("herald engine started",
		slog.Int("concurrency", e.cfg.Queue.Concurrency),
		slog.String("gateway_path", e.cfg.Gateway.Path),
	)
	return nil
}

// Stop shuts components down in dependency order: the gateway stops
// accepting and closes connections, the queue drains in-flight attempts,
// the bus stops delivering and the store connection is released last.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	if err := e.gateway.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop gateway: %w", err))
	}
	if err := e.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop queue: %w", err))
	}
	e.cache.Wait()
	if err := e.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if err := e.kv.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("herald engine stopped")
	return errors.Join(errs...)
}

// Handler returns the HTTP surface: health, metrics, admin and gateway.
func (e *Engine) Handler() http.Handler { return e.api.Handler() }

// Notifier returns the business-facing notifier.
func (e *Engine) Notifier() *Notifier { return e.notifier }

// Queue returns the job queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Bus returns the event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Gateway returns the realtime gateway.
func (e *Engine) Gateway() *gateway.Server { return e.gateway }

// Cache returns the response cache. Mount cache.Wrap on read routes.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Store returns the shared key-value store.
func (e *Engine) Store() *kv.Store { return e.kv }

// Verifier returns the token verifier.
func (e *Engine) Verifier() *auth.Verifier { return e.verifier }

// Registry returns the job handler registry.
func (e *Engine) Registry() *job.Registry { return e.registry }
