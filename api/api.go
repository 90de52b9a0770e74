// Package api is the operator-facing HTTP surface: a health endpoint,
// Prometheus metrics, admin routes over the job queue and the mount point
// of the realtime gateway.
//
// Admin routes require a bearer token whose role is admin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/herald/auth"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/stream"
)

// Jobs is the queue surface the admin routes use. *queue.Queue satisfies it.
type Jobs interface {
	Enqueue(ctx context.Context, t job.Type, email string, data any, opts ...job.Option) (*job.Job, error)
	Get(ctx context.Context, jobID id.JobID) (*job.Job, error)
	Counts(ctx context.Context) (job.Counts, error)
	Failed(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error)
	FailedJob(ctx context.Context, jobID id.JobID) (*dlq.Entry, error)
	Retry(ctx context.Context, jobID id.JobID) (*job.Job, error)
	Discard(ctx context.Context, jobID id.JobID) error
}

// Pinger reports backing store connectivity. *kv.Store satisfies it.
// Connected must not dial.
type Pinger interface {
	Connected() bool
	Ping(ctx context.Context) error
}

// Gateway is the realtime surface mounted under the gateway path.
// *gateway.Server satisfies it.
type Gateway interface {
	http.Handler
	OnlineUsersCount() int
	Connections() []gateway.ConnectionInfo
	Broker() *stream.Broker
}

// API assembles the HTTP routes.
type API struct {
	jobs        Jobs
	verifier    *auth.Verifier
	store       Pinger
	gateway     Gateway
	gatewayPath string
	metrics     http.Handler
	logger      *slog.Logger
	startedAt   time.Time
	pingTimeout time.Duration
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithStore sets the store reported by /health.
func WithStore(p Pinger) Option {
	return func(a *API) { a.store = p }
}

// WithGateway mounts the realtime gateway at path.
func WithGateway(path string, g Gateway) Option {
	return func(a *API) {
		a.gatewayPath = path
		a.gateway = g
	}
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// New creates the API. verifier guards the admin routes; with a nil
// verifier admin routes are not registered.
func New(jobs Jobs, verifier *auth.Verifier, opts ...Option) *API {
	a := &API{
		jobs:        jobs,
		verifier:    verifier,
		logger:      slog.Default(),
		startedAt:   time.Now(),
		pingTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(RequestID(), Recovery(a.logger), Logger(a.logger))
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", a.health)

	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics))
	}
	if a.gateway != nil && a.gatewayPath != "" {
		r.GET(a.gatewayPath, gin.WrapH(a.gateway))
	}
	if a.verifier != nil {
		a.registerAdminRoutes(r.Group("/admin", JWTAuth(a.verifier, auth.RoleAdmin)))
	}
}

func (a *API) registerAdminRoutes(g *gin.RouterGroup) {
	g.GET("/stats", a.stats)

	jobs := g.Group("/jobs")
	jobs.POST("", a.enqueueJob)
	jobs.GET("/counts", a.jobCounts)
	jobs.GET("/failed", a.listFailed)
	jobs.GET("/failed/:jobId", a.getFailed)
	jobs.POST("/failed/:jobId/retry", a.retryFailed)
	jobs.DELETE("/failed/:jobId", a.discardFailed)
	jobs.GET("/:jobId", a.getJob)

	if a.gateway != nil {
		g.GET("/connections", a.connections)
	}
}
