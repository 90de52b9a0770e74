// Package cache provides a response cache for idempotent HTTP reads.
//
// Wrap returns a gin middleware that works in two phases. Before the
// handler runs it looks the request up by "cache:" + path + query and, on a
// hit, writes the stored response and aborts the chain. On a miss it lets
// the handler run, returns the response to the caller unchanged, and then
// persists successful (2xx) responses in the background.
//
// The cache is an optimization only. Every store failure degrades to a miss
// and is never visible to the client.
package cache

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyPrefix is prepended to every request URI to form a cache key.
const KeyPrefix = "cache:"

// HeaderStatus is the response header reporting HIT or MISS.
const HeaderStatus = "X-Cache"

// Store is the key-value contract the cache needs. *kv.Store satisfies it.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Get(ctx context.Context, key string, dst any) bool
	DelPattern(ctx context.Context, pattern string) (int64, error)
}

// Recorder receives the outcome of every cache lookup. route is the
// matched route template, not the raw path.
type Recorder interface {
	CacheLookup(route string, hit bool)
}

// Entry is the stored form of a cached response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Cache caches GET responses in a Store.
type Cache struct {
	store      Store
	logger     *slog.Logger
	defaultTTL time.Duration
	disabled   bool
	recorder   Recorder

	pending sync.WaitGroup
}

// New creates a Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		logger:     slog.Default(),
		defaultTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for r: the prefix followed by the request path
// and query string exactly as received.
func Key(r *http.Request) string {
	return KeyPrefix + r.URL.RequestURI()
}

// Wrap returns middleware caching successful GET responses for ttl. A ttl
// <= 0 uses the cache's default.
func (c *Cache) Wrap(ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	return func(ctx *gin.Context) {
		if c.disabled || ctx.Request.Method != http.MethodGet {
			ctx.Next()
			return
		}

		key := Key(ctx.Request)
		reqCtx := ctx.Request.Context()

		var entry Entry
		if c.store.Get(reqCtx, key, &entry) {
			c.record(ctx, true)
			ctx.Header(HeaderStatus, "HIT")
			ctx.Data(entry.Status, entry.ContentType, entry.Body)
			ctx.Abort()
			return
		}
		c.record(ctx, false)
		ctx.Header(HeaderStatus, "MISS")

		rec := &recorder{ResponseWriter: ctx.Writer}
		ctx.Writer = rec
		ctx.Next()
		ctx.Writer = rec.ResponseWriter

		status := rec.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}

		entry = Entry{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        bytes.Clone(rec.body.Bytes()),
		}
		bg := context.WithoutCancel(reqCtx)

		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			if !c.store.Set(bg, key, entry, ttl) {
				c.logger.Debug("cache: response not stored", slog.String("key", key))
			}
		}()
	}
}

// Invalidate deletes every cached response whose request URI matches the
// glob pattern and returns how many were removed. Only a malformed pattern
// produces an error.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int64, error) {
	n, err := c.store.DelPattern(ctx, KeyPrefix+pattern)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Debug("cache invalidated", slog.String("pattern", pattern), slog.Int64("keys", n))
	}
	return n, nil
}

// InvalidateCourses drops every cached course listing and course detail read.
func (c *Cache) InvalidateCourses(ctx context.Context) (int64, error) {
	return c.Invalidate(ctx, "/api/courses*")
}

// InvalidateUser drops every cached read with userID as a whole path
// segment, such as /api/users/<id>/enrollments or /api/users/<id>?full=1.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) (int64, error) {
	seg := "*/" + escapeGlob(userID)
	var total int64
	for _, pattern := range []string{seg, seg + "/*", seg + `\?*`} {
		n, err := c.Invalidate(ctx, pattern)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Wait blocks until every in-flight background write has finished.
func (c *Cache) Wait() {
	c.pending.Wait()
}

func (c *Cache) record(ctx *gin.Context, hit bool) {
	if c.recorder == nil {
		return
	}
	route := ctx.FullPath()
	if route == "" {
		route = "unmatched"
	}
	c.recorder.CacheLookup(route, hit)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// recorder tees the response body so it can be stored after the handler
// returns.
type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
