package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/herald/api"
	"github.com/xraph/herald/auth"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/stream"
)

func init() { gin.SetMode(gin.TestMode) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pinger struct {
	err          error
	disconnected bool
	pings        atomic.Int32
}

func (p *pinger) Connected() bool { return !p.disconnected }

func (p *pinger) Ping(context.Context) error {
	p.pings.Add(1)
	return p.err
}

type fakeGateway struct {
	broker *stream.Broker
	online int
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}
func (g *fakeGateway) OnlineUsersCount() int { return g.online }
func (g *fakeGateway) Connections() []gateway.ConnectionInfo {
	return []gateway.ConnectionInfo{{ID: "conn_1", UserID: "u1", Format: "json"}}
}
func (g *fakeGateway) Broker() *stream.Broker { return g.broker }

type fixture struct {
	handler  http.Handler
	queue    *queue.Queue
	verifier *auth.Verifier
	admin    string
}

func setup(t *testing.T, store api.Pinger) *fixture {
	t.Helper()

	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeWelcome,
		func(context.Context, string, struct{}) error { return errors.New("smtp down") }))

	q := queue.New(memory.New(), reg,
		queue.WithLogger(testLogger()),
		queue.WithConcurrency(1),
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithMaxAttempts(1),
		queue.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)

	v, err := auth.NewVerifier("test-secret", "herald")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := v.Issue("admin-1", "ops@example.com", auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	a := api.New(q, v,
		api.WithLogger(testLogger()),
		api.WithStore(store),
		api.WithGateway("/ws", &fakeGateway{broker: stream.NewBroker(testLogger()), online: 4}),
		api.WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "herald_up 1\n")
		})),
	)
	return &fixture{handler: a.Handler(), queue: q, verifier: v, admin: admin}
}

func (f *fixture) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

// failOne enqueues a welcome job and waits for it to land in the failed list.
func (f *fixture) failOne(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	j, err := f.queue.Enqueue(ctx, job.TypeWelcome, "ada@example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.queue.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.queue.Stop(stopCtx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := f.queue.FailedJob(ctx, j.ID); err == nil {
			return j.ID.String()
		}
		if time.Now().After(deadline) {
			t.Fatal("job never failed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	if _, err := f.queue.Enqueue(context.Background(), job.TypeWelcome, "a@example.com", nil); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[api.HealthResponse](t, w)
	if resp.Status != "ok" || resp.Store != "up" {
		t.Errorf("status/store = %s/%s, want ok/up", resp.Status, resp.Store)
	}
	if resp.Queue == nil || resp.Queue.Waiting != 1 {
		t.Errorf("Queue = %+v, want 1 waiting", resp.Queue)
	}
	if resp.OnlineUsers != 4 {
		t.Errorf("OnlineUsers = %d, want 4", resp.OnlineUsers)
	}
	if w.Header().Get(api.HeaderRequestID) == "" {
		t.Error("missing request id header")
	}
}

func TestHealth_StoreDown(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{err: errors.New("connection refused")})
	w := f.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decode[api.HealthResponse](t, w); resp.Store != "down" {
		t.Errorf("Store = %q, want down", resp.Store)
	}
}

func TestHealth_DisconnectedStoreIsNotDialed(t *testing.T) {
	t.Parallel()

	p := &pinger{disconnected: true}
	f := setup(t, p)
	w := f.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decode[api.HealthResponse](t, w); resp.Store != "down" || resp.Status != "degraded" {
		t.Errorf("store/status = %s/%s, want down/degraded", resp.Store, resp.Status)
	}
	if n := p.pings.Load(); n != 0 {
		t.Errorf("Ping calls = %d, want 0", n)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(api.HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	if got := w.Header().Get(api.HeaderRequestID); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want %q", got, "req-42")
	}
}

func TestMetricsAndGatewayMounted(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	if w := f.do(t, http.MethodGet, "/metrics", "", ""); !strings.Contains(w.Body.String(), "herald_up 1") {
		t.Errorf("/metrics body = %q", w.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/ws", "", ""); w.Code != http.StatusTeapot {
		t.Errorf("/ws status = %d, want %d", w.Code, http.StatusTeapot)
	}
}

func TestAdminRequiresAdminToken(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	user, err := f.verifier.Issue("u1", "", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-token", http.StatusUnauthorized},
		{"non-admin", user, http.StatusForbidden},
		{"admin", f.admin, http.StatusOK},
	}
	for _, tt := range tests {
		w := f.do(t, http.MethodGet, "/admin/jobs/counts", tt.token, "")
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.want)
		}
	}
}

func TestAdminEnqueueAndGet(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	w := f.do(t, http.MethodPost, "/admin/jobs", f.admin,
		`{"type":"welcome","email":"ada@example.com","data":{"name":"Ada"},"priority":"high"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	created := decode[job.Job](t, w)
	if created.Priority != job.PriorityHigh {
		t.Errorf("Priority = %v, want %v", created.Priority, job.PriorityHigh)
	}

	w = f.do(t, http.MethodGet, "/admin/jobs/"+created.ID.String(), f.admin, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[job.Job](t, w); got.Email != "ada@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "ada@example.com")
	}
}

func TestAdminEnqueueValidation(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"sms","email":"a@example.com"}`},
		{"bad priority", `{"type":"welcome","email":"a@example.com","priority":"urgent"}`},
		{"missing email", `{"type":"welcome"}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		if w := f.do(t, http.MethodPost, "/admin/jobs", f.admin, tt.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, http.StatusBadRequest)
		}
	}
}

func TestAdminJobNotFound(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	if w := f.do(t, http.MethodGet, "/admin/jobs/bogus", f.admin, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	missing := "/admin/jobs/failed/" + id.NewJobID().String()
	if w := f.do(t, http.MethodGet, missing, f.admin, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAdminFailedRetryDiscard(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	jobID := f.failOne(t)

	w := f.do(t, http.MethodGet, "/admin/jobs/failed", f.admin, "")
	list := decode[api.FailedListResponse](t, w)
	if len(list.Entries) != 1 || list.Entries[0].Error != "smtp down" {
		t.Fatalf("failed list = %+v", list.Entries)
	}

	w = f.do(t, http.MethodGet, "/admin/jobs/failed/"+jobID, f.admin, "")
	if entry := decode[dlq.Entry](t, w); entry.JobID.String() != jobID {
		t.Errorf("JobID = %s, want %s", entry.JobID, jobID)
	}

	w = f.do(t, http.MethodPost, "/admin/jobs/failed/"+jobID+"/retry", f.admin, "")
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d: %s", w.Code, w.Body.String())
	}
	retried := decode[job.Job](t, w)
	if retried.ID.String() != jobID || retried.State != job.StateWaiting || retried.Attempts != 0 {
		t.Errorf("retried = %s/%s/%d, want same id, waiting, 0 attempts", retried.ID, retried.State, retried.Attempts)
	}

	// A second retry finds nothing in the failed list.
	if w := f.do(t, http.MethodPost, "/admin/jobs/failed/"+jobID+"/retry", f.admin, ""); w.Code != http.StatusNotFound {
		t.Errorf("second retry status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAdminDiscard(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	jobID := f.failOne(t)

	if w := f.do(t, http.MethodDelete, "/admin/jobs/failed/"+jobID, f.admin, ""); w.Code != http.StatusNoContent {
		t.Fatalf("discard status = %d, want %d", w.Code, http.StatusNoContent)
	}
	counts := decode[job.Counts](t, f.do(t, http.MethodGet, "/admin/jobs/counts", f.admin, ""))
	if counts.Failed != 0 {
		t.Errorf("Failed = %d, want 0", counts.Failed)
	}
}

func TestAdminStatsAndConnections(t *testing.T) {
	t.Parallel()

	f := setup(t, &pinger{})
	stats := decode[api.StatsResponse](t, f.do(t, http.MethodGet, "/admin/stats", f.admin, ""))
	if stats.OnlineUsers != 4 || stats.Connections != 1 || stats.Stream == nil {
		t.Errorf("stats = %+v", stats)
	}

	conns := decode[[]gateway.ConnectionInfo](t, f.do(t, http.MethodGet, "/admin/connections", f.admin, ""))
	if len(conns) != 1 || conns[0].UserID != "u1" {
		t.Errorf("connections = %+v", conns)
	}
}
