package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/herald/job"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string      `json:"status"`
	Store       string      `json:"store"`
	Queue       *job.Counts `json:"queue,omitempty"`
	QueueError  string      `json:"queueError,omitempty"`
	OnlineUsers int         `json:"onlineUsers"`
	Uptime      string      `json:"uptime"`
}

// health reports store connectivity, queue counts and the online user
// count. It answers 503 when the store is unreachable.
func (a *API) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.pingTimeout)
	defer cancel()

	resp := HealthResponse{
		Status: "ok",
		Store:  "up",
		Uptime: time.Since(a.startedAt).Round(time.Second).String(),
	}

	if a.store != nil {
		if !a.store.Connected() {
			resp.Status = "degraded"
			resp.Store = "down"
		} else if err := a.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = "down"
		}
	}
	if a.jobs != nil {
		counts, err := a.jobs.Counts(ctx)
		if err != nil {
			resp.Status = "degraded"
			resp.QueueError = err.Error()
		} else {
			resp.Queue = &counts
		}
	}
	if a.gateway != nil {
		resp.OnlineUsers = a.gateway.OnlineUsersCount()
	}

	code := http.StatusOK
	if resp.Store == "down" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
