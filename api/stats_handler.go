package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/stream"
)

// StatsResponse is the body of GET /admin/stats.
type StatsResponse struct {
	Jobs        job.Counts          `json:"jobs"`
	OnlineUsers int                 `json:"onlineUsers"`
	Connections int                 `json:"connections"`
	Stream      *stream.BrokerStats `json:"stream,omitempty"`
}

func (a *API) stats(c *gin.Context) {
	counts, err := a.jobs.Counts(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}

	resp := StatsResponse{Jobs: counts}
	if a.gateway != nil {
		resp.OnlineUsers = a.gateway.OnlineUsersCount()
		resp.Connections = len(a.gateway.Connections())
		bs := a.gateway.Broker().Stats()
		resp.Stream = &bs
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) connections(c *gin.Context) {
	conns := a.gateway.Connections()
	if conns == nil {
		conns = []gateway.ConnectionInfo{}
	}
	c.JSON(http.StatusOK, conns)
}
