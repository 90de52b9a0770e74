package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/herald/dlq"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// FailedListResponse is the body of GET /admin/jobs/failed.
type FailedListResponse struct {
	Entries []*dlq.Entry `json:"entries"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

func (a *API) listFailed(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := a.jobs.Failed(c.Request.Context(), dlq.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	c.JSON(http.StatusOK, FailedListResponse{Entries: entries, Limit: limit, Offset: offset})
}

func (a *API) getFailed(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	entry, err := a.jobs.FailedJob(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) retryFailed(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	j, err := a.jobs.Retry(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) discardFailed(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := a.jobs.Discard(c.Request.Context(), jobID); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
