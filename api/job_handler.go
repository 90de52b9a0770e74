package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// EnqueueRequest is the body of POST /admin/jobs.
type EnqueueRequest struct {
	Type     job.Type        `json:"type" binding:"required"`
	Email    string          `json:"email" binding:"required"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority string          `json:"priority,omitempty"`
	// DelaySeconds postpones the first attempt.
	DelaySeconds int `json:"delaySeconds,omitempty"`
}

func (a *API) enqueueJob(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	var opts []job.Option
	if req.Priority != "" {
		p, err := job.ParsePriority(req.Priority)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		opts = append(opts, job.WithPriority(p))
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelaySeconds)*time.Second))
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}
	j, err := a.jobs.Enqueue(c.Request.Context(), req.Type, req.Email, data, opts...)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (a *API) getJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	j, err := a.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) jobCounts(c *gin.Context) {
	counts, err := a.jobs.Counts(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func parseJobID(c *gin.Context) (id.JobID, bool) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid job id"))
		return jobID, false
	}
	return jobID, true
}

// writeError maps herald sentinel errors to HTTP statuses. Anything else
// is logged and reported as 500.
func (a *API) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, herald.ErrJobNotFound), errors.Is(err, herald.ErrDLQNotFound):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, herald.ErrJobAlreadyExists), errors.Is(err, herald.ErrInvalidState):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, herald.ErrUnknownJobType),
		errors.Is(err, herald.ErrInvalidPriority),
		errors.Is(err, herald.ErrMissingEmail):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	default:
		a.logger.Warn("admin request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
}
