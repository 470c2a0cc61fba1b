package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/coursecheck/internal/database"
	"github.com/jonesrussell/coursecheck/internal/domain"
)

// RunStore is the run persistence the handlers read from.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Run, error)
}

// JobStore is the job persistence the handlers read from.
type JobStore interface {
	ListByRun(ctx context.Context, runID string) ([]*domain.Job, error)
}

// RunsHandler handles run status polling requests.
type RunsHandler struct {
	runs RunStore
	jobs JobStore
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runs RunStore, jobs JobStore) *RunsHandler {
	return &RunsHandler{runs: runs, jobs: jobs}
}

// ListRuns handles GET /api/v1/runs
func (h *RunsHandler) ListRuns(c *gin.Context) {
	limit, offset := parseLimitOffset(c)

	runs, err := h.runs.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondInternalError(c, "failed to list runs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRun handles GET /api/v1/runs/:id
func (h *RunsHandler) GetRun(c *gin.Context) {
	run, err := h.runs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondNotFound(c, "run")
			return
		}
		respondInternalError(c, "failed to get run")
		return
	}

	c.JSON(http.StatusOK, run)
}

// ListRunJobs handles GET /api/v1/runs/:id/jobs
func (h *RunsHandler) ListRunJobs(c *gin.Context) {
	runID := c.Param("id")

	if _, err := h.runs.GetByID(c.Request.Context(), runID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondNotFound(c, "run")
			return
		}
		respondInternalError(c, "failed to get run")
		return
	}

	jobs, err := h.jobs.ListByRun(c.Request.Context(), runID)
	if err != nil {
		respondInternalError(c, "failed to list jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"jobs":   jobs,
		"count":  len(jobs),
	})
}
