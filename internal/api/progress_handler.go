package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/coursecheck/internal/analysis/progress"
)

// ProgressHandler serves per-metric progress for in-flight analyses. The
// backing store is per-process and in-memory; a 404 after a restart means
// the progress was lost, not that the analysis never existed.
type ProgressHandler struct {
	store *progress.Store
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(store *progress.Store) *ProgressHandler {
	return &ProgressHandler{store: store}
}

// GetProgress handles GET /api/v1/analyses/:id/progress
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	analysisID := c.Param("id")

	snapshot, ok := h.store.Snapshot(analysisID)
	if !ok {
		respondNotFound(c, "analysis progress")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_id": analysisID,
		"metrics":     snapshot,
	})
}
