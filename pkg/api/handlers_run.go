package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pipeforge/runcore/pkg/models"
)

// handleCreateRun handles POST /runs.
func (s *Server) handleCreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run := &models.Run{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		IdeaSpecID: req.IdeaSpecID,
		Budget: models.Budget{
			MaxCostUSD: req.MaxCostUSD, MaxTokens: req.MaxTokens,
			MaxToolMinutes: req.MaxToolMinutes, MaxWallclockMinutes: req.MaxWallclockMinutes,
			MaxRetries: req.MaxRetries,
		},
	}

	if err := s.workflow.CreateRun(c.Request.Context(), run); err != nil {
		writeServiceError(c, err)
		return
	}

	// No run.created wire event: spec.md §6 defines only
	// paused/resumed/failed/completed for the run lifecycle family.
	c.JSON(http.StatusCreated, runToResponse(run))
}

// handleGetRun handles GET /runs/:id.
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, runToResponse(run))
}

// handleResumeRun handles POST /runs/:id/resume.
func (s *Server) handleResumeRun(c *gin.Context) {
	run, err := s.workflow.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if s.publisher != nil {
		_ = s.publisher.PublishRunResumed(c.Request.Context(), run.ID, "operator")
	}

	c.JSON(http.StatusOK, runToResponse(run))
}

// handleTimeline handles GET /runs/:id/timeline: the run's ordered
// ledger, filtered client-side to phase/gate entries if needed. Full
// ledger filtering lives at GET /runs/:id/ledger; timeline is the same
// underlying sequence, shaped for a dashboard's chronological view.
func (s *Server) handleTimeline(c *gin.Context) {
	runID := c.Param("id")
	entries, err := s.ledger.Timeline(c.Request.Context(), runID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerEntriesToResponse(entries))
}

// handleLedger handles GET /runs/:id/ledger, optionally filtered by
// ?type= and paginated via ?limit=.
func (s *Server) handleLedger(c *gin.Context) {
	runID := c.Param("id")
	query := models.LedgerQuery{RunID: runID, Type: models.LedgerEntryType(c.Query("type"))}

	entries, err := s.ledger.Query(c.Request.Context(), query)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerEntriesToResponse(entries))
}

func runToResponse(run *models.Run) RunResponse {
	return RunResponse{
		RunID: run.ID, TenantID: run.TenantID, State: string(run.State),
		PauseReason: run.PauseReason, CreatedAt: run.CreatedAt, UpdatedAt: run.UpdatedAt,
		CompletedAt: run.CompletedAt,
	}
}

func ledgerEntriesToResponse(entries []*models.LedgerEntry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntryResponse{
			ID: e.ID, RunID: e.RunID, Sequence: e.Sequence, Type: string(e.Type),
			Data: e.Data, Who: e.Provenance.Who, Timestamp: e.Timestamp,
		})
	}
	return out
}
