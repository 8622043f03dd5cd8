package api

import (
	"context"

	"github.com/pipeforge/runcore/pkg/models"
)

// RunReader is the subset of runstore.Store the API needs for read-only
// run lookups. Satisfied by *pkg/runstore.Store.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// RunLifecycle is the subset of workflow.Engine the API drives directly,
// bypassing the poll loop for operations that need an immediate answer.
// Satisfied by *pkg/workflow.Engine.
type RunLifecycle interface {
	CreateRun(ctx context.Context, run *models.Run) error
	Resume(ctx context.Context, runID string) (*models.Run, error)
}

// LedgerReader is the subset of ledger.Ledger the timeline/ledger
// endpoints query. Satisfied by *pkg/ledger.Ledger.
type LedgerReader interface {
	Timeline(ctx context.Context, runID string) ([]*models.LedgerEntry, error)
	Query(ctx context.Context, q models.LedgerQuery) ([]*models.LedgerEntry, error)
}
