package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
)

// Store is the durable cell-store contract the engine drives. Every status
// transition is persisted as it happens, so external observers polling the
// store mid-run see live progress, and a paused run can resume in a
// different process. Implementations must apply each call atomically with
// read-after-write consistency.
//
// Implementations return storage.ErrNotFound and storage.ErrConflict; the
// engine maps them to its own taxonomy.
type Store interface {
	GetNotebook(ctx context.Context, id uuid.UUID) (model.Notebook, error)
	// ListCells returns the notebook's cells ordered by cell_index.
	ListCells(ctx context.Context, notebookID uuid.UUID) ([]model.Cell, error)
	GetCell(ctx context.Context, notebookID, cellID uuid.UUID) (model.Cell, error)

	// ClaimRun atomically transitions the notebook to running iff no run is
	// in flight: from any startable status, or from paused once the paused
	// marker has been cleared by an approval. It also clears the
	// cancellation flag and stamps last_run_at. Returns storage.ErrConflict
	// when the claim loses.
	ClaimRun(ctx context.Context, notebookID uuid.UUID) (model.Notebook, error)

	// FinishRun moves an in-flight run to a terminal status and records the
	// triggering error message (nil clears it).
	FinishRun(ctx context.Context, notebookID uuid.UUID, status model.NotebookStatus, errorMessage *string) error

	// PauseRun suspends the run at the given approval cell: notebook status
	// paused, paused_at_cell set.
	PauseRun(ctx context.Context, notebookID, cellID uuid.UUID) error

	// ClearPause removes the paused marker after an approval while leaving
	// the notebook paused, which is what makes ClaimRun accept the resume.
	ClearPause(ctx context.Context, notebookID uuid.UUID) error

	// RequestCancel sets the cooperative cancellation flag. Returns false
	// when no run is in flight.
	RequestCancel(ctx context.Context, notebookID uuid.UUID) (bool, error)

	// SaveVariables persists the run's variable context snapshot.
	SaveVariables(ctx context.Context, notebookID uuid.UUID, vars map[string]any) error

	UpdateCell(ctx context.Context, cellID uuid.UUID, upd storage.CellUpdate) error

	// AppendCellLog appends a structured record to the cell's execution log.
	AppendCellLog(ctx context.Context, cellID uuid.UUID, rec model.LogRecord) error

	// SkipCellsFrom marks every not-yet-terminal cell with cell_index >=
	// fromIndex as skipped and returns how many were skipped.
	SkipCellsFrom(ctx context.Context, notebookID uuid.UUID, fromIndex int) (int, error)

	// ResetCells returns every cell to idle and clears output, error,
	// duration and execution log.
	ResetCells(ctx context.Context, notebookID uuid.UUID) error

	// ResetNotebook clears the notebook's run state: status idle, no error,
	// no paused marker, no cancellation flag, empty variables.
	ResetNotebook(ctx context.Context, notebookID uuid.UUID) error
}

// ToolInvoker executes a command cell's actual work. Failures are reported
// through the error return and captured per-cell; they are never raised as
// engine failures.
type ToolInvoker interface {
	Invoke(ctx context.Context, cell model.Cell, vars map[string]any) (output any, err error)
}

// Critic is the optional post-execution reviewer. A disapproving review is
// advisory metadata; it never alters run control flow.
type Critic interface {
	Review(ctx context.Context, cell model.Cell, output any) (model.ReviewRecord, error)
}

// TokenIssuer mints and verifies approval tokens scoped to a paused cell.
// Optional: when nil, approval requests are validated by the paused marker
// alone.
type TokenIssuer interface {
	Issue(notebookID, cellID uuid.UUID) (string, error)
	Verify(token string, notebookID, cellID uuid.UUID) error
}

// EventSink receives live progress events. Publish must not block.
type EventSink interface {
	Publish(ev model.RunEvent)
}

// NoopSink discards all events.
type NoopSink struct{}

// Publish is a no-op.
func (NoopSink) Publish(model.RunEvent) {}
