package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Variable context keys the engine writes after every successful cell.
const (
	// VarLastOutput always holds the most recent completed cell's output.
	VarLastOutput = "last_output"
	// VarCellOutputPrefix is the prefix for per-cell output keys; the full
	// key is "cell_<index>_output".
	VarCellOutputPrefix = "cell_"
	// VarCellOutputSuffix is the suffix for per-cell output keys.
	VarCellOutputSuffix = "_output"
)

// CellOutputKey returns the variable context key for a cell's output.
func CellOutputKey(index int) string {
	return VarCellOutputPrefix + strconv.Itoa(index) + VarCellOutputSuffix
}

// RunResult is the outcome of one execution attempt over a notebook.
type RunResult struct {
	NotebookID     uuid.UUID      `json:"notebook_id"`
	Status         NotebookStatus `json:"status"`
	CellsTotal     int            `json:"cells_total"`
	CellsCompleted int            `json:"cells_completed"`
	CellsFailed    int            `json:"cells_failed"`
	CellsSkipped   int            `json:"cells_skipped"`

	// PausedAtCell is set when the run suspended at an approval cell.
	PausedAtCell *uuid.UUID `json:"paused_at_cell,omitempty"`
	// ApprovalToken is a signed token scoped to the paused cell; approve
	// and reject requests present it. Empty unless the run paused.
	ApprovalToken string `json:"approval_token,omitempty"`

	Results []CellResult `json:"results"`
	// Variables is the final variable context snapshot.
	Variables map[string]any `json:"variables"`
}

// CellResult is the per-cell outcome within a RunResult.
type CellResult struct {
	CellID          uuid.UUID  `json:"cell_id"`
	CellIndex       int        `json:"cell_index"`
	CellType        CellType   `json:"cell_type"`
	Status          CellStatus `json:"status"`
	Output          any        `json:"output,omitempty"`
	Error           *string    `json:"error,omitempty"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
}

// RunEventType identifies a progress event emitted by the engine.
type RunEventType string

const (
	RunEventRunStarted    RunEventType = "run_started"
	RunEventCellStarted   RunEventType = "cell_started"
	RunEventCellCompleted RunEventType = "cell_completed"
	RunEventCellFailed    RunEventType = "cell_failed"
	RunEventCellSkipped   RunEventType = "cell_skipped"
	RunEventRunPaused     RunEventType = "run_paused"
	RunEventRunCompleted  RunEventType = "run_completed"
	RunEventRunFailed     RunEventType = "run_failed"
	RunEventRunCancelled  RunEventType = "run_cancelled"
)

// RunEvent is a live progress notification fanned out to SSE subscribers.
type RunEvent struct {
	Type       RunEventType `json:"type"`
	NotebookID uuid.UUID    `json:"notebook_id"`
	CellID     *uuid.UUID   `json:"cell_id,omitempty"`
	CellIndex  *int         `json:"cell_index,omitempty"`
	Message    string       `json:"message,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
