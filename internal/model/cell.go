package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CellType identifies what a cell does when executed. The set is open:
// deployments register executors for additional types (webhook, delay, ...)
// without schema changes. The three types below are built in.
type CellType string

const (
	// CellTypeCommand invokes the configured Tool Invoker with the cell's
	// content and the variable context.
	CellTypeCommand CellType = "command"
	// CellTypeApprove suspends the run until an operator approves or
	// rejects.
	CellTypeApprove CellType = "approve"
	// CellTypeNote is documentation; executing it is a no-op.
	CellTypeNote CellType = "note"
)

// CellStatus is the per-cell execution state.
type CellStatus string

const (
	CellStatusIdle      CellStatus = "idle"
	CellStatusQueued    CellStatus = "queued"
	CellStatusRunning   CellStatus = "running"
	CellStatusCompleted CellStatus = "completed"
	CellStatusError     CellStatus = "error"
	CellStatusPaused    CellStatus = "paused"
	CellStatusSkipped   CellStatus = "skipped"
	CellStatusRejected  CellStatus = "rejected"
)

// Terminal reports whether the cell has reached a final state for the
// current run. Terminal cells below a resume offset keep their state
// instead of being re-marked.
func (s CellStatus) Terminal() bool {
	switch s {
	case CellStatusCompleted, CellStatusError, CellStatusSkipped, CellStatusRejected:
		return true
	}
	return false
}

// Input size limits for caller-supplied cell fields.
const (
	MaxCellTitleLen   = 500
	MaxCellContentLen = 256 * 1024
	MaxCellTypeLen    = 100
)

// Cell is a single step of a notebook. CellIndex is the dense 0-based
// execution position; Dependencies are caller-supplied display metadata and
// do not influence execution order.
type Cell struct {
	ID         uuid.UUID  `json:"id"`
	NotebookID uuid.UUID  `json:"notebook_id"`
	CellIndex  int        `json:"cell_index"`
	CellType   CellType   `json:"cell_type"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Status     CellStatus `json:"status"`

	// Output is the last execution's result, JSON-encoded at rest.
	Output any `json:"output,omitempty"`
	// ErrorMessage is set while Status is error or rejected.
	ErrorMessage *string `json:"error_message,omitempty"`
	// DurationMs is the last execution's wall time.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	Dependencies []uuid.UUID `json:"dependencies,omitempty"`

	// ExecutionLog accumulates trace and review records across executions;
	// reset clears it.
	ExecutionLog []LogRecord `json:"execution_log,omitempty"`

	// Reasoning and ToolsUsed are optional annotations supplied by the
	// Tool Invoker alongside the output.
	Reasoning string   `json:"reasoning,omitempty"`
	ToolsUsed []string `json:"tools_used,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogKind classifies an execution log record.
type LogKind string

const (
	// LogKindTrace records execution milestones and failures.
	LogKindTrace LogKind = "trace"
	// LogKindReview records a critic's post-execution assessment.
	LogKindReview LogKind = "review"
)

// LogRecord is one entry of a cell's execution log.
type LogRecord struct {
	Kind       LogKind       `json:"kind"`
	RecordedAt time.Time     `json:"recorded_at"`
	Message    string        `json:"message,omitempty"`
	Review     *ReviewRecord `json:"review,omitempty"`
}

// ReviewRecord is a critic's assessment of a completed cell. It is
// advisory: a disapproving review never alters run control flow.
type ReviewRecord struct {
	Approved    bool     `json:"approved"`
	Confidence  int      `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// ValidateCellInput checks a caller-supplied cell definition.
func ValidateCellInput(in CellInput) error {
	if in.CellType == "" {
		return fmt.Errorf("cell_type is required")
	}
	if len(in.CellType) > MaxCellTypeLen {
		return fmt.Errorf("cell_type exceeds maximum length of %d characters", MaxCellTypeLen)
	}
	if in.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(in.Title) > MaxCellTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxCellTitleLen)
	}
	if len(in.Content) > MaxCellContentLen {
		return fmt.Errorf("content exceeds maximum length of %d bytes", MaxCellContentLen)
	}
	return nil
}
