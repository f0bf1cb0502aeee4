package renga

import (
	"time"

	"github.com/google/uuid"
)

// NotebookStatus is the notebook-level run state.
type NotebookStatus string

// Notebook statuses.
const (
	StatusIdle      NotebookStatus = "idle"
	StatusRunning   NotebookStatus = "running"
	StatusPaused    NotebookStatus = "paused"
	StatusCompleted NotebookStatus = "completed"
	StatusPartial   NotebookStatus = "partial"
	StatusFailed    NotebookStatus = "failed"
	StatusCancelled NotebookStatus = "cancelled"
)

// CellStatus is the per-cell execution state.
type CellStatus string

// Cell statuses.
const (
	CellIdle      CellStatus = "idle"
	CellQueued    CellStatus = "queued"
	CellRunning   CellStatus = "running"
	CellCompleted CellStatus = "completed"
	CellError     CellStatus = "error"
	CellPaused    CellStatus = "paused"
	CellSkipped   CellStatus = "skipped"
	CellRejected  CellStatus = "rejected"
)

// Cell types understood by the engine. Any string is accepted by the
// server; unknown types fail at execution time.
const (
	CellTypeCommand = "command"
	CellTypeApprove = "approve"
	CellTypeNote    = "note"
)

// Notebook is a cell sequence with its run state.
type Notebook struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Status          NotebookStatus `json:"status"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	PausedAtCell    *uuid.UUID     `json:"paused_at_cell,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`
	Variables       map[string]any `json:"variables,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Cell is one executable step of a notebook.
type Cell struct {
	ID           uuid.UUID   `json:"id"`
	NotebookID   uuid.UUID   `json:"notebook_id"`
	CellIndex    int         `json:"cell_index"`
	CellType     string      `json:"cell_type"`
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	Status       CellStatus  `json:"status"`
	Output       any         `json:"output,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	DurationMs   *int64      `json:"duration_ms,omitempty"`
	Dependencies []uuid.UUID `json:"dependencies,omitempty"`
	ExecutionLog []LogRecord `json:"execution_log,omitempty"`
	Reasoning    string      `json:"reasoning,omitempty"`
	ToolsUsed    []string    `json:"tools_used,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// LogRecord is one entry of a cell's execution log.
type LogRecord struct {
	Kind       string        `json:"kind"`
	RecordedAt time.Time     `json:"recorded_at"`
	Message    string        `json:"message,omitempty"`
	Review     *ReviewRecord `json:"review,omitempty"`
}

// ReviewRecord is an automated review of a cell's output.
type ReviewRecord struct {
	Approved    bool     `json:"approved"`
	Confidence  int      `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// CellInput is a caller-supplied cell definition.
type CellInput struct {
	CellType     string      `json:"cell_type"`
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	Dependencies []uuid.UUID `json:"dependencies,omitempty"`
}

// CreateNotebookRequest creates a notebook with an optional initial cell list.
type CreateNotebookRequest struct {
	Title string      `json:"title"`
	Cells []CellInput `json:"cells,omitempty"`
}

// UpdateCellRequest patches a cell definition. Nil fields are left unchanged.
type UpdateCellRequest struct {
	CellType     *string      `json:"cell_type,omitempty"`
	Title        *string      `json:"title,omitempty"`
	Content      *string      `json:"content,omitempty"`
	Dependencies *[]uuid.UUID `json:"dependencies,omitempty"`
}

// NotebookWithCells is the response for create and get.
type NotebookWithCells struct {
	Notebook Notebook `json:"notebook"`
	Cells    []Cell   `json:"cells"`
}

// NotebookPage is one page of the notebook list.
type NotebookPage struct {
	Notebooks []Notebook `json:"notebooks"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// RunRequest starts or resumes a notebook run.
type RunRequest struct {
	Variables     map[string]any `json:"variables,omitempty"`
	StartFromCell int            `json:"start_from_cell,omitempty"`
	// StopOnError defaults to true when omitted.
	StopOnError *bool `json:"stop_on_error,omitempty"`
}

// RunResult is the outcome of a notebook run, final or paused.
type RunResult struct {
	NotebookID     uuid.UUID      `json:"notebook_id"`
	Status         NotebookStatus `json:"status"`
	CellsTotal     int            `json:"cells_total"`
	CellsCompleted int            `json:"cells_completed"`
	CellsFailed    int            `json:"cells_failed"`
	CellsSkipped   int            `json:"cells_skipped"`
	PausedAtCell   *uuid.UUID     `json:"paused_at_cell,omitempty"`
	ApprovalToken  string         `json:"approval_token,omitempty"`
	Results        []CellResult   `json:"results"`
	Variables      map[string]any `json:"variables"`
}

// CellResult is one cell's outcome within a run.
type CellResult struct {
	CellID          uuid.UUID  `json:"cell_id"`
	CellIndex       int        `json:"cell_index"`
	CellType        string     `json:"cell_type"`
	Status          CellStatus `json:"status"`
	Output          any        `json:"output,omitempty"`
	Error           *string    `json:"error,omitempty"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
}

// ApproveResponse names the cell index a resumed run should start from.
type ApproveResponse struct {
	NotebookID   uuid.UUID `json:"notebook_id"`
	CellID       uuid.UUID `json:"cell_id"`
	ContinueFrom int       `json:"continue_from"`
}

// Progress aggregates per-cell statuses for a notebook.
type Progress struct {
	CellsTotal     int `json:"cells_total"`
	CellsCompleted int `json:"cells_completed"`
	CellsFailed    int `json:"cells_failed"`
	CellsSkipped   int `json:"cells_skipped"`
	CellsQueued    int `json:"cells_queued"`
}

// StatusResponse is the progress snapshot for a notebook.
type StatusResponse struct {
	Notebook Notebook `json:"notebook"`
	Cells    []Cell   `json:"cells"`
	Progress Progress `json:"progress"`
	// ApprovalToken is present only while the notebook awaits approval.
	ApprovalToken string `json:"approval_token,omitempty"`
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Store     string `json:"store"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
