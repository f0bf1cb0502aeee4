package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// MaxNotebookTitleLen bounds caller-supplied notebook titles.
const MaxNotebookTitleLen = 500

// ValidateNotebookTitle checks a notebook title.
func ValidateNotebookTitle(title string) error {
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if len(title) > MaxNotebookTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxNotebookTitleLen)
	}
	return nil
}

// CreateNotebookRequest is the request body for POST /v1/notebooks.
type CreateNotebookRequest struct {
	Title string      `json:"title"`
	Cells []CellInput `json:"cells,omitempty"`
}

// CellInput is a caller-supplied cell definition.
type CellInput struct {
	CellType     CellType    `json:"cell_type"`
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	Dependencies []uuid.UUID `json:"dependencies,omitempty"`
}

// UpdateCellRequest is the request body for PATCH /v1/notebooks/{id}/cells/{cell_id}.
// Nil fields are left unchanged.
type UpdateCellRequest struct {
	CellType     *CellType    `json:"cell_type,omitempty"`
	Title        *string      `json:"title,omitempty"`
	Content      *string      `json:"content,omitempty"`
	Dependencies *[]uuid.UUID `json:"dependencies,omitempty"`
}

// RunRequest is the request body for POST /v1/notebooks/{id}/run.
type RunRequest struct {
	Variables     map[string]any `json:"variables,omitempty"`
	StartFromCell int            `json:"start_from_cell,omitempty"`
	// StopOnError defaults to true when omitted.
	StopOnError *bool `json:"stop_on_error,omitempty"`
}

// DecisionRequest is the request body for the approve and reject endpoints.
type DecisionRequest struct {
	CellID uuid.UUID `json:"cell_id"`
	// ApprovalToken is the signed token issued when the run paused.
	ApprovalToken string `json:"approval_token"`
}

// ApproveResponse is the response for POST /v1/notebooks/{id}/approve.
type ApproveResponse struct {
	NotebookID   uuid.UUID `json:"notebook_id"`
	CellID       uuid.UUID `json:"cell_id"`
	ContinueFrom int       `json:"continue_from"`
}

// StatusResponse is the progress snapshot for GET /v1/notebooks/{id}/status.
type StatusResponse struct {
	Notebook Notebook `json:"notebook"`
	Cells    []Cell   `json:"cells"`
	Progress Progress `json:"progress"`
	// ApprovalToken is a fresh token for the paused cell, present only
	// while the notebook awaits approval. Reissued on every status read so
	// a lost pause response does not strand the run.
	ApprovalToken string `json:"approval_token,omitempty"`
}

// Progress aggregates per-cell statuses for a notebook.
type Progress struct {
	CellsTotal     int `json:"cells_total"`
	CellsCompleted int `json:"cells_completed"`
	CellsFailed    int `json:"cells_failed"`
	CellsSkipped   int `json:"cells_skipped"`
	CellsQueued    int `json:"cells_queued"`
}

// AggregateProgress computes progress counts from a cell list.
func AggregateProgress(cells []Cell) Progress {
	p := Progress{CellsTotal: len(cells)}
	for _, c := range cells {
		switch c.Status {
		case CellStatusCompleted:
			p.CellsCompleted++
		case CellStatusError, CellStatusRejected:
			p.CellsFailed++
		case CellStatusSkipped:
			p.CellsSkipped++
		case CellStatusQueued:
			p.CellsQueued++
		}
	}
	return p
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Store     string `json:"store"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
