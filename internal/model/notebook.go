package model

import (
	"time"

	"github.com/google/uuid"
)

// NotebookStatus is the run-level state of a notebook. A notebook's status
// doubles as its run state: at most one run exists per notebook at a time.
type NotebookStatus string

const (
	// NotebookStatusIdle means the notebook has never run, or was reset.
	NotebookStatusIdle NotebookStatus = "idle"
	// NotebookStatusRunning means a run is actively executing cells.
	NotebookStatusRunning NotebookStatus = "running"
	// NotebookStatusPaused means the run is suspended at an approval cell.
	NotebookStatusPaused NotebookStatus = "paused"
	// NotebookStatusCompleted means the last run finished with every
	// executed cell successful.
	NotebookStatusCompleted NotebookStatus = "completed"
	// NotebookStatusPartial means the last run finished with at least one
	// cell failed while the failure policy allowed it to continue.
	NotebookStatusPartial NotebookStatus = "partial"
	// NotebookStatusFailed means the last run stopped on a cell failure or
	// an operator rejection.
	NotebookStatusFailed NotebookStatus = "failed"
	// NotebookStatusCancelled means the last run was cancelled between
	// cells.
	NotebookStatusCancelled NotebookStatus = "cancelled"
)

// InFlight reports whether a run currently exists for the notebook. An
// in-flight notebook rejects new runs, cell edits, and single-cell
// executions.
func (s NotebookStatus) InFlight() bool {
	return s == NotebookStatusRunning || s == NotebookStatusPaused
}

// Startable reports whether a fresh run may claim the notebook. Paused is
// deliberately absent: a paused run resumes through approval, not through a
// new claim.
func (s NotebookStatus) Startable() bool {
	switch s {
	case NotebookStatusIdle, NotebookStatusCompleted, NotebookStatusPartial,
		NotebookStatusFailed, NotebookStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is a finished-run state.
func (s NotebookStatus) Terminal() bool {
	switch s {
	case NotebookStatusCompleted, NotebookStatusPartial,
		NotebookStatusFailed, NotebookStatusCancelled:
		return true
	}
	return false
}

// Notebook is an ordered collection of cells plus the state of its most
// recent run.
type Notebook struct {
	ID     uuid.UUID      `json:"id"`
	Title  string         `json:"title"`
	Status NotebookStatus `json:"status"`

	// ErrorMessage holds the first failing cell's error when the last run
	// ended failed or partial.
	ErrorMessage *string `json:"error_message,omitempty"`

	// PausedAtCell is the approval cell the run is suspended at. An
	// approval clears it while leaving the status paused, which is what
	// permits the resume claim.
	PausedAtCell *uuid.UUID `json:"paused_at_cell,omitempty"`

	// CancelRequested is the cooperative cancellation flag; the run loop
	// checks it between cells.
	CancelRequested bool `json:"cancel_requested"`

	// Variables is the persisted variable context of the current or most
	// recent run. Persisting it is what lets a paused run resume in a
	// different process.
	Variables map[string]any `json:"variables,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
