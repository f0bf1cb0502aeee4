package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the notebook or cell does not exist.
var ErrNotFound = errors.New("engine: not found")

// ErrRunConflict is returned when a run is requested while another run is
// already running or paused for the same notebook.
var ErrRunConflict = errors.New("engine: run already in flight")

// ErrInvalidState is returned when approve/reject targets a cell that is
// not currently paused, or does not match the notebook's paused marker.
// It guards against stale or duplicate approval requests corrupting an
// already-resumed run.
var ErrInvalidState = errors.New("engine: invalid state for operation")

// CellExecutionError records a single cell's failure. It is captured on the
// cell as status "error" and evaluated by the failure policy; it is never
// propagated as an engine-level failure.
type CellExecutionError struct {
	CellID    uuid.UUID
	CellIndex int
	Err       error
}

func (e *CellExecutionError) Error() string {
	return fmt.Sprintf("cell %d (%s): %v", e.CellIndex, e.CellID, e.Err)
}

func (e *CellExecutionError) Unwrap() error { return e.Err }
