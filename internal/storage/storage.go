// Package storage provides the PostgreSQL storage layer for Renga.
//
// It manages connection pooling via pgxpool, a forward-only migration
// runner, and query methods for notebooks and cells. The sqlite
// subpackage provides an embedded store with the same contract for
// single-node deployments and tests.
package storage

import (
	"errors"

	"github.com/ashita-ai/renga/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a conditional write (e.g. the run-claim
// compare-and-set) matches no rows because another run is in flight.
var ErrConflict = errors.New("storage: conflict")

// CellUpdate describes a partial update of a cell's run-owned fields.
// Nil pointers leave the field unchanged; the Set/Clear flags distinguish
// "write this value" from "leave alone" for fields where nil is a value.
type CellUpdate struct {
	Status *model.CellStatus

	// Output replaces the cell's output when OutputSet is true.
	Output    any
	OutputSet bool

	// ErrorMessage is written when non-nil; ClearError nulls the column.
	ErrorMessage *string
	ClearError   bool

	DurationMs *int64
}
