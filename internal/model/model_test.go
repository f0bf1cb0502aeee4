package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- Status predicates ----------------------------------------------------

func TestNotebookStatus_InFlight(t *testing.T) {
	assert.True(t, NotebookStatusRunning.InFlight())
	assert.True(t, NotebookStatusPaused.InFlight())
	assert.False(t, NotebookStatusIdle.InFlight())
	assert.False(t, NotebookStatusCompleted.InFlight())
	assert.False(t, NotebookStatusFailed.InFlight())
}

func TestNotebookStatus_Startable(t *testing.T) {
	for _, s := range []NotebookStatus{
		NotebookStatusIdle, NotebookStatusCompleted, NotebookStatusPartial,
		NotebookStatusFailed, NotebookStatusCancelled,
	} {
		assert.True(t, s.Startable(), "status %s", s)
	}
	assert.False(t, NotebookStatusRunning.Startable())
	assert.False(t, NotebookStatusPaused.Startable(), "paused resumes via approval, not a new claim")
}

func TestNotebookStatus_Terminal(t *testing.T) {
	assert.True(t, NotebookStatusCompleted.Terminal())
	assert.True(t, NotebookStatusCancelled.Terminal())
	assert.False(t, NotebookStatusRunning.Terminal())
	assert.False(t, NotebookStatusPaused.Terminal())
	assert.False(t, NotebookStatusIdle.Terminal())
}

func TestCellStatus_Terminal(t *testing.T) {
	for _, s := range []CellStatus{
		CellStatusCompleted, CellStatusError, CellStatusSkipped, CellStatusRejected,
	} {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range []CellStatus{
		CellStatusIdle, CellStatusQueued, CellStatusRunning, CellStatusPaused,
	} {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}

// ---- Validation -----------------------------------------------------------

func TestValidateNotebookTitle(t *testing.T) {
	assert.NoError(t, ValidateNotebookTitle("deploy v2"))

	err := ValidateNotebookTitle("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")

	err = ValidateNotebookTitle(strings.Repeat("x", MaxNotebookTitleLen+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum length")
}

func TestValidateCellInput(t *testing.T) {
	assert.NoError(t, ValidateCellInput(CellInput{
		CellType: CellTypeCommand,
		Title:    "ship it",
		Content:  "kubectl apply -f deploy.yaml",
	}))

	// Cell types are an open set; unknown types pass validation and fail at
	// execution time if no executor is registered.
	assert.NoError(t, ValidateCellInput(CellInput{CellType: "webhook", Title: "notify"}))

	err := ValidateCellInput(CellInput{Title: "no type"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cell_type")

	err = ValidateCellInput(CellInput{CellType: CellTypeCommand})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")

	err = ValidateCellInput(CellInput{
		CellType: CellTypeCommand,
		Title:    strings.Repeat("t", MaxCellTitleLen+1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title exceeds")

	err = ValidateCellInput(CellInput{
		CellType: CellTypeCommand,
		Title:    "big",
		Content:  strings.Repeat("c", MaxCellContentLen+1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content exceeds")
}

// ---- Progress -------------------------------------------------------------

func TestAggregateProgress(t *testing.T) {
	cells := []Cell{
		{Status: CellStatusCompleted},
		{Status: CellStatusCompleted},
		{Status: CellStatusError},
		{Status: CellStatusRejected},
		{Status: CellStatusSkipped},
		{Status: CellStatusQueued},
		{Status: CellStatusIdle},
	}

	p := AggregateProgress(cells)
	assert.Equal(t, 7, p.CellsTotal)
	assert.Equal(t, 2, p.CellsCompleted)
	assert.Equal(t, 2, p.CellsFailed, "error and rejected both count as failed")
	assert.Equal(t, 1, p.CellsSkipped)
	assert.Equal(t, 1, p.CellsQueued)
}

func TestAggregateProgress_Empty(t *testing.T) {
	p := AggregateProgress(nil)
	assert.Equal(t, Progress{}, p)
}

// ---- Variable keys --------------------------------------------------------

func TestCellOutputKey(t *testing.T) {
	assert.Equal(t, "cell_0_output", CellOutputKey(0))
	assert.Equal(t, "cell_12_output", CellOutputKey(12))
}
