package critic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/renga/internal/model"
)

func TestHeuristic_CleanOutput(t *testing.T) {
	rec, err := Heuristic{}.Review(context.Background(), model.Cell{
		CellType: model.CellTypeCommand,
	}, "deployment rolled out")
	require.NoError(t, err)
	assert.True(t, rec.Approved)
	assert.Equal(t, 90, rec.Confidence)
	assert.Empty(t, rec.Issues)
}

func TestHeuristic_ErrorLookingOutput(t *testing.T) {
	rec, err := Heuristic{}.Review(context.Background(), model.Cell{
		CellType: model.CellTypeCommand,
	}, "FAILED to connect to database")
	require.NoError(t, err)
	assert.False(t, rec.Approved)
	assert.Equal(t, 40, rec.Confidence)
	require.Len(t, rec.Issues, 1)
	assert.Contains(t, rec.Issues[0], "failed")
}

func TestHeuristic_ErrorField(t *testing.T) {
	rec, err := Heuristic{}.Review(context.Background(), model.Cell{
		CellType: model.CellTypeCommand,
	}, map[string]any{"error": "timeout"})
	require.NoError(t, err)
	assert.False(t, rec.Approved)
}

func TestHeuristic_EmptyOutput(t *testing.T) {
	rec, err := Heuristic{}.Review(context.Background(), model.Cell{
		CellType: model.CellTypeCommand,
	}, nil)
	require.NoError(t, err)
	assert.True(t, rec.Approved, "empty output lowers confidence but is not a rejection")
	assert.Equal(t, 60, rec.Confidence)
	assert.NotEmpty(t, rec.Issues)
}

func TestHeuristic_NoteCellsSkipEmptyCheck(t *testing.T) {
	rec, err := Heuristic{}.Review(context.Background(), model.Cell{
		CellType: model.CellTypeNote,
	}, nil)
	require.NoError(t, err)
	assert.True(t, rec.Approved)
	assert.Equal(t, 90, rec.Confidence)
	assert.Empty(t, rec.Issues)
}
