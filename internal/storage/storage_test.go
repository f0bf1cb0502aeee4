package storage_test

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
	"github.com/ashita-ai/renga/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func requireDB(t *testing.T) *storage.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres integration tests skipped in -short mode")
	}
	return testDB
}

func seedNotebook(t *testing.T, db *storage.DB, cells ...model.CellInput) (model.Notebook, []model.Cell) {
	t.Helper()
	nb, created, err := db.CreateNotebook(context.Background(), model.CreateNotebookRequest{
		Title: "integration notebook",
		Cells: cells,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.DeleteNotebook(context.Background(), nb.ID) })
	return nb, created
}

func commandInput(title string) model.CellInput {
	return model.CellInput{CellType: model.CellTypeCommand, Title: title, Content: "echo"}
}

func TestPostgres_NotebookLifecycle(t *testing.T) {
	db := requireDB(t)
	nb, cells := seedNotebook(t, db, commandInput("a"), commandInput("b"))

	require.Len(t, cells, 2)
	assert.Equal(t, 0, cells[0].CellIndex)
	assert.Equal(t, model.NotebookStatusIdle, nb.Status)

	fetched, err := db.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, nb.ID, fetched.ID)

	listed, total, err := db.ListNotebooks(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, listed)

	_, err = db.GetNotebook(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgres_RunStateMachine(t *testing.T) {
	db := requireDB(t)
	nb, cells := seedNotebook(t, db, commandInput("a"))

	claimed, err := db.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusRunning, claimed.Status)

	_, err = db.ClaimRun(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, db.PauseRun(context.Background(), nb.ID, cells[0].ID))
	paused, err := db.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	require.NotNil(t, paused.PausedAtCell)

	_, err = db.ClaimRun(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, db.ClearPause(context.Background(), nb.ID))
	resumed, err := db.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusRunning, resumed.Status)

	require.NoError(t, db.FinishRun(context.Background(), nb.ID, model.NotebookStatusCompleted, nil))
	final, err := db.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusCompleted, final.Status)
}

func TestPostgres_RejectedCellBlocksClaim(t *testing.T) {
	db := requireDB(t)
	nb, cells := seedNotebook(t, db, commandInput("a"))

	_, err := db.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	rejected := model.CellStatusRejected
	require.NoError(t, db.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{Status: &rejected}))
	require.NoError(t, db.FinishRun(context.Background(), nb.ID, model.NotebookStatusFailed, nil))

	// The rejected cell pins the notebook even though failed is startable.
	_, err = db.ClaimRun(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, db.ResetCells(context.Background(), nb.ID))
	require.NoError(t, db.ResetNotebook(context.Background(), nb.ID))
	_, err = db.ClaimRun(context.Background(), nb.ID)
	assert.NoError(t, err)
}

func TestPostgres_CancelFlag(t *testing.T) {
	db := requireDB(t)
	nb, _ := seedNotebook(t, db, commandInput("a"))

	ok, err := db.RequestCancel(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.False(t, ok, "no run in flight")

	_, err = db.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)

	ok, err = db.RequestCancel(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := db.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.True(t, fresh.CancelRequested)
}

func TestPostgres_VariablesRoundtrip(t *testing.T) {
	db := requireDB(t)
	nb, _ := seedNotebook(t, db)

	vars := map[string]any{"region": "us-east-1", "count": float64(2)}
	require.NoError(t, db.SaveVariables(context.Background(), nb.ID, vars))

	fresh, err := db.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, vars, fresh.Variables)
}

func TestPostgres_CellLifecycle(t *testing.T) {
	db := requireDB(t)
	nb, cells := seedNotebook(t, db, commandInput("a"), commandInput("b"))

	added, err := db.AddCell(context.Background(), nb.ID, commandInput("c"))
	require.NoError(t, err)
	assert.Equal(t, 2, added.CellIndex)

	content := "kubectl get pods"
	updated, err := db.UpdateCellSpec(context.Background(), nb.ID, added.ID, model.UpdateCellRequest{
		Content: &content,
	})
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)

	status := model.CellStatusCompleted
	dur := int64(7)
	require.NoError(t, db.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{
		Status:     &status,
		Output:     map[string]any{"pods": float64(3)},
		OutputSet:  true,
		DurationMs: &dur,
	}))
	cell, err := db.GetCell(context.Background(), nb.ID, cells[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CellStatusCompleted, cell.Status)
	assert.Equal(t, map[string]any{"pods": float64(3)}, cell.Output)

	require.NoError(t, db.AppendCellLog(context.Background(), cells[0].ID, model.LogRecord{
		Kind:       model.LogKindTrace,
		RecordedAt: time.Now().UTC(),
		Message:    "completed in 7ms",
	}))
	cell, err = db.GetCell(context.Background(), nb.ID, cells[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, cell.ExecutionLog)

	// Deleting the middle cell repacks the rest.
	require.NoError(t, db.DeleteCell(context.Background(), nb.ID, cells[1].ID))
	remaining, err := db.ListCells(context.Background(), nb.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, 1, remaining[1].CellIndex)
}

func TestPostgres_SkipAndReset(t *testing.T) {
	db := requireDB(t)
	nb, cells := seedNotebook(t, db, commandInput("a"), commandInput("b"))

	done := model.CellStatusCompleted
	require.NoError(t, db.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{Status: &done}))

	skipped, err := db.SkipCellsFrom(context.Background(), nb.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped, "completed cells are left alone")

	require.NoError(t, db.ResetCells(context.Background(), nb.ID))
	require.NoError(t, db.ResetNotebook(context.Background(), nb.ID))

	fresh, err := db.ListCells(context.Background(), nb.ID)
	require.NoError(t, err)
	for _, c := range fresh {
		assert.Equal(t, model.CellStatusIdle, c.Status)
	}
}
