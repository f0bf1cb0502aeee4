package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
	"github.com/ashita-ai/renga/internal/storage/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedNotebook(t *testing.T, s *sqlite.Store, cells ...model.CellInput) (model.Notebook, []model.Cell) {
	t.Helper()
	nb, created, err := s.CreateNotebook(context.Background(), model.CreateNotebookRequest{
		Title: "deploy checklist",
		Cells: cells,
	})
	require.NoError(t, err)
	return nb, created
}

func commandInput(title string) model.CellInput {
	return model.CellInput{CellType: model.CellTypeCommand, Title: title, Content: "echo"}
}

// ---- Notebook CRUD --------------------------------------------------------

func TestCreateNotebook(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"), commandInput("b"))

	assert.NotEqual(t, uuid.Nil, nb.ID)
	assert.Equal(t, "deploy checklist", nb.Title)
	assert.Equal(t, model.NotebookStatusIdle, nb.Status)
	require.Len(t, cells, 2)
	assert.Equal(t, 0, cells[0].CellIndex)
	assert.Equal(t, 1, cells[1].CellIndex)
	assert.Equal(t, model.CellStatusIdle, cells[0].Status)
	assert.Equal(t, nb.ID, cells[0].NotebookID)
}

func TestGetNotebook_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetNotebook(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListNotebooks_Pagination(t *testing.T) {
	s := newStore(t)
	for range 3 {
		seedNotebook(t, s)
	}

	page, total, err := s.ListNotebooks(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	rest, total, err := s.ListNotebooks(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, rest, 1)
}

func TestDeleteNotebook_CascadesToCells(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	require.NoError(t, s.DeleteNotebook(context.Background(), nb.ID))

	_, err := s.GetNotebook(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetCell(context.Background(), nb.ID, cells[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.DeleteNotebook(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ---- Run state machine ----------------------------------------------------

func TestClaimRun(t *testing.T) {
	s := newStore(t)
	nb, _ := seedNotebook(t, s, commandInput("a"))

	claimed, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusRunning, claimed.Status)
	assert.NotNil(t, claimed.LastRunAt)

	// A second claim against the in-flight notebook loses.
	_, err = s.ClaimRun(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestClaimRun_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.ClaimRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimRun_TerminalStatusesAreStartable(t *testing.T) {
	s := newStore(t)
	for _, status := range []model.NotebookStatus{
		model.NotebookStatusCompleted,
		model.NotebookStatusPartial,
		model.NotebookStatusFailed,
		model.NotebookStatusCancelled,
	} {
		nb, _ := seedNotebook(t, s, commandInput("a"))
		_, err := s.ClaimRun(context.Background(), nb.ID)
		require.NoError(t, err)
		require.NoError(t, s.FinishRun(context.Background(), nb.ID, status, nil))

		_, err = s.ClaimRun(context.Background(), nb.ID)
		assert.NoError(t, err, "status %s should be startable", status)
	}
}

func TestClaimRun_RejectedCellBlocksClaim(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"), commandInput("b"))

	_, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	rejected := model.CellStatusRejected
	require.NoError(t, s.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{Status: &rejected}))
	require.NoError(t, s.FinishRun(context.Background(), nb.ID, model.NotebookStatusFailed, nil))

	// The rejected cell pins the notebook even though failed is startable.
	_, err = s.ClaimRun(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// A reset clears the rejection and makes the notebook claimable again.
	require.NoError(t, s.ResetCells(context.Background(), nb.ID))
	require.NoError(t, s.ResetNotebook(context.Background(), nb.ID))
	_, err = s.ClaimRun(context.Background(), nb.ID)
	assert.NoError(t, err)
}

func TestPauseRun_AndResumeClaim(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	_, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	require.NoError(t, s.PauseRun(context.Background(), nb.ID, cells[0].ID))

	paused, err := s.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAtCell)
	assert.Equal(t, cells[0].ID, *paused.PausedAtCell)

	// Paused with the marker set: not claimable.
	_, err = s.ClaimRun(context.Background(), nb.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Clearing the marker leaves the notebook paused but claimable.
	require.NoError(t, s.ClearPause(context.Background(), nb.ID))
	cleared, err := s.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusPaused, cleared.Status)
	assert.Nil(t, cleared.PausedAtCell)

	claimed, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusRunning, claimed.Status)
}

func TestPauseRun_RequiresRunning(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	err := s.PauseRun(context.Background(), nb.ID, cells[0].ID)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestFinishRun(t *testing.T) {
	s := newStore(t)
	nb, _ := seedNotebook(t, s, commandInput("a"))

	_, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)

	msg := "cell 0 exploded"
	require.NoError(t, s.FinishRun(context.Background(), nb.ID, model.NotebookStatusFailed, &msg))

	fresh, err := s.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusFailed, fresh.Status)
	require.NotNil(t, fresh.ErrorMessage)
	assert.Equal(t, msg, *fresh.ErrorMessage)
	assert.Nil(t, fresh.PausedAtCell)

	// Finishing an already terminal run is a conflict.
	err = s.FinishRun(context.Background(), nb.ID, model.NotebookStatusCompleted, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestRequestCancel(t *testing.T) {
	s := newStore(t)
	nb, _ := seedNotebook(t, s, commandInput("a"))

	// No run in flight: flag is not set.
	ok, err := s.RequestCancel(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)

	ok, err = s.RequestCancel(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := s.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.True(t, fresh.CancelRequested)

	// The next claim resets the flag.
	require.NoError(t, s.FinishRun(context.Background(), nb.ID, model.NotebookStatusCancelled, nil))
	claimed, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.False(t, claimed.CancelRequested)
}

func TestSaveVariables_Roundtrip(t *testing.T) {
	s := newStore(t)
	nb, _ := seedNotebook(t, s, commandInput("a"))

	vars := map[string]any{"region": "eu-west-1", "replicas": float64(3)}
	require.NoError(t, s.SaveVariables(context.Background(), nb.ID, vars))

	fresh, err := s.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, vars, fresh.Variables)
}

func TestResetNotebookAndCells(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	_, err := s.ClaimRun(context.Background(), nb.ID)
	require.NoError(t, err)
	require.NoError(t, s.SaveVariables(context.Background(), nb.ID, map[string]any{"k": "v"}))

	status := model.CellStatusError
	msg := "boom"
	dur := int64(12)
	require.NoError(t, s.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{
		Status:       &status,
		ErrorMessage: &msg,
		DurationMs:   &dur,
	}))
	require.NoError(t, s.FinishRun(context.Background(), nb.ID, model.NotebookStatusFailed, &msg))

	require.NoError(t, s.ResetCells(context.Background(), nb.ID))
	require.NoError(t, s.ResetNotebook(context.Background(), nb.ID))

	fresh, err := s.GetNotebook(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotebookStatusIdle, fresh.Status)
	assert.Nil(t, fresh.ErrorMessage)
	assert.Nil(t, fresh.LastRunAt)
	assert.Empty(t, fresh.Variables)

	cell, err := s.GetCell(context.Background(), nb.ID, cells[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CellStatusIdle, cell.Status)
	assert.Nil(t, cell.ErrorMessage)
	assert.Nil(t, cell.DurationMs)
}

// ---- Cell CRUD ------------------------------------------------------------

func TestAddCell_AppendsIndex(t *testing.T) {
	s := newStore(t)
	nb, _ := seedNotebook(t, s, commandInput("a"), commandInput("b"))

	cell, err := s.AddCell(context.Background(), nb.ID, commandInput("c"))
	require.NoError(t, err)
	assert.Equal(t, 2, cell.CellIndex)
	assert.Equal(t, model.CellStatusIdle, cell.Status)

	_, err = s.AddCell(context.Background(), uuid.New(), commandInput("x"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateCellSpec_PartialEdit(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	content := "kubectl rollout status"
	updated, err := s.UpdateCellSpec(context.Background(), nb.ID, cells[0].ID, model.UpdateCellRequest{
		Content: &content,
	})
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)
	assert.Equal(t, "a", updated.Title, "untouched fields keep their values")

	_, err = s.UpdateCellSpec(context.Background(), nb.ID, uuid.New(), model.UpdateCellRequest{Content: &content})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteCell_RepacksAndPurgesDependencies(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"), commandInput("b"), commandInput("c"))

	// Make cell c depend on a and b.
	deps := []uuid.UUID{cells[0].ID, cells[1].ID}
	_, err := s.UpdateCellSpec(context.Background(), nb.ID, cells[2].ID, model.UpdateCellRequest{
		Dependencies: &deps,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCell(context.Background(), nb.ID, cells[1].ID))

	remaining, err := s.ListCells(context.Background(), nb.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, 0, remaining[0].CellIndex)
	assert.Equal(t, 1, remaining[1].CellIndex, "indexes repack densely")
	assert.Equal(t, []uuid.UUID{cells[0].ID}, remaining[1].Dependencies, "deleted cell purged from dependencies")

	err = s.DeleteCell(context.Background(), nb.ID, cells[1].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateCell_OutputAndErrorLifecycle(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	status := model.CellStatusError
	msg := "boom"
	require.NoError(t, s.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{
		Status:       &status,
		ErrorMessage: &msg,
	}))

	// A later success clears the stale error and records the output.
	status = model.CellStatusCompleted
	dur := int64(42)
	require.NoError(t, s.UpdateCell(context.Background(), cells[0].ID, storage.CellUpdate{
		Status:     &status,
		Output:     "all green",
		OutputSet:  true,
		ClearError: true,
		DurationMs: &dur,
	}))

	cell, err := s.GetCell(context.Background(), nb.ID, cells[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CellStatusCompleted, cell.Status)
	assert.Equal(t, "all green", cell.Output)
	assert.Nil(t, cell.ErrorMessage)
	require.NotNil(t, cell.DurationMs)
	assert.Equal(t, int64(42), *cell.DurationMs)
}

func TestAppendCellLog_PreservesOrder(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"))

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendCellLog(context.Background(), cells[0].ID, model.LogRecord{
			Kind:       model.LogKindTrace,
			RecordedAt: time.Now().UTC(),
			Message:    msg,
		}))
	}

	cell, err := s.GetCell(context.Background(), nb.ID, cells[0].ID)
	require.NoError(t, err)
	require.Len(t, cell.ExecutionLog, 3)
	assert.Equal(t, "first", cell.ExecutionLog[0].Message)
	assert.Equal(t, "third", cell.ExecutionLog[2].Message)
}

func TestSkipCellsFrom_LeavesTerminalCellsAlone(t *testing.T) {
	s := newStore(t)
	nb, cells := seedNotebook(t, s, commandInput("a"), commandInput("b"), commandInput("c"))

	done := model.CellStatusCompleted
	require.NoError(t, s.UpdateCell(context.Background(), cells[1].ID, storage.CellUpdate{Status: &done}))

	skipped, err := s.SkipCellsFrom(context.Background(), nb.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	fresh, err := s.ListCells(context.Background(), nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CellStatusIdle, fresh[0].Status, "below the offset")
	assert.Equal(t, model.CellStatusCompleted, fresh[1].Status, "terminal cells keep their status")
	assert.Equal(t, model.CellStatusSkipped, fresh[2].Status)
}
