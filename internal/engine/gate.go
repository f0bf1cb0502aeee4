package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
)

// Approve resolves the approval gate the run is paused at. The cell is
// marked completed and the paused marker cleared; the notebook stays paused
// until the caller restarts the run from the returned index. Approving a
// cell other than the paused one, or a run that is not paused, fails with
// ErrInvalidState.
func (e *Engine) Approve(ctx context.Context, notebookID, cellID uuid.UUID, token string) (continueFrom int, err error) {
	cell, err := e.resolveGate(ctx, notebookID, cellID, token, "approve")
	if err != nil {
		return 0, err
	}

	status := model.CellStatusCompleted
	if uerr := e.store.UpdateCell(ctx, cellID, storage.CellUpdate{Status: &status, ClearError: true}); uerr != nil {
		return 0, fmt.Errorf("engine: approve: %w", uerr)
	}
	e.appendLog(ctx, cellID, model.LogRecord{
		Kind:       model.LogKindTrace,
		RecordedAt: time.Now().UTC(),
		Message:    "approved by operator",
	})
	if cerr := e.store.ClearPause(ctx, notebookID); cerr != nil {
		return 0, fmt.Errorf("engine: approve: clear pause: %w", cerr)
	}

	e.publish(model.RunEvent{Type: model.RunEventCellCompleted, NotebookID: notebookID, CellID: &cell.ID, CellIndex: &cell.CellIndex})
	e.logger.Info("cell approved", "notebook_id", notebookID, "cell_id", cellID, "cell_index", cell.CellIndex)
	return cell.CellIndex + 1, nil
}

// Reject resolves the approval gate negatively: the cell is marked
// rejected, every trailing cell skipped, and the run finished failed. The
// rejected cell pins the notebook — a new run is refused until it is reset.
func (e *Engine) Reject(ctx context.Context, notebookID, cellID uuid.UUID, token string) error {
	cell, err := e.resolveGate(ctx, notebookID, cellID, token, "reject")
	if err != nil {
		return err
	}

	msg := "rejected by operator"
	status := model.CellStatusRejected
	if uerr := e.store.UpdateCell(ctx, cellID, storage.CellUpdate{Status: &status, ErrorMessage: &msg}); uerr != nil {
		return fmt.Errorf("engine: reject: %w", uerr)
	}
	e.appendLog(ctx, cellID, model.LogRecord{
		Kind:       model.LogKindTrace,
		RecordedAt: time.Now().UTC(),
		Message:    msg,
	})
	if _, serr := e.store.SkipCellsFrom(ctx, notebookID, cell.CellIndex+1); serr != nil {
		return fmt.Errorf("engine: reject: skip trailing cells: %w", serr)
	}
	if ferr := e.store.FinishRun(ctx, notebookID, model.NotebookStatusFailed, &msg); ferr != nil {
		return fmt.Errorf("engine: reject: finish run: %w", ferr)
	}

	e.publish(model.RunEvent{Type: model.RunEventRunFailed, NotebookID: notebookID, CellID: &cell.ID, CellIndex: &cell.CellIndex, Message: msg})
	e.logger.Info("cell rejected", "notebook_id", notebookID, "cell_id", cellID, "cell_index", cell.CellIndex)
	return nil
}

// resolveGate validates an approve/reject request against the notebook's
// paused marker and the approval token.
func (e *Engine) resolveGate(ctx context.Context, notebookID, cellID uuid.UUID, token, op string) (model.Cell, error) {
	nb, err := e.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return model.Cell{}, mapStoreErr(op, err)
	}
	if nb.Status != model.NotebookStatusPaused || nb.PausedAtCell == nil {
		return model.Cell{}, fmt.Errorf("engine: %s: notebook %s is not awaiting approval: %w", op, notebookID, ErrInvalidState)
	}
	if *nb.PausedAtCell != cellID {
		return model.Cell{}, fmt.Errorf("engine: %s: cell %s is not the paused cell: %w", op, cellID, ErrInvalidState)
	}
	if e.tokens != nil {
		if verr := e.tokens.Verify(token, notebookID, cellID); verr != nil {
			return model.Cell{}, fmt.Errorf("engine: %s: approval token: %v: %w", op, verr, ErrInvalidState)
		}
	}

	cell, err := e.store.GetCell(ctx, notebookID, cellID)
	if err != nil {
		return model.Cell{}, mapStoreErr(op, err)
	}
	if cell.Status != model.CellStatusPaused {
		return model.Cell{}, fmt.Errorf("engine: %s: cell %s is not paused: %w", op, cellID, ErrInvalidState)
	}
	return cell, nil
}

// Reset returns the notebook and all its cells to idle, clearing outputs,
// errors, execution logs, and the persisted variable context. A running
// notebook cannot be reset; a paused one can, abandoning the pending
// approval.
func (e *Engine) Reset(ctx context.Context, notebookID uuid.UUID) error {
	nb, err := e.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return mapStoreErr("reset", err)
	}
	if nb.Status == model.NotebookStatusRunning {
		return fmt.Errorf("engine: reset: notebook %s is running: %w", notebookID, ErrRunConflict)
	}

	if err := e.store.ResetCells(ctx, notebookID); err != nil {
		return fmt.Errorf("engine: reset cells: %w", err)
	}
	if err := e.store.ResetNotebook(ctx, notebookID); err != nil {
		return fmt.Errorf("engine: reset notebook: %w", err)
	}
	e.logger.Info("notebook reset", "notebook_id", notebookID)
	return nil
}

// Cancel ends the in-flight run. For a running notebook it sets the
// cooperative cancellation flag, honored at the next cell boundary; the
// executing cell is never interrupted. For a paused notebook there is no
// loop to observe the flag, so the pending cells are skipped and the run
// finished cancelled immediately. Cancelling a notebook with no run in
// flight fails with ErrInvalidState.
func (e *Engine) Cancel(ctx context.Context, notebookID uuid.UUID) error {
	nb, err := e.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return mapStoreErr("cancel", err)
	}

	switch nb.Status {
	case model.NotebookStatusRunning:
		ok, err := e.store.RequestCancel(ctx, notebookID)
		if err != nil {
			return mapStoreErr("cancel", err)
		}
		if !ok {
			// Run reached a terminal status between reads.
			return fmt.Errorf("engine: cancel: notebook %s has no run in flight: %w", notebookID, ErrInvalidState)
		}
		e.logger.Info("cancellation requested", "notebook_id", notebookID)
		return nil

	case model.NotebookStatusPaused:
		fromIndex := 0
		if nb.PausedAtCell != nil {
			cell, err := e.store.GetCell(ctx, notebookID, *nb.PausedAtCell)
			if err != nil {
				return mapStoreErr("cancel", err)
			}
			fromIndex = cell.CellIndex
		}
		if _, err := e.store.SkipCellsFrom(ctx, notebookID, fromIndex); err != nil {
			return fmt.Errorf("engine: cancel: skip pending cells: %w", err)
		}
		if err := e.store.FinishRun(ctx, notebookID, model.NotebookStatusCancelled, nil); err != nil {
			return fmt.Errorf("engine: cancel: finish run: %w", err)
		}
		e.publish(model.RunEvent{Type: model.RunEventRunCancelled, NotebookID: notebookID})
		e.logger.Info("paused run cancelled", "notebook_id", notebookID)
		return nil
	}

	return fmt.Errorf("engine: cancel: notebook %s has no run in flight: %w", notebookID, ErrInvalidState)
}
