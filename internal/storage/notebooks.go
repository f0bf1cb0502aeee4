package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/renga/internal/model"
)

const notebookColumns = `id, title, status, error_message, paused_at_cell, cancel_requested,
	variables, last_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotebook(row rowScanner) (model.Notebook, error) {
	var nb model.Notebook
	err := row.Scan(
		&nb.ID, &nb.Title, &nb.Status, &nb.ErrorMessage, &nb.PausedAtCell,
		&nb.CancelRequested, &nb.Variables, &nb.LastRunAt, &nb.CreatedAt, &nb.UpdatedAt,
	)
	return nb, err
}

// CreateNotebook inserts a notebook and its initial cells in one transaction.
func (db *DB) CreateNotebook(ctx context.Context, req model.CreateNotebookRequest) (model.Notebook, []model.Cell, error) {
	now := time.Now().UTC()
	nb := model.Notebook{
		ID:        uuid.New(),
		Title:     req.Title,
		Status:    model.NotebookStatusIdle,
		Variables: map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Notebook{}, nil, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO notebooks (id, title, status, variables, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		nb.ID, nb.Title, string(nb.Status), nb.Variables, nb.CreatedAt, nb.UpdatedAt,
	)
	if err != nil {
		return model.Notebook{}, nil, fmt.Errorf("storage: create notebook: %w", err)
	}

	cells := make([]model.Cell, 0, len(req.Cells))
	for i, in := range req.Cells {
		cell, err := insertCell(ctx, tx, nb.ID, i, in, now)
		if err != nil {
			return model.Notebook{}, nil, err
		}
		cells = append(cells, cell)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Notebook{}, nil, fmt.Errorf("storage: commit: %w", err)
	}
	return nb, cells, nil
}

// GetNotebook retrieves a notebook by ID.
func (db *DB) GetNotebook(ctx context.Context, id uuid.UUID) (model.Notebook, error) {
	nb, err := scanNotebook(db.pool.QueryRow(ctx,
		`SELECT `+notebookColumns+` FROM notebooks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Notebook{}, fmt.Errorf("storage: notebook %s: %w", id, ErrNotFound)
		}
		return model.Notebook{}, fmt.Errorf("storage: get notebook: %w", err)
	}
	return nb, nil
}

// ListNotebooks returns notebooks ordered by created_at DESC, with the total
// count for pagination.
func (db *DB) ListNotebooks(ctx context.Context, limit, offset int) ([]model.Notebook, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notebooks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count notebooks: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+notebookColumns+` FROM notebooks
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []model.Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	return notebooks, total, rows.Err()
}

// DeleteNotebook removes a notebook; its cells cascade.
func (db *DB) DeleteNotebook(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM notebooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete notebook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: notebook %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimRun atomically transitions the notebook to running iff no run is in
// flight: from any startable status, or from paused once the paused marker
// was cleared by an approval. A notebook holding a rejected cell cannot be
// claimed until it is reset. Clears the cancellation flag and stamps
// last_run_at.
func (db *DB) ClaimRun(ctx context.Context, notebookID uuid.UUID) (model.Notebook, error) {
	nb, err := scanNotebook(db.pool.QueryRow(ctx,
		`UPDATE notebooks
		 SET status = 'running', cancel_requested = FALSE, error_message = NULL,
		     last_run_at = now(), updated_at = now()
		 WHERE id = $1
		   AND (status IN ('idle', 'completed', 'partial', 'failed', 'cancelled')
		        OR (status = 'paused' AND paused_at_cell IS NULL))
		   AND NOT EXISTS (
		        SELECT 1 FROM cells
		        WHERE cells.notebook_id = notebooks.id AND cells.status = 'rejected')
		 RETURNING `+notebookColumns, notebookID))
	if err == nil {
		return nb, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Notebook{}, fmt.Errorf("storage: claim run: %w", err)
	}

	// The CAS matched nothing: the notebook is missing, a run is in
	// flight, or a rejected gate is pinning it until a reset.
	if _, gerr := db.GetNotebook(ctx, notebookID); gerr != nil {
		return model.Notebook{}, gerr
	}
	return model.Notebook{}, fmt.Errorf("storage: claim run %s: %w", notebookID, ErrConflict)
}

// FinishRun moves an in-flight run to a terminal status.
func (db *DB) FinishRun(ctx context.Context, notebookID uuid.UUID, status model.NotebookStatus, errorMessage *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notebooks
		 SET status = $1, error_message = $2, paused_at_cell = NULL,
		     cancel_requested = FALSE, updated_at = now()
		 WHERE id = $3 AND status IN ('running', 'paused')`,
		string(status), errorMessage, notebookID)
	if err != nil {
		return fmt.Errorf("storage: finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := db.GetNotebook(ctx, notebookID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("storage: finish run %s: no run in flight: %w", notebookID, ErrConflict)
	}
	return nil
}

// PauseRun suspends the running notebook at the given approval cell.
func (db *DB) PauseRun(ctx context.Context, notebookID, cellID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notebooks
		 SET status = 'paused', paused_at_cell = $1, updated_at = now()
		 WHERE id = $2 AND status = 'running'`,
		cellID, notebookID)
	if err != nil {
		return fmt.Errorf("storage: pause run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := db.GetNotebook(ctx, notebookID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("storage: pause run %s: not running: %w", notebookID, ErrConflict)
	}
	return nil
}

// ClearPause removes the paused marker while leaving the notebook paused,
// which is what makes ClaimRun accept the resume.
func (db *DB) ClearPause(ctx context.Context, notebookID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notebooks SET paused_at_cell = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'paused'`, notebookID)
	if err != nil {
		return fmt.Errorf("storage: clear pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := db.GetNotebook(ctx, notebookID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("storage: clear pause %s: not paused: %w", notebookID, ErrConflict)
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a running
// notebook. Returns false when the notebook exists but has no running run.
func (db *DB) RequestCancel(ctx context.Context, notebookID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notebooks SET cancel_requested = TRUE, updated_at = now()
		 WHERE id = $1 AND status = 'running'`, notebookID)
	if err != nil {
		return false, fmt.Errorf("storage: request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := db.GetNotebook(ctx, notebookID); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

// SaveVariables persists the run's variable context snapshot.
func (db *DB) SaveVariables(ctx context.Context, notebookID uuid.UUID, vars map[string]any) error {
	if vars == nil {
		vars = map[string]any{}
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE notebooks SET variables = $1, updated_at = now() WHERE id = $2`,
		vars, notebookID)
	if err != nil {
		return fmt.Errorf("storage: save variables: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: notebook %s: %w", notebookID, ErrNotFound)
	}
	return nil
}

// ResetNotebook clears the notebook's run state back to idle.
func (db *DB) ResetNotebook(ctx context.Context, notebookID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notebooks
		 SET status = 'idle', error_message = NULL, paused_at_cell = NULL,
		     cancel_requested = FALSE, variables = '{}'::jsonb,
		     last_run_at = NULL, updated_at = now()
		 WHERE id = $1`, notebookID)
	if err != nil {
		return fmt.Errorf("storage: reset notebook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: notebook %s: %w", notebookID, ErrNotFound)
	}
	return nil
}
