// Package sqlite provides an embedded store with the same contract as the
// PostgreSQL layer, for single-node deployments and tests. It uses the pure
// Go driver from modernc.org, so cgo is not required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
)

// Store implements the notebook store over a SQLite database file.
// Pass ":memory:" for an ephemeral database.
type Store struct {
	db *sql.DB
}

// New opens (and if necessary creates) the database at path and applies the
// schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name identifies the store implementation in health reports.
func (s *Store) Name() string { return "sqlite" }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notebooks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'idle',
		error_message TEXT,
		paused_at_cell TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		variables TEXT NOT NULL DEFAULT '{}',
		last_run_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cells (
		id TEXT PRIMARY KEY,
		notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
		cell_index INTEGER NOT NULL,
		cell_type TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		output TEXT,
		error_message TEXT,
		duration_ms INTEGER,
		dependencies TEXT NOT NULL DEFAULT '[]',
		execution_log TEXT NOT NULL DEFAULT '[]',
		reasoning TEXT NOT NULL DEFAULT '',
		tools_used TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cells_notebook_index ON cells(notebook_id, cell_index);
	CREATE INDEX IF NOT EXISTS idx_notebooks_status ON notebooks(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

const notebookColumns = `id, title, status, error_message, paused_at_cell, cancel_requested,
	variables, last_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotebook(row rowScanner) (model.Notebook, error) {
	var nb model.Notebook
	var id string
	var errMsg, pausedAt sql.NullString
	var lastRunAt sql.NullTime
	var variables string

	err := row.Scan(&id, &nb.Title, &nb.Status, &errMsg, &pausedAt,
		&nb.CancelRequested, &variables, &lastRunAt, &nb.CreatedAt, &nb.UpdatedAt)
	if err != nil {
		return model.Notebook{}, err
	}

	nb.ID, err = uuid.Parse(id)
	if err != nil {
		return model.Notebook{}, fmt.Errorf("parse notebook id: %w", err)
	}
	if errMsg.Valid {
		nb.ErrorMessage = &errMsg.String
	}
	if pausedAt.Valid {
		cid, err := uuid.Parse(pausedAt.String)
		if err != nil {
			return model.Notebook{}, fmt.Errorf("parse paused cell id: %w", err)
		}
		nb.PausedAtCell = &cid
	}
	if lastRunAt.Valid {
		nb.LastRunAt = &lastRunAt.Time
	}
	if err := json.Unmarshal([]byte(variables), &nb.Variables); err != nil {
		return model.Notebook{}, fmt.Errorf("decode variables: %w", err)
	}
	return nb, nil
}

const cellColumns = `id, notebook_id, cell_index, cell_type, title, content, status,
	output, error_message, duration_ms, dependencies, execution_log,
	reasoning, tools_used, created_at, updated_at`

func scanCell(row rowScanner) (model.Cell, error) {
	var c model.Cell
	var id, notebookID, deps, log, tools string
	var output, errMsg sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(&id, &notebookID, &c.CellIndex, &c.CellType, &c.Title,
		&c.Content, &c.Status, &output, &errMsg, &durationMs, &deps, &log,
		&c.Reasoning, &tools, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Cell{}, err
	}

	c.ID, err = uuid.Parse(id)
	if err != nil {
		return model.Cell{}, fmt.Errorf("parse cell id: %w", err)
	}
	c.NotebookID, err = uuid.Parse(notebookID)
	if err != nil {
		return model.Cell{}, fmt.Errorf("parse notebook id: %w", err)
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &c.Output); err != nil {
			return model.Cell{}, fmt.Errorf("decode output: %w", err)
		}
	}
	if errMsg.Valid {
		c.ErrorMessage = &errMsg.String
	}
	if durationMs.Valid {
		c.DurationMs = &durationMs.Int64
	}
	if err := json.Unmarshal([]byte(deps), &c.Dependencies); err != nil {
		return model.Cell{}, fmt.Errorf("decode dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(log), &c.ExecutionLog); err != nil {
		return model.Cell{}, fmt.Errorf("decode execution log: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &c.ToolsUsed); err != nil {
		return model.Cell{}, fmt.Errorf("decode tools used: %w", err)
	}
	return c, nil
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

// CreateNotebook inserts a notebook and its initial cells in one transaction.
func (s *Store) CreateNotebook(ctx context.Context, req model.CreateNotebookRequest) (model.Notebook, []model.Cell, error) {
	now := time.Now().UTC()
	nb := model.Notebook{
		ID:        uuid.New(),
		Title:     req.Title,
		Status:    model.NotebookStatusIdle,
		Variables: map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Notebook{}, nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notebooks (id, title, status, variables, created_at, updated_at)
		 VALUES (?, ?, ?, '{}', ?, ?)`,
		nb.ID.String(), nb.Title, string(nb.Status), nb.CreatedAt, nb.UpdatedAt)
	if err != nil {
		return model.Notebook{}, nil, fmt.Errorf("sqlite: create notebook: %w", err)
	}

	cells := make([]model.Cell, 0, len(req.Cells))
	for i, in := range req.Cells {
		cell, err := insertCell(ctx, tx, nb.ID, i, in, now)
		if err != nil {
			return model.Notebook{}, nil, err
		}
		cells = append(cells, cell)
	}

	if err := tx.Commit(); err != nil {
		return model.Notebook{}, nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return nb, cells, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCell(ctx context.Context, q execer, notebookID uuid.UUID, index int, in model.CellInput, now time.Time) (model.Cell, error) {
	cell := model.Cell{
		ID:           uuid.New(),
		NotebookID:   notebookID,
		CellIndex:    index,
		CellType:     in.CellType,
		Title:        in.Title,
		Content:      in.Content,
		Status:       model.CellStatusIdle,
		Dependencies: in.Dependencies,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	deps, err := encodeJSON(cell.Dependencies, "[]")
	if err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: encode dependencies: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO cells (id, notebook_id, cell_index, cell_type, title, content, status, dependencies, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cell.ID.String(), cell.NotebookID.String(), cell.CellIndex,
		string(cell.CellType), cell.Title, cell.Content, string(cell.Status),
		deps, cell.CreatedAt, cell.UpdatedAt)
	if err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: insert cell: %w", err)
	}
	return cell, nil
}

// GetNotebook retrieves a notebook by ID.
func (s *Store) GetNotebook(ctx context.Context, id uuid.UUID) (model.Notebook, error) {
	nb, err := scanNotebook(s.db.QueryRowContext(ctx,
		`SELECT `+notebookColumns+` FROM notebooks WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notebook{}, fmt.Errorf("sqlite: notebook %s: %w", id, storage.ErrNotFound)
		}
		return model.Notebook{}, fmt.Errorf("sqlite: get notebook: %w", err)
	}
	return nb, nil
}

// ListNotebooks returns notebooks ordered by created_at DESC, with the total
// count for pagination.
func (s *Store) ListNotebooks(ctx context.Context, limit, offset int) ([]model.Notebook, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notebooks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: count notebooks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notebookColumns+` FROM notebooks
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []model.Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scan notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	return notebooks, total, rows.Err()
}

// DeleteNotebook removes a notebook and its cells.
func (s *Store) DeleteNotebook(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE notebook_id = ?`, id.String()); err != nil {
		return fmt.Errorf("sqlite: delete cells: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete notebook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete notebook: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlite: notebook %s: %w", id, storage.ErrNotFound)
	}
	return tx.Commit()
}

// ClaimRun atomically transitions the notebook to running iff no run is in
// flight: from any startable status, or from paused once the paused marker
// was cleared by an approval. A notebook holding a rejected cell cannot be
// claimed until it is reset.
func (s *Store) ClaimRun(ctx context.Context, notebookID uuid.UUID) (model.Notebook, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks
		 SET status = 'running', cancel_requested = 0, error_message = NULL,
		     last_run_at = ?, updated_at = ?
		 WHERE id = ?
		   AND (status IN ('idle', 'completed', 'partial', 'failed', 'cancelled')
		        OR (status = 'paused' AND paused_at_cell IS NULL))
		   AND NOT EXISTS (
		        SELECT 1 FROM cells
		        WHERE cells.notebook_id = notebooks.id AND cells.status = 'rejected')`,
		time.Now().UTC(), time.Now().UTC(), notebookID.String())
	if err != nil {
		return model.Notebook{}, fmt.Errorf("sqlite: claim run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Notebook{}, fmt.Errorf("sqlite: claim run: %w", err)
	}
	if affected == 0 {
		if _, gerr := s.GetNotebook(ctx, notebookID); gerr != nil {
			return model.Notebook{}, gerr
		}
		return model.Notebook{}, fmt.Errorf("sqlite: claim run %s: %w", notebookID, storage.ErrConflict)
	}
	return s.GetNotebook(ctx, notebookID)
}

// FinishRun moves an in-flight run to a terminal status.
func (s *Store) FinishRun(ctx context.Context, notebookID uuid.UUID, status model.NotebookStatus, errorMessage *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks
		 SET status = ?, error_message = ?, paused_at_cell = NULL,
		     cancel_requested = 0, updated_at = ?
		 WHERE id = ? AND status IN ('running', 'paused')`,
		string(status), errorMessage, time.Now().UTC(), notebookID.String())
	if err != nil {
		return fmt.Errorf("sqlite: finish run: %w", err)
	}
	return s.requireInFlight(ctx, res, notebookID, "finish run")
}

// PauseRun suspends the running notebook at the given approval cell.
func (s *Store) PauseRun(ctx context.Context, notebookID, cellID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks SET status = 'paused', paused_at_cell = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		cellID.String(), time.Now().UTC(), notebookID.String())
	if err != nil {
		return fmt.Errorf("sqlite: pause run: %w", err)
	}
	return s.requireInFlight(ctx, res, notebookID, "pause run")
}

// ClearPause removes the paused marker while leaving the notebook paused.
func (s *Store) ClearPause(ctx context.Context, notebookID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks SET paused_at_cell = NULL, updated_at = ?
		 WHERE id = ? AND status = 'paused'`,
		time.Now().UTC(), notebookID.String())
	if err != nil {
		return fmt.Errorf("sqlite: clear pause: %w", err)
	}
	return s.requireInFlight(ctx, res, notebookID, "clear pause")
}

func (s *Store) requireInFlight(ctx context.Context, res sql.Result, notebookID uuid.UUID, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	if affected == 0 {
		if _, gerr := s.GetNotebook(ctx, notebookID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("sqlite: %s %s: %w", op, notebookID, storage.ErrConflict)
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a running
// notebook. Returns false when the notebook exists but has no running run.
func (s *Store) RequestCancel(ctx context.Context, notebookID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks SET cancel_requested = 1, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), notebookID.String())
	if err != nil {
		return false, fmt.Errorf("sqlite: request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: request cancel: %w", err)
	}
	if affected == 0 {
		if _, gerr := s.GetNotebook(ctx, notebookID); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

// SaveVariables persists the run's variable context snapshot.
func (s *Store) SaveVariables(ctx context.Context, notebookID uuid.UUID, vars map[string]any) error {
	encoded, err := encodeJSON(vars, "{}")
	if err != nil {
		return fmt.Errorf("sqlite: encode variables: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks SET variables = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now().UTC(), notebookID.String())
	if err != nil {
		return fmt.Errorf("sqlite: save variables: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: save variables: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlite: notebook %s: %w", notebookID, storage.ErrNotFound)
	}
	return nil
}

// ResetNotebook clears the notebook's run state back to idle.
func (s *Store) ResetNotebook(ctx context.Context, notebookID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks
		 SET status = 'idle', error_message = NULL, paused_at_cell = NULL,
		     cancel_requested = 0, variables = '{}', last_run_at = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), notebookID.String())
	if err != nil {
		return fmt.Errorf("sqlite: reset notebook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reset notebook: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlite: notebook %s: %w", notebookID, storage.ErrNotFound)
	}
	return nil
}

// AddCell appends a cell at the end of the notebook's order.
func (s *Store) AddCell(ctx context.Context, notebookID uuid.UUID, in model.CellInput) (model.Cell, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM notebooks WHERE id = ?)`, notebookID.String(),
	).Scan(&exists); err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: check notebook: %w", err)
	}
	if !exists {
		return model.Cell{}, fmt.Errorf("sqlite: notebook %s: %w", notebookID, storage.ErrNotFound)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(cell_index) + 1, 0) FROM cells WHERE notebook_id = ?`,
		notebookID.String(),
	).Scan(&next); err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: next cell index: %w", err)
	}

	cell, err := insertCell(ctx, tx, notebookID, next, in, time.Now().UTC())
	if err != nil {
		return model.Cell{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return cell, nil
}

// GetCell retrieves a cell scoped to its notebook.
func (s *Store) GetCell(ctx context.Context, notebookID, cellID uuid.UUID) (model.Cell, error) {
	cell, err := scanCell(s.db.QueryRowContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE id = ? AND notebook_id = ?`,
		cellID.String(), notebookID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Cell{}, fmt.Errorf("sqlite: cell %s: %w", cellID, storage.ErrNotFound)
		}
		return model.Cell{}, fmt.Errorf("sqlite: get cell: %w", err)
	}
	return cell, nil
}

// ListCells returns the notebook's cells ordered by cell_index.
func (s *Store) ListCells(ctx context.Context, notebookID uuid.UUID) ([]model.Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE notebook_id = ? ORDER BY cell_index`,
		notebookID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list cells: %w", err)
	}
	defer rows.Close()

	var cells []model.Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// UpdateCellSpec applies a caller-supplied partial edit to a cell's
// definition fields.
func (s *Store) UpdateCellSpec(ctx context.Context, notebookID, cellID uuid.UUID, req model.UpdateCellRequest) (model.Cell, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if req.CellType != nil {
		sets = append(sets, "cell_type = ?")
		args = append(args, string(*req.CellType))
	}
	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
	}
	if req.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *req.Content)
	}
	if req.Dependencies != nil {
		deps, err := encodeJSON(*req.Dependencies, "[]")
		if err != nil {
			return model.Cell{}, fmt.Errorf("sqlite: encode dependencies: %w", err)
		}
		sets = append(sets, "dependencies = ?")
		args = append(args, deps)
	}
	args = append(args, cellID.String(), notebookID.String())

	res, err := s.db.ExecContext(ctx,
		`UPDATE cells SET `+strings.Join(sets, ", ")+` WHERE id = ? AND notebook_id = ?`,
		args...)
	if err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: update cell spec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Cell{}, fmt.Errorf("sqlite: update cell spec: %w", err)
	}
	if affected == 0 {
		return model.Cell{}, fmt.Errorf("sqlite: cell %s: %w", cellID, storage.ErrNotFound)
	}
	return s.GetCell(ctx, notebookID, cellID)
}

// DeleteCell removes a cell, repacks the remaining indexes densely, and
// purges references to the deleted cell from other cells' dependencies.
func (s *Store) DeleteCell(ctx context.Context, notebookID, cellID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var index int
	err = tx.QueryRowContext(ctx,
		`SELECT cell_index FROM cells WHERE id = ? AND notebook_id = ?`,
		cellID.String(), notebookID.String(),
	).Scan(&index)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: cell %s: %w", cellID, storage.ErrNotFound)
		}
		return fmt.Errorf("sqlite: delete cell: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE id = ?`, cellID.String()); err != nil {
		return fmt.Errorf("sqlite: delete cell: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE cells SET cell_index = cell_index - 1, updated_at = ?
		 WHERE notebook_id = ? AND cell_index > ?`,
		time.Now().UTC(), notebookID.String(), index); err != nil {
		return fmt.Errorf("sqlite: repack cell indexes: %w", err)
	}

	// Dependencies are JSON arrays; rewrite the ones that reference the
	// deleted cell.
	if err := purgeDependencies(ctx, tx, notebookID, cellID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func purgeDependencies(ctx context.Context, tx *sql.Tx, notebookID, cellID uuid.UUID) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, dependencies FROM cells
		 WHERE notebook_id = ? AND dependencies LIKE ?`,
		notebookID.String(), "%"+cellID.String()+"%")
	if err != nil {
		return fmt.Errorf("sqlite: find dependents: %w", err)
	}
	defer rows.Close()

	type patch struct {
		id   string
		deps string
	}
	var patches []patch
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("sqlite: scan dependent: %w", err)
		}
		var deps []uuid.UUID
		if err := json.Unmarshal([]byte(raw), &deps); err != nil {
			return fmt.Errorf("sqlite: decode dependencies: %w", err)
		}
		kept := deps[:0]
		for _, d := range deps {
			if d != cellID {
				kept = append(kept, d)
			}
		}
		encoded, err := encodeJSON(kept, "[]")
		if err != nil {
			return fmt.Errorf("sqlite: encode dependencies: %w", err)
		}
		patches = append(patches, patch{id: id, deps: encoded})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: find dependents: %w", err)
	}

	for _, p := range patches {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cells SET dependencies = ?, updated_at = ? WHERE id = ?`,
			p.deps, time.Now().UTC(), p.id); err != nil {
			return fmt.Errorf("sqlite: purge dependencies: %w", err)
		}
	}
	return nil
}

// UpdateCell applies a partial update of a cell's run-owned fields.
func (s *Store) UpdateCell(ctx context.Context, cellID uuid.UUID, upd storage.CellUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.OutputSet {
		if upd.Output == nil {
			sets = append(sets, "output = NULL")
		} else {
			out, err := json.Marshal(upd.Output)
			if err != nil {
				return fmt.Errorf("sqlite: encode output: %w", err)
			}
			sets = append(sets, "output = ?")
			args = append(args, string(out))
		}
	}
	switch {
	case upd.ErrorMessage != nil:
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	case upd.ClearError:
		sets = append(sets, "error_message = NULL")
	}
	if upd.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *upd.DurationMs)
	}
	args = append(args, cellID.String())

	res, err := s.db.ExecContext(ctx,
		`UPDATE cells SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update cell: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update cell: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlite: cell %s: %w", cellID, storage.ErrNotFound)
	}
	return nil
}

// AppendCellLog appends one record to the cell's execution log.
func (s *Store) AppendCellLog(ctx context.Context, cellID uuid.UUID, rec model.LogRecord) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_log FROM cells WHERE id = ?`, cellID.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: cell %s: %w", cellID, storage.ErrNotFound)
		}
		return fmt.Errorf("sqlite: append cell log: %w", err)
	}

	var log []model.LogRecord
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return fmt.Errorf("sqlite: decode execution log: %w", err)
	}
	log = append(log, rec)
	encoded, err := encodeJSON(log, "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode execution log: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE cells SET execution_log = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now().UTC(), cellID.String()); err != nil {
		return fmt.Errorf("sqlite: append cell log: %w", err)
	}
	return nil
}

// SkipCellsFrom marks every not-yet-terminal cell at or above fromIndex as
// skipped and returns how many were skipped.
func (s *Store) SkipCellsFrom(ctx context.Context, notebookID uuid.UUID, fromIndex int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cells SET status = 'skipped', updated_at = ?
		 WHERE notebook_id = ? AND cell_index >= ?
		   AND status NOT IN ('completed', 'error', 'skipped', 'rejected')`,
		time.Now().UTC(), notebookID.String(), fromIndex)
	if err != nil {
		return 0, fmt.Errorf("sqlite: skip cells: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: skip cells: %w", err)
	}
	return int(affected), nil
}

// ResetCells returns every cell of the notebook to idle, clearing outputs,
// errors, durations, and execution logs.
func (s *Store) ResetCells(ctx context.Context, notebookID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cells
		 SET status = 'idle', output = NULL, error_message = NULL,
		     duration_ms = NULL, execution_log = '[]', updated_at = ?
		 WHERE notebook_id = ?`,
		time.Now().UTC(), notebookID.String())
	if err != nil {
		return fmt.Errorf("sqlite: reset cells: %w", err)
	}
	return nil
}
