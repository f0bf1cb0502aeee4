package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/renga/internal/model"
)

const cellColumns = `id, notebook_id, cell_index, cell_type, title, content, status,
	output, error_message, duration_ms, dependencies, execution_log,
	reasoning, tools_used, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanCell(row rowScanner) (model.Cell, error) {
	var c model.Cell
	var output, deps, log, tools []byte
	err := row.Scan(
		&c.ID, &c.NotebookID, &c.CellIndex, &c.CellType, &c.Title, &c.Content,
		&c.Status, &output, &c.ErrorMessage, &c.DurationMs, &deps, &log,
		&c.Reasoning, &tools, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Cell{}, err
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &c.Output); err != nil {
			return model.Cell{}, fmt.Errorf("decode output: %w", err)
		}
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &c.Dependencies); err != nil {
			return model.Cell{}, fmt.Errorf("decode dependencies: %w", err)
		}
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &c.ExecutionLog); err != nil {
			return model.Cell{}, fmt.Errorf("decode execution log: %w", err)
		}
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &c.ToolsUsed); err != nil {
			return model.Cell{}, fmt.Errorf("decode tools used: %w", err)
		}
	}
	return c, nil
}

func insertCell(ctx context.Context, q querier, notebookID uuid.UUID, index int, in model.CellInput, now time.Time) (model.Cell, error) {
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

	deps, err := json.Marshal(cell.Dependencies)
	if err != nil {
		return model.Cell{}, fmt.Errorf("storage: encode dependencies: %w", err)
	}
	if cell.Dependencies == nil {
		deps = []byte(`[]`)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO cells (id, notebook_id, cell_index, cell_type, title, content, status, dependencies, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cell.ID, cell.NotebookID, cell.CellIndex, string(cell.CellType),
		cell.Title, cell.Content, string(cell.Status), deps, cell.CreatedAt, cell.UpdatedAt,
	)
	if err != nil {
		return model.Cell{}, fmt.Errorf("storage: insert cell: %w", err)
	}
	return cell, nil
}

// AddCell appends a cell at the end of the notebook's order.
func (db *DB) AddCell(ctx context.Context, notebookID uuid.UUID, in model.CellInput) (model.Cell, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Cell{}, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notebooks WHERE id = $1)`, notebookID,
	).Scan(&exists); err != nil {
		return model.Cell{}, fmt.Errorf("storage: check notebook: %w", err)
	}
	if !exists {
		return model.Cell{}, fmt.Errorf("storage: notebook %s: %w", notebookID, ErrNotFound)
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(cell_index) + 1, 0) FROM cells WHERE notebook_id = $1`, notebookID,
	).Scan(&next); err != nil {
		return model.Cell{}, fmt.Errorf("storage: next cell index: %w", err)
	}

	cell, err := insertCell(ctx, tx, notebookID, next, in, time.Now().UTC())
	if err != nil {
		return model.Cell{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Cell{}, fmt.Errorf("storage: commit: %w", err)
	}
	return cell, nil
}

// GetCell retrieves a cell scoped to its notebook.
func (db *DB) GetCell(ctx context.Context, notebookID, cellID uuid.UUID) (model.Cell, error) {
	cell, err := scanCell(db.pool.QueryRow(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE id = $1 AND notebook_id = $2`,
		cellID, notebookID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Cell{}, fmt.Errorf("storage: cell %s: %w", cellID, ErrNotFound)
		}
		return model.Cell{}, fmt.Errorf("storage: get cell: %w", err)
	}
	return cell, nil
}

// ListCells returns the notebook's cells ordered by cell_index.
func (db *DB) ListCells(ctx context.Context, notebookID uuid.UUID) ([]model.Cell, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE notebook_id = $1 ORDER BY cell_index`,
		notebookID)
	if err != nil {
		return nil, fmt.Errorf("storage: list cells: %w", err)
	}
	defer rows.Close()

	var cells []model.Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// UpdateCellSpec applies a caller-supplied partial edit to a cell's
// definition fields. Nil fields are left unchanged.
func (db *DB) UpdateCellSpec(ctx context.Context, notebookID, cellID uuid.UUID, req model.UpdateCellRequest) (model.Cell, error) {
	sets := []string{"updated_at = now()"}
	args := []any{cellID, notebookID}
	n := 3

	if req.CellType != nil {
		sets = append(sets, fmt.Sprintf("cell_type = $%d", n))
		args = append(args, string(*req.CellType))
		n++
	}
	if req.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", n))
		args = append(args, *req.Title)
		n++
	}
	if req.Content != nil {
		sets = append(sets, fmt.Sprintf("content = $%d", n))
		args = append(args, *req.Content)
		n++
	}
	if req.Dependencies != nil {
		deps, err := json.Marshal(*req.Dependencies)
		if err != nil {
			return model.Cell{}, fmt.Errorf("storage: encode dependencies: %w", err)
		}
		if *req.Dependencies == nil {
			deps = []byte(`[]`)
		}
		sets = append(sets, fmt.Sprintf("dependencies = $%d", n))
		args = append(args, deps)
		n++
	}

	query := `UPDATE cells SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND notebook_id = $2 RETURNING ` + cellColumns
	cell, err := scanCell(db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Cell{}, fmt.Errorf("storage: cell %s: %w", cellID, ErrNotFound)
		}
		return model.Cell{}, fmt.Errorf("storage: update cell spec: %w", err)
	}
	return cell, nil
}

// DeleteCell removes a cell, repacks the remaining indexes densely, and
// purges references to the deleted cell from other cells' dependencies.
func (db *DB) DeleteCell(ctx context.Context, notebookID, cellID uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var index int
	err = tx.QueryRow(ctx,
		`DELETE FROM cells WHERE id = $1 AND notebook_id = $2 RETURNING cell_index`,
		cellID, notebookID,
	).Scan(&index)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: cell %s: %w", cellID, ErrNotFound)
		}
		return fmt.Errorf("storage: delete cell: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE cells SET cell_index = cell_index - 1, updated_at = now()
		 WHERE notebook_id = $1 AND cell_index > $2`,
		notebookID, index); err != nil {
		return fmt.Errorf("storage: repack cell indexes: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE cells SET dependencies = dependencies - $1, updated_at = now()
		 WHERE notebook_id = $2 AND dependencies ? $1`,
		cellID.String(), notebookID); err != nil {
		return fmt.Errorf("storage: purge dependencies: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// UpdateCell applies a partial update of a cell's run-owned fields.
func (db *DB) UpdateCell(ctx context.Context, cellID uuid.UUID, upd CellUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{cellID}
	n := 2

	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", n))
		args = append(args, string(*upd.Status))
		n++
	}
	if upd.OutputSet {
		var out []byte
		if upd.Output != nil {
			var err error
			out, err = json.Marshal(upd.Output)
			if err != nil {
				return fmt.Errorf("storage: encode output: %w", err)
			}
		}
		sets = append(sets, fmt.Sprintf("output = $%d", n))
		args = append(args, out)
		n++
	}
	switch {
	case upd.ErrorMessage != nil:
		sets = append(sets, fmt.Sprintf("error_message = $%d", n))
		args = append(args, *upd.ErrorMessage)
		n++
	case upd.ClearError:
		sets = append(sets, "error_message = NULL")
	}
	if upd.DurationMs != nil {
		sets = append(sets, fmt.Sprintf("duration_ms = $%d", n))
		args = append(args, *upd.DurationMs)
		n++
	}

	query := `UPDATE cells SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("storage: update cell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: cell %s: %w", cellID, ErrNotFound)
	}
	return nil
}

// AppendCellLog appends one record to the cell's execution log.
func (db *DB) AppendCellLog(ctx context.Context, cellID uuid.UUID, rec model.LogRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: encode log record: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE cells SET execution_log = execution_log || $1::jsonb, updated_at = now()
		 WHERE id = $2`, encoded, cellID)
	if err != nil {
		return fmt.Errorf("storage: append cell log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: cell %s: %w", cellID, ErrNotFound)
	}
	return nil
}

// SkipCellsFrom marks every not-yet-terminal cell at or above fromIndex as
// skipped and returns how many were skipped.
func (db *DB) SkipCellsFrom(ctx context.Context, notebookID uuid.UUID, fromIndex int) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE cells SET status = 'skipped', updated_at = now()
		 WHERE notebook_id = $1 AND cell_index >= $2
		   AND status NOT IN ('completed', 'error', 'skipped', 'rejected')`,
		notebookID, fromIndex)
	if err != nil {
		return 0, fmt.Errorf("storage: skip cells: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetCells returns every cell of the notebook to idle, clearing outputs,
// errors, durations, and execution logs.
func (db *DB) ResetCells(ctx context.Context, notebookID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE cells
		 SET status = 'idle', output = NULL, error_message = NULL,
		     duration_ms = NULL, execution_log = '[]'::jsonb, updated_at = now()
		 WHERE notebook_id = $1`, notebookID)
	if err != nil {
		return fmt.Errorf("storage: reset cells: %w", err)
	}
	return nil
}
