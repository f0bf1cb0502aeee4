package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
	"github.com/ashita-ai/renga/internal/telemetry"
)

// Engine executes notebook runs. A run walks the notebook's cells in
// cell_index order, threading a variable context from one cell to the next.
// Approval cells suspend the run; Approve and Reject resolve the gate.
type Engine struct {
	store    Store
	registry *Registry
	critic   Critic
	tokens   TokenIssuer
	sink     EventSink
	logger   *slog.Logger

	cellsExecuted metric.Int64Counter
	cellDuration  metric.Float64Histogram
	runsFinished  metric.Int64Counter
}

// Config carries the engine's collaborators. Store, Registry, and Logger are
// required; Critic, Tokens, and Sink are optional.
type Config struct {
	Store    Store
	Registry *Registry
	Critic   Critic
	Tokens   TokenIssuer
	Sink     EventSink
	Logger   *slog.Logger
}

// New creates an engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		store:    cfg.Store,
		registry: cfg.Registry,
		critic:   cfg.Critic,
		tokens:   cfg.Tokens,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
	}
	if e.sink == nil {
		e.sink = NoopSink{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	meter := telemetry.Meter("renga/engine")
	if c, err := meter.Int64Counter("renga.engine.cells_executed",
		metric.WithDescription("Cells executed, by type and outcome")); err == nil {
		e.cellsExecuted = c
	}
	if h, err := meter.Float64Histogram("renga.engine.cell_duration",
		metric.WithDescription("Cell execution duration"),
		metric.WithUnit("ms")); err == nil {
		e.cellDuration = h
	}
	if c, err := meter.Int64Counter("renga.engine.runs_finished",
		metric.WithDescription("Runs finished, by final status")); err == nil {
		e.runsFinished = c
	}
	return e
}

// RunOptions control a single run.
type RunOptions struct {
	// Variables seed the run's variable context.
	Variables map[string]any

	// StartFromCell is the cell_index to begin at. Cells below it that are
	// not already terminal are marked skipped.
	StartFromCell int

	// StopOnError halts the run at the first failing cell. When false the
	// run continues and finishes partial if any cell failed.
	StopOnError bool
}

// DefaultRunOptions returns the options a bare run request implies.
func DefaultRunOptions() RunOptions {
	return RunOptions{StopOnError: true}
}

// Run claims and executes a run over the notebook's cells. It returns once
// the run reaches a terminal status or pauses at an approval cell. A second
// Run against an in-flight notebook fails with ErrRunConflict.
func (e *Engine) Run(ctx context.Context, notebookID uuid.UUID, opts RunOptions) (*model.RunResult, error) {
	if opts.StartFromCell < 0 {
		opts.StartFromCell = 0
	}

	nb, err := e.store.ClaimRun(ctx, notebookID)
	if err != nil {
		return nil, mapStoreErr("claim run", err)
	}

	log := e.logger.With("notebook_id", notebookID)
	log.Info("run started", "start_from_cell", opts.StartFromCell)

	cells, err := e.store.ListCells(ctx, notebookID)
	if err != nil {
		return nil, e.abort(ctx, notebookID, fmt.Errorf("engine: list cells: %w", err))
	}

	vctx := NewVarContext()
	if opts.StartFromCell > 0 {
		vctx.Seed(nb.Variables)
	}
	vctx.Seed(opts.Variables)
	if err := e.store.SaveVariables(ctx, notebookID, vctx.Snapshot()); err != nil {
		return nil, e.abort(ctx, notebookID, fmt.Errorf("engine: save variables: %w", err))
	}

	e.publish(model.RunEvent{Type: model.RunEventRunStarted, NotebookID: notebookID})

	for i := range cells {
		c := &cells[i]
		if c.CellIndex < opts.StartFromCell {
			if !c.Status.Terminal() {
				e.setCellStatus(ctx, c.ID, model.CellStatusSkipped)
				e.publish(model.RunEvent{Type: model.RunEventCellSkipped, NotebookID: notebookID, CellID: &c.ID, CellIndex: &c.CellIndex})
			}
			continue
		}
		e.setCellStatus(ctx, c.ID, model.CellStatusQueued)
	}

	var firstErr *string

	for i := range cells {
		cell := cells[i]
		if cell.CellIndex < opts.StartFromCell {
			continue
		}

		if done, res, err := e.checkCancel(ctx, notebookID, cell.CellIndex, vctx, log); done {
			return res, err
		}

		if cell.CellType == model.CellTypeApprove {
			return e.pauseAt(ctx, notebookID, cell, vctx, log)
		}

		execErr := e.executeCell(ctx, notebookID, &cell, vctx, log)
		if execErr != nil {
			if firstErr == nil {
				msg := execErr.Error()
				firstErr = &msg
			}
			if opts.StopOnError {
				if _, err := e.store.SkipCellsFrom(ctx, notebookID, cell.CellIndex+1); err != nil {
					log.Error("skip trailing cells failed", "error", err)
				}
				return e.finish(ctx, notebookID, model.NotebookStatusFailed, firstErr, vctx, log)
			}
		}
	}

	final := model.NotebookStatusCompleted
	if firstErr != nil {
		final = model.NotebookStatusPartial
	}
	return e.finish(ctx, notebookID, final, firstErr, vctx, log)
}

// RunCell executes a single cell in isolation, outside any run. The notebook
// must not have a run in flight, and approval cells cannot be executed this
// way.
func (e *Engine) RunCell(ctx context.Context, notebookID, cellID uuid.UUID) (*model.CellResult, error) {
	nb, err := e.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return nil, mapStoreErr("run cell", err)
	}
	if nb.Status.InFlight() {
		return nil, fmt.Errorf("engine: run cell: notebook %s has a run in flight: %w", notebookID, ErrRunConflict)
	}

	cell, err := e.store.GetCell(ctx, notebookID, cellID)
	if err != nil {
		return nil, mapStoreErr("run cell", err)
	}
	if cell.CellType == model.CellTypeApprove {
		return nil, fmt.Errorf("engine: run cell: approval cells resolve via approve or reject: %w", ErrInvalidState)
	}

	vctx := NewVarContext()
	vctx.Seed(nb.Variables)

	log := e.logger.With("notebook_id", notebookID, "cell_id", cellID)
	execErr := e.executeCell(ctx, notebookID, &cell, vctx, log)

	updated, err := e.store.GetCell(ctx, notebookID, cellID)
	if err != nil {
		return nil, mapStoreErr("run cell", err)
	}
	res := cellResult(updated)
	if execErr != nil {
		return &res, nil
	}
	if err := e.store.SaveVariables(ctx, notebookID, vctx.Snapshot()); err != nil {
		log.Error("save variables failed", "error", err)
	}
	return &res, nil
}

// executeCell runs one cell through its registered executor and persists the
// resulting status, output, and timing. It returns the execution error, with
// the cell already marked on the store.
func (e *Engine) executeCell(ctx context.Context, notebookID uuid.UUID, cell *model.Cell, vctx *VarContext, log *slog.Logger) error {
	e.setCellStatus(ctx, cell.ID, model.CellStatusRunning)
	e.publish(model.RunEvent{Type: model.RunEventCellStarted, NotebookID: notebookID, CellID: &cell.ID, CellIndex: &cell.CellIndex})

	started := time.Now()
	output, execErr := e.lookupAndRun(ctx, cell, vctx)
	durationMs := time.Since(started).Milliseconds()

	outcome := "completed"
	if execErr != nil {
		outcome = "error"
	}
	e.recordCellMetrics(ctx, cell.CellType, outcome, durationMs)

	if execErr != nil {
		cellErr := &CellExecutionError{CellID: cell.ID, CellIndex: cell.CellIndex, Err: execErr}
		msg := execErr.Error()
		status := model.CellStatusError
		if err := e.store.UpdateCell(ctx, cell.ID, storage.CellUpdate{
			Status:       &status,
			ErrorMessage: &msg,
			DurationMs:   &durationMs,
		}); err != nil {
			log.Error("persist cell failure failed", "cell_id", cell.ID, "error", err)
		}
		e.appendLog(ctx, cell.ID, model.LogRecord{
			Kind:       model.LogKindTrace,
			RecordedAt: time.Now().UTC(),
			Message:    "execution failed: " + msg,
		})
		e.publish(model.RunEvent{Type: model.RunEventCellFailed, NotebookID: notebookID, CellID: &cell.ID, CellIndex: &cell.CellIndex, Message: msg})
		log.Warn("cell failed", "cell_id", cell.ID, "cell_index", cell.CellIndex, "error", execErr)
		return cellErr
	}

	vctx.Set(model.CellOutputKey(cell.CellIndex), output)
	vctx.Set(model.VarLastOutput, output)
	if err := e.store.SaveVariables(ctx, notebookID, vctx.Snapshot()); err != nil {
		log.Error("save variables failed", "cell_id", cell.ID, "error", err)
	}

	status := model.CellStatusCompleted
	if err := e.store.UpdateCell(ctx, cell.ID, storage.CellUpdate{
		Status:     &status,
		Output:     output,
		OutputSet:  true,
		ClearError: true,
		DurationMs: &durationMs,
	}); err != nil {
		log.Error("persist cell result failed", "cell_id", cell.ID, "error", err)
	}
	e.appendLog(ctx, cell.ID, model.LogRecord{
		Kind:       model.LogKindTrace,
		RecordedAt: time.Now().UTC(),
		Message:    fmt.Sprintf("completed in %dms", durationMs),
	})
	e.review(ctx, *cell, output)
	e.publish(model.RunEvent{Type: model.RunEventCellCompleted, NotebookID: notebookID, CellID: &cell.ID, CellIndex: &cell.CellIndex})
	log.Info("cell completed", "cell_id", cell.ID, "cell_index", cell.CellIndex, "duration_ms", durationMs)
	return nil
}

// lookupAndRun resolves the cell's executor and invokes it.
func (e *Engine) lookupAndRun(ctx context.Context, cell *model.Cell, vctx *VarContext) (any, error) {
	executor, err := e.registry.Lookup(cell.CellType)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, *cell, vctx.Snapshot())
}

// pauseAt suspends the run at an approval cell and returns a paused result.
func (e *Engine) pauseAt(ctx context.Context, notebookID uuid.UUID, cell model.Cell, vctx *VarContext, log *slog.Logger) (*model.RunResult, error) {
	e.setCellStatus(ctx, cell.ID, model.CellStatusPaused)
	if err := e.store.PauseRun(ctx, notebookID, cell.ID); err != nil {
		return nil, e.abort(ctx, notebookID, fmt.Errorf("engine: pause run: %w", err))
	}

	var token string
	if e.tokens != nil {
		t, err := e.tokens.Issue(notebookID, cell.ID)
		if err != nil {
			log.Error("issue approval token failed", "cell_id", cell.ID, "error", err)
		} else {
			token = t
		}
	}

	e.appendLog(ctx, cell.ID, model.LogRecord{
		Kind:       model.LogKindTrace,
		RecordedAt: time.Now().UTC(),
		Message:    "awaiting approval",
	})
	e.publish(model.RunEvent{Type: model.RunEventRunPaused, NotebookID: notebookID, CellID: &cell.ID, CellIndex: &cell.CellIndex})
	log.Info("run paused", "cell_id", cell.ID, "cell_index", cell.CellIndex)

	res, err := e.buildResult(ctx, notebookID, model.NotebookStatusPaused, vctx)
	if err != nil {
		return nil, err
	}
	res.PausedAtCell = &cell.ID
	res.ApprovalToken = token
	return res, nil
}

// checkCancel inspects the notebook's cancel flag at a cell boundary and, if
// set, finishes the run as cancelled. The first return value reports whether
// the run is over.
func (e *Engine) checkCancel(ctx context.Context, notebookID uuid.UUID, fromIndex int, vctx *VarContext, log *slog.Logger) (bool, *model.RunResult, error) {
	cancelled := false
	if err := ctx.Err(); err != nil {
		cancelled = true
		ctx = context.WithoutCancel(ctx)
	} else {
		fresh, err := e.store.GetNotebook(ctx, notebookID)
		if err != nil {
			log.Error("cancel check failed", "error", err)
		} else if fresh.CancelRequested {
			cancelled = true
		}
	}
	if !cancelled {
		return false, nil, nil
	}

	if _, err := e.store.SkipCellsFrom(ctx, notebookID, fromIndex); err != nil {
		log.Error("skip trailing cells failed", "error", err)
	}
	res, err := e.finish(ctx, notebookID, model.NotebookStatusCancelled, nil, vctx, log)
	return true, res, err
}

// finish marks the run terminal on the store, emits the closing event, and
// builds the result from the cells' final states. The final status is
// derived from persisted cell state, not just the errors the current loop
// saw: a resumed run inherits failures from before the pause.
func (e *Engine) finish(ctx context.Context, notebookID uuid.UUID, status model.NotebookStatus, errorMessage *string, vctx *VarContext, log *slog.Logger) (*model.RunResult, error) {
	res, err := e.buildResult(ctx, notebookID, status, vctx)
	if err != nil {
		return nil, err
	}
	if status == model.NotebookStatusCompleted && res.CellsFailed > 0 {
		status = model.NotebookStatusPartial
		res.Status = status
		if errorMessage == nil {
			for _, cr := range res.Results {
				if cr.Status == model.CellStatusError && cr.Error != nil {
					errorMessage = cr.Error
					break
				}
			}
		}
	}

	if err := e.store.FinishRun(ctx, notebookID, status, errorMessage); err != nil {
		log.Error("finish run failed", "status", status, "error", err)
	}
	if e.runsFinished != nil {
		e.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}

	evType := model.RunEventRunCompleted
	msg := ""
	switch status {
	case model.NotebookStatusFailed:
		evType = model.RunEventRunFailed
		if errorMessage != nil {
			msg = *errorMessage
		}
	case model.NotebookStatusCancelled:
		evType = model.RunEventRunCancelled
	}
	e.publish(model.RunEvent{Type: evType, NotebookID: notebookID, Message: msg})
	log.Info("run finished", "status", status)
	return res, nil
}

// buildResult re-reads the notebook's cells and aggregates them into a
// RunResult.
func (e *Engine) buildResult(ctx context.Context, notebookID uuid.UUID, status model.NotebookStatus, vctx *VarContext) (*model.RunResult, error) {
	cells, err := e.store.ListCells(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("engine: build result: %w", err)
	}

	res := &model.RunResult{
		NotebookID: notebookID,
		Status:     status,
		CellsTotal: len(cells),
		Variables:  vctx.Snapshot(),
		Results:    make([]model.CellResult, 0, len(cells)),
	}
	for _, c := range cells {
		res.Results = append(res.Results, cellResult(c))
		switch c.Status {
		case model.CellStatusCompleted:
			res.CellsCompleted++
		case model.CellStatusError, model.CellStatusRejected:
			res.CellsFailed++
		case model.CellStatusSkipped:
			res.CellsSkipped++
		}
	}
	return res, nil
}

// abort best-effort marks the run failed after an infrastructure error and
// returns the error.
func (e *Engine) abort(ctx context.Context, notebookID uuid.UUID, err error) error {
	msg := err.Error()
	if ferr := e.store.FinishRun(context.WithoutCancel(ctx), notebookID, model.NotebookStatusFailed, &msg); ferr != nil {
		e.logger.Error("abort: finish run failed", "notebook_id", notebookID, "error", ferr)
	}
	return err
}

func (e *Engine) review(ctx context.Context, cell model.Cell, output any) {
	if e.critic == nil {
		return
	}
	rec, err := e.critic.Review(ctx, cell, output)
	if err != nil {
		e.logger.Warn("critic review failed", "cell_id", cell.ID, "error", err)
		return
	}
	e.appendLog(ctx, cell.ID, model.LogRecord{
		Kind:       model.LogKindReview,
		RecordedAt: time.Now().UTC(),
		Review:     &rec,
	})
}

func (e *Engine) setCellStatus(ctx context.Context, cellID uuid.UUID, status model.CellStatus) {
	if err := e.store.UpdateCell(ctx, cellID, storage.CellUpdate{Status: &status}); err != nil {
		e.logger.Error("set cell status failed", "cell_id", cellID, "status", status, "error", err)
	}
}

func (e *Engine) appendLog(ctx context.Context, cellID uuid.UUID, rec model.LogRecord) {
	if err := e.store.AppendCellLog(ctx, cellID, rec); err != nil {
		e.logger.Error("append cell log failed", "cell_id", cellID, "error", err)
	}
}

func (e *Engine) recordCellMetrics(ctx context.Context, cellType model.CellType, outcome string, durationMs int64) {
	attrs := metric.WithAttributes(
		attribute.String("cell_type", string(cellType)),
		attribute.String("outcome", outcome),
	)
	if e.cellsExecuted != nil {
		e.cellsExecuted.Add(ctx, 1, attrs)
	}
	if e.cellDuration != nil {
		e.cellDuration.Record(ctx, float64(durationMs), attrs)
	}
}

func (e *Engine) publish(ev model.RunEvent) {
	ev.OccurredAt = time.Now().UTC()
	e.sink.Publish(ev)
}

func mapStoreErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("engine: %s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("engine: %s: %w", op, ErrRunConflict)
	}
	return fmt.Errorf("engine: %s: %w", op, err)
}

func cellResult(c model.Cell) model.CellResult {
	res := model.CellResult{
		CellID:    c.ID,
		CellIndex: c.CellIndex,
		CellType:  c.CellType,
		Status:    c.Status,
		Output:    c.Output,
	}
	res.Error = c.ErrorMessage
	if c.DurationMs != nil {
		res.ExecutionTimeMs = *c.DurationMs
	}
	return res
}
