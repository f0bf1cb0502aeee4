package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/renga/internal/engine"
)

func (s *Server) registerTools() {
	// renga_run — execute a notebook front to back.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_run",
			mcplib.WithDescription(`Execute a notebook's cells sequentially.

The run is synchronous: the call returns the final result, or a paused
result when an approval gate is reached. A paused result carries an
approval_token; pass it to renga_approve or renga_reject, then call
renga_run again with start_from_cell set to the returned continue_from
to resume.

Variables supplied here seed the run's variable context and are
available to cells via {{name}} placeholders. Each completed cell also
publishes cell_N_output and last_output for downstream cells.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("notebook_id",
				mcplib.Description("Notebook to run"),
				mcplib.Required(),
			),
			mcplib.WithObject("variables",
				mcplib.Description("Initial variables for the run, merged over any saved state"),
			),
			mcplib.WithNumber("start_from_cell",
				mcplib.Description("Cell index to start from. Use the continue_from value from an approval to resume a paused run."),
				mcplib.Min(0),
				mcplib.DefaultNumber(0),
			),
			mcplib.WithBoolean("stop_on_error",
				mcplib.Description("Stop at the first failing cell (default true). When false, failures mark the cell and execution continues."),
				mcplib.DefaultBool(true),
			),
		),
		s.handleRun,
	)

	// renga_run_cell — execute a single cell out of band.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_run_cell",
			mcplib.WithDescription(`Execute a single cell without starting a notebook run.

Useful for retrying one failed cell or probing a cell's output. The
notebook's saved variables seed the execution; the cell's output is
persisted back. Approval cells cannot be run this way.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("notebook_id", mcplib.Description("Notebook the cell belongs to"), mcplib.Required()),
			mcplib.WithString("cell_id", mcplib.Description("Cell to execute"), mcplib.Required()),
		),
		s.handleRunCell,
	)

	// renga_approve — clear an approval gate.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_approve",
			mcplib.WithDescription(`Approve a paused run's gate cell.

The response carries continue_from: call renga_run with
start_from_cell set to it to resume execution. The approval_token
comes from the paused run result or from renga_status.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("notebook_id", mcplib.Description("Paused notebook"), mcplib.Required()),
			mcplib.WithString("cell_id", mcplib.Description("The approval cell the run paused at"), mcplib.Required()),
			mcplib.WithString("approval_token", mcplib.Description("Signed token issued when the run paused"), mcplib.Required()),
		),
		s.handleApprove,
	)

	// renga_reject — fail a paused run at its gate.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_reject",
			mcplib.WithDescription(`Reject a paused run's gate cell.

The gate cell is marked rejected, all later cells are skipped, and the
run finishes failed. Use renga_reset to make the notebook runnable
again from scratch.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("notebook_id", mcplib.Description("Paused notebook"), mcplib.Required()),
			mcplib.WithString("cell_id", mcplib.Description("The approval cell the run paused at"), mcplib.Required()),
			mcplib.WithString("approval_token", mcplib.Description("Signed token issued when the run paused"), mcplib.Required()),
		),
		s.handleReject,
	)

	// renga_reset — return a notebook to a runnable idle state.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_reset",
			mcplib.WithDescription(`Reset a notebook: clear all cell results, saved variables, and run
state so the notebook can run again from the first cell. Fails while a
run is in flight; cancel it first.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("notebook_id", mcplib.Description("Notebook to reset"), mcplib.Required()),
		),
		s.handleReset,
	)

	// renga_cancel — stop an in-flight run.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_cancel",
			mcplib.WithDescription(`Cancel an in-flight run. A running notebook stops before its next
cell; the cell in progress is allowed to finish. A paused notebook is
finalized immediately with its pending cells skipped.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("notebook_id", mcplib.Description("Notebook with a run in flight"), mcplib.Required()),
		),
		s.handleCancel,
	)

	// renga_status — progress snapshot.
	s.mcpServer.AddTool(
		mcplib.NewTool("renga_status",
			mcplib.WithDescription(`Get a notebook's status: run state, per-cell results, and aggregate
progress counts. While the notebook is paused the response includes the
cell it paused at.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("notebook_id", mcplib.Description("Notebook to inspect"), mcplib.Required()),
		),
		s.handleStatus,
	)
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}

	opts := engine.DefaultRunOptions()
	opts.StartFromCell = request.GetInt("start_from_cell", 0)
	opts.StopOnError = request.GetBool("stop_on_error", true)
	if args := request.GetArguments(); args != nil {
		if vars, ok := args["variables"].(map[string]any); ok {
			opts.Variables = vars
		}
	}
	if opts.StartFromCell < 0 {
		return errorResult("start_from_cell must not be negative"), nil
	}

	result, err := s.engine.Run(ctx, notebookID, opts)
	if err != nil {
		return errorResult(fmt.Sprintf("run failed: %v", err)), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleRunCell(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}
	cellID, err := uuid.Parse(request.GetString("cell_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid cell_id: %v", err)), nil
	}

	result, err := s.engine.RunCell(ctx, notebookID, cellID)
	if err != nil {
		return errorResult(fmt.Sprintf("run cell failed: %v", err)), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}
	cellID, err := uuid.Parse(request.GetString("cell_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid cell_id: %v", err)), nil
	}
	token := request.GetString("approval_token", "")

	continueFrom, err := s.engine.Approve(ctx, notebookID, cellID, token)
	if err != nil {
		return errorResult(fmt.Sprintf("approve failed: %v", err)), nil
	}
	s.logger.Info("mcp approve", "notebook_id", notebookID, "cell_id", cellID)
	return jsonResult(map[string]any{
		"notebook_id":   notebookID,
		"cell_id":       cellID,
		"continue_from": continueFrom,
	}), nil
}

func (s *Server) handleReject(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}
	cellID, err := uuid.Parse(request.GetString("cell_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid cell_id: %v", err)), nil
	}
	token := request.GetString("approval_token", "")

	if err := s.engine.Reject(ctx, notebookID, cellID, token); err != nil {
		return errorResult(fmt.Sprintf("reject failed: %v", err)), nil
	}
	s.logger.Info("mcp reject", "notebook_id", notebookID, "cell_id", cellID)
	return jsonResult(map[string]any{
		"notebook_id": notebookID,
		"cell_id":     cellID,
		"status":      "rejected",
	}), nil
}

func (s *Server) handleReset(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}

	if err := s.engine.Reset(ctx, notebookID); err != nil {
		return errorResult(fmt.Sprintf("reset failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"notebook_id": notebookID,
		"status":      "reset",
	}), nil
}

func (s *Server) handleCancel(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}

	if err := s.engine.Cancel(ctx, notebookID); err != nil {
		return errorResult(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"notebook_id": notebookID,
		"status":      "cancellation requested",
	}), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	notebookID, err := uuid.Parse(request.GetString("notebook_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid notebook_id: %v", err)), nil
	}

	snapshot, err := s.statusSnapshot(ctx, notebookID)
	if err != nil {
		return errorResult(fmt.Sprintf("status failed: %v", err)), nil
	}
	return jsonResult(snapshot), nil
}
