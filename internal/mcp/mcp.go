// Package mcp implements the Model Context Protocol server for Renga.
//
// The MCP server exposes notebook execution through MCP tools and
// resources, allowing MCP-compatible AI agents to drive runs, answer
// approval gates, and inspect progress without the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/renga/internal/engine"
	"github.com/ashita-ai/renga/internal/model"
)

// Store is the storage surface the MCP server reads from.
type Store interface {
	GetNotebook(ctx context.Context, id uuid.UUID) (model.Notebook, error)
	ListNotebooks(ctx context.Context, limit, offset int) ([]model.Notebook, int, error)
	ListCells(ctx context.Context, notebookID uuid.UUID) ([]model.Cell, error)
}

// Server wraps the MCP server with Renga's execution engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     Store
	engine    *engine.Engine
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(store Store, eng *engine.Engine, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		engine: eng,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"renga",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// renga://notebooks — notebook inventory with run states.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"renga://notebooks",
			"Notebooks",
			mcplib.WithResourceDescription("All notebooks with their current run states"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleNotebooksResource,
	)

	// renga://notebook/{id}/status — progress snapshot for one notebook.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"renga://notebook/{id}/status",
			"Notebook Status",
			mcplib.WithTemplateDescription("Progress snapshot for a specific notebook"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleStatusResource,
	)
}

func (s *Server) handleNotebooksResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	notebooks, total, err := s.store.ListNotebooks(ctx, 100, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: list notebooks: %w", err)
	}
	data, err := json.Marshal(map[string]any{
		"notebooks": notebooks,
		"total":     total,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal notebooks: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleStatusResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id, err := notebookIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.statusSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) statusSnapshot(ctx context.Context, id uuid.UUID) (model.StatusResponse, error) {
	nb, err := s.store.GetNotebook(ctx, id)
	if err != nil {
		return model.StatusResponse{}, fmt.Errorf("mcp: get notebook: %w", err)
	}
	cells, err := s.store.ListCells(ctx, id)
	if err != nil {
		return model.StatusResponse{}, fmt.Errorf("mcp: list cells: %w", err)
	}
	return model.StatusResponse{
		Notebook: nb,
		Cells:    cells,
		Progress: model.AggregateProgress(cells),
	}, nil
}

// notebookIDFromURI extracts the notebook UUID from a renga://notebook/{id}/...
// resource URI.
func notebookIDFromURI(uri string) (uuid.UUID, error) {
	const prefix = "renga://notebook/"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return uuid.Nil, fmt.Errorf("mcp: unexpected resource URI %q", uri)
	}
	rest := uri[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			rest = rest[:i]
			break
		}
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid notebook id in URI %q: %w", uri, err)
	}
	return id, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
