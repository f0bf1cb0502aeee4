package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashita-ai/renga/internal/model"
)

// Executor runs one cell of a given type. The returned output is stored on
// the cell and fed into the variable context; a non-nil error is captured
// as the cell's error status, never raised.
type Executor interface {
	Execute(ctx context.Context, cell model.Cell, vars map[string]any) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cell model.Cell, vars map[string]any) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cell model.Cell, vars map[string]any) (any, error) {
	return f(ctx, cell, vars)
}

// Registry maps cell types to executors. The set is open: callers register
// new types (webhook, delay, ...) without touching the engine. Approval
// cells are not registered here — suspension is run-loop control flow, not
// work.
type Registry struct {
	mu        sync.RWMutex
	executors map[model.CellType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[model.CellType]Executor)}
}

// DefaultRegistry returns a registry with the built-in cell types:
// command cells delegate to the Tool Invoker, note cells are a no-op.
func DefaultRegistry(invoker ToolInvoker) *Registry {
	r := NewRegistry()
	r.Register(model.CellTypeCommand, ExecutorFunc(
		func(ctx context.Context, cell model.Cell, vars map[string]any) (any, error) {
			return invoker.Invoke(ctx, cell, vars)
		}))
	r.Register(model.CellTypeNote, ExecutorFunc(
		func(ctx context.Context, cell model.Cell, vars map[string]any) (any, error) {
			return nil, nil
		}))
	return r
}

// Register adds or replaces the executor for a cell type.
func (r *Registry) Register(t model.CellType, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Lookup returns the executor for a cell type.
func (r *Registry) Lookup(t model.CellType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for cell type %q", t)
	}
	return e, nil
}
