package engine

import (
	"maps"
	"sync"
)

// VarContext is the mutable key-value state threaded through a single run.
// It carries caller-supplied inputs and prior cell outputs. A run owns its
// context exclusively; the mutex only guards against observers (SSE status
// reads) racing the run loop.
type VarContext struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewVarContext creates an empty variable context.
func NewVarContext() *VarContext {
	return &VarContext{vars: make(map[string]any)}
}

// Seed merges the given inputs into the context. Later seeds override
// earlier ones key by key.
func (c *VarContext) Seed(inputs map[string]any) {
	if len(inputs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.vars, inputs)
}

// Set stores a single value.
func (c *VarContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[key] = value
}

// Get returns the value for key. Unknown keys resolve to (nil, false);
// substitution of absent keys in cell content is the Tool Invoker's
// concern, not this type's.
func (c *VarContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// Snapshot returns an independent copy of the current state for result
// reporting and invoker calls.
func (c *VarContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.vars))
	maps.Copy(out, c.vars)
	return out
}

// Len returns the number of entries.
func (c *VarContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vars)
}
