package tool

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/time/rate"

	"github.com/BaSui01/taskflow/types"
)

// RegisterOption configures a tool at registration time.
type RegisterOption func(*entry)

// WithRateLimit caps a tool's execution rate. Exceeding the limit fails
// the call with a TOOL_RATE_LIMITED error fed back to the LLM like any
// other tool failure.
func WithRateLimit(limit rate.Limit, burst int) RegisterOption {
	return func(e *entry) {
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

type entry struct {
	tool    Tool
	limiter *rate.Limiter
}

// Registry is a name-keyed collection of tools preserving registration
// order. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. Duplicate names are rejected, not overwritten.
func (r *Registry) Register(t Tool, opts ...RegisterOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.entries[name]; exists {
		return types.NewErrorf(types.ErrToolDuplicate, "tool %q already registered", name)
	}
	e := &entry{tool: t}
	for _, opt := range opts {
		opt(e)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a tool, returning whether removal occurred.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the named tool or a TOOL_NOT_FOUND error.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrToolNotFound, "tool %q not found", name)
	}
	if e.limiter == nil {
		return e.tool, nil
	}
	return &limitedTool{Tool: e.tool, limiter: e.limiter}, nil
}

// Has reports whether a single tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// HasAll reports whether every requested name is registered.
func (r *Registry) HasAll(names []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if _, ok := r.entries[name]; !ok {
			return false
		}
	}
	return true
}

// Definitions projects name/description/input-schema for tool
// advertisement, in registration order.
func (r *Registry) Definitions() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Schema(r.entries[name].tool))
	}
	return defs
}

// Enum returns the registered tool names in registration order. The
// workflow JSON schema embeds this enumeration so externally generated
// workflows are constrained to registered tools at validation time.
func (r *Registry) Enum() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// DestroyAll tears down every registered tool implementing Destroyer.
// The first error is returned after all tools were offered teardown.
func (r *Registry) DestroyAll(ctx context.Context) error {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.entries[name].tool)
	}
	r.mu.RUnlock()

	var first error
	for _, t := range tools {
		if d, ok := t.(Destroyer); ok {
			if err := d.Destroy(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// limitedTool enforces a rate limiter in front of a tool's Execute.
type limitedTool struct {
	Tool
	limiter *rate.Limiter
}

func (lt *limitedTool) Execute(ctx context.Context, ec ExecContext, params json.RawMessage) (*Result, error) {
	if !lt.limiter.Allow() {
		return nil, types.NewErrorf(types.ErrToolRateLimit, "tool %q rate limit exceeded", lt.Name())
	}
	return lt.Tool.Execute(ctx, ec, params)
}
