// Package workflow implements the DAG execution core: the workflow/node
// model, per-node execution contexts, lifecycle hooks, and the engine that
// resolves dependencies, schedules concurrent terminal branches, and
// aggregates outputs.
package workflow

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/tool"
)

// NodeOutput is a node's declared output contract plus the value slot,
// filled at most once during a successful execution.
type NodeOutput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Value       any             `json:"value,omitempty"`
}

// NodeInput pairs a dependency's ID with its finished output. A skipped
// dependency contributes its output with a nil Value.
type NodeInput struct {
	NodeID string     `json:"node_id"`
	Output NodeOutput `json:"output"`
}

// Action is the executable behavior of a node. One Action instance maps
// 1:1 to one Node; instances carry per-run bookkeeping and must not be
// shared across nodes.
type Action interface {
	// Type returns the action type tag ("prompt").
	Type() string
	// Tools returns the action's own tools, merged with registered tools
	// into the node's execution context.
	Tools() []tool.Tool
	// Execute drives the node to a resolved output value.
	Execute(ctx context.Context, ec *ExecutionContext, node *Node) (any, error)
}

// Node is a unit of work in the workflow DAG. Dependencies reference other
// nodes by ID; the node runs only after all of them have executed.
type Node struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	Description  string      `json:"description,omitempty"`
	Dependencies []string    `json:"dependencies,omitempty"`
	Input        []NodeInput `json:"input,omitempty"`
	Output       NodeOutput  `json:"output"`
	Action       Action      `json:"-"`
}

// Workflow is a graph of nodes plus the run-scoped shared variable store.
type Workflow struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Nodes       []*Node       `json:"nodes"`
	Variables   *Variables    `json:"-"`
	Provider    llm.Provider  `json:"-"`
}

// NewWorkflow creates a workflow with an empty variable store.
func NewWorkflow(id, name, description string) *Workflow {
	return &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		Variables:   NewVariables(nil),
	}
}

// Node returns the node with the given ID, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// TerminalNodes returns the nodes no other node depends on — the
// consumer-facing roots execution fans out from.
func (w *Workflow) TerminalNodes() []*Node {
	depended := make(map[string]bool)
	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			depended[dep] = true
		}
	}
	var terminals []*Node
	for _, n := range w.Nodes {
		if !depended[n.ID] {
			terminals = append(terminals, n)
		}
	}
	return terminals
}

// Variables is the workflow-scoped shared mutable store. Mutations are
// visible across all nodes of one run; writers tolerate last-write-wins
// semantics. It is owned by the Workflow, never ambient state, so
// concurrent workflow runs cannot cross-talk.
type Variables struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewVariables creates a store seeded from initial (which is copied).
func NewVariables(initial map[string]any) *Variables {
	vars := make(map[string]any, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &Variables{vars: vars}
}

// Get reads a variable.
func (v *Variables) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.vars[key]
	return val, ok
}

// Set writes a variable.
func (v *Variables) Set(key string, value any) {
	v.mu.Lock()
	v.vars[key] = value
	v.mu.Unlock()
}

// Delete removes a variable.
func (v *Variables) Delete(key string) {
	v.mu.Lock()
	delete(v.vars, key)
	v.mu.Unlock()
}

// Snapshot returns a copy of the current store.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.vars))
	for k, val := range v.vars {
		out[k] = val
	}
	return out
}

// Len returns the number of stored variables.
func (v *Variables) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vars)
}
