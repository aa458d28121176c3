// Package tool defines the tool capability contract and the name-keyed
// registry that supplies enumerable tool sets to the round-loop and the
// workflow parser.
package tool

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/taskflow/execlog"
	"github.com/BaSui01/taskflow/types"
)

// ExecContext is the slice of per-node execution state a tool may touch.
// The workflow package's ExecutionContext implements it; tools stay
// decoupled from the engine.
type ExecContext interface {
	// GetVariable reads a workflow-scoped shared variable.
	GetVariable(key string) (any, bool)
	// SetVariable writes a workflow-scoped shared variable. Writers must
	// tolerate last-write-wins semantics across interleaved nodes.
	SetVariable(key string, value any)
	// DeleteVariable removes a workflow-scoped shared variable.
	DeleteVariable(key string)
	// Logger returns the execution logger.
	Logger() *execlog.Logger
	// Aborted reports whether the workflow-wide abort flag is set.
	Aborted() bool
}

// Result is a tool's successful output. Value is JSON-serialized into the
// tool-result message; Images are folded in ahead of any text.
type Result struct {
	Value  any
	Images []types.ImageContent
}

// TextResult wraps a plain string result.
func TextResult(s string) *Result {
	return &Result{Value: s}
}

// Tool is a stateless capability from the core's perspective. Tools that
// hold live resources manage their own lifecycle and may additionally
// implement Destroyer.
type Tool interface {
	// Name returns the unique registry key.
	Name() string
	// Description returns the human/LLM-facing summary.
	Description() string
	// InputSchema returns the JSON Schema fragment describing parameters.
	InputSchema() json.RawMessage
	// Execute runs the tool against the given execution context.
	Execute(ctx context.Context, ec ExecContext, params json.RawMessage) (*Result, error)
}

// Destroyer is implemented by tools holding internal resources (a live
// browser handle, an open shell) that need explicit teardown.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Schema projects a tool's advertisement for the LLM, excluding execution
// logic.
func Schema(t Tool) types.ToolSchema {
	params := t.InputSchema()
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return types.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  params,
	}
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Parameters      json.RawMessage
	Fn              func(ctx context.Context, ec ExecContext, params json.RawMessage) (*Result, error)
}

// Name implements Tool.
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f *Func) Description() string { return f.ToolDescription }

// InputSchema implements Tool.
func (f *Func) InputSchema() json.RawMessage { return f.Parameters }

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, ec ExecContext, params json.RawMessage) (*Result, error) {
	return f.Fn(ctx, ec, params)
}
