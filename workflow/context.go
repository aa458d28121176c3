package workflow

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/BaSui01/taskflow/execlog"
	"github.com/BaSui01/taskflow/tool"
)

// Hooks are the caller-supplied lifecycle callbacks. Each field is
// optional. Before/After tool hooks may replace the input or result by
// returning a non-nil value.
type Hooks struct {
	BeforeWorkflow func(ctx context.Context, w *Workflow) error
	AfterWorkflow  func(ctx context.Context, w *Workflow, outputs []NodeOutput) error

	BeforeSubtask func(ctx context.Context, node *Node, ec *ExecutionContext) error
	AfterSubtask  func(ctx context.Context, node *Node, ec *ExecutionContext, output any) error

	BeforeToolUse func(ctx context.Context, toolName string, ec *ExecutionContext, input json.RawMessage) (json.RawMessage, error)
	AfterToolUse  func(ctx context.Context, toolName string, ec *ExecutionContext, result *tool.Result) (*tool.Result, error)

	OnHumanInputText           func(ctx context.Context, prompt string) (string, error)
	OnHumanInputSingleChoice   func(ctx context.Context, prompt string, options []string) (string, error)
	OnHumanInputMultipleChoice func(ctx context.Context, prompt string, options []string) ([]string, error)
	OnHumanConfirm             func(ctx context.Context, prompt string) (bool, error)
}

// ExecutionContext is the per-node mutable state bundle threaded through
// one node execution attempt. The engine creates a fresh one per attempt;
// nodes share nothing through it except the workflow Variables.
type ExecutionContext struct {
	workflow *Workflow
	node     *Node

	tools     map[string]tool.Tool
	toolOrder []string

	cancel   context.CancelFunc // this node's own token
	abortAll func()             // workflow-wide abort, reachable from any context
	aborted  *atomic.Bool       // workflow-wide flag, shared across contexts
	skip     atomic.Bool        // per-attempt veto set by hooks

	logger *execlog.Logger
	hooks  *Hooks
}

// Workflow returns the owning workflow.
func (ec *ExecutionContext) Workflow() *Workflow { return ec.workflow }

// Node returns the node this context was built for.
func (ec *ExecutionContext) Node() *Node { return ec.node }

// Hooks returns the lifecycle hooks (never nil).
func (ec *ExecutionContext) Hooks() *Hooks { return ec.hooks }

// Logger implements tool.ExecContext.
func (ec *ExecutionContext) Logger() *execlog.Logger { return ec.logger }

// GetVariable implements tool.ExecContext.
func (ec *ExecutionContext) GetVariable(key string) (any, bool) {
	return ec.workflow.Variables.Get(key)
}

// SetVariable implements tool.ExecContext.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	ec.workflow.Variables.Set(key, value)
}

// DeleteVariable implements tool.ExecContext.
func (ec *ExecutionContext) DeleteVariable(key string) {
	ec.workflow.Variables.Delete(key)
}

// Aborted implements tool.ExecContext: it reports the workflow-wide abort
// flag, checked at round boundaries to fail fast rather than continuing
// stale work.
func (ec *ExecutionContext) Aborted() bool {
	return ec.aborted != nil && ec.aborted.Load()
}

// AbortAll cancels every outstanding node token and sets the
// workflow-wide abort flag. It is not reversible mid-run.
func (ec *ExecutionContext) AbortAll() {
	if ec.abortAll != nil {
		ec.abortAll()
	}
}

// CancelNode cancels this node's own token only.
func (ec *ExecutionContext) CancelNode() {
	if ec.cancel != nil {
		ec.cancel()
	}
}

// RequestSkip asks the current attempt to be bypassed: a BeforeSubtask
// hook skips the node without executing its action, a BeforeToolUse hook
// skips the pending tool call without running the tool.
func (ec *ExecutionContext) RequestSkip() {
	ec.skip.Store(true)
}

// ConsumeSkip reads and clears the skip flag.
func (ec *ExecutionContext) ConsumeSkip() bool {
	return ec.skip.Swap(false)
}

// Tool returns a tool from the node's tool set.
func (ec *ExecutionContext) Tool(name string) (tool.Tool, bool) {
	t, ok := ec.tools[name]
	return t, ok
}

// Tools returns the node's tool set in deterministic order: registered
// tools first, then the action's own tools.
func (ec *ExecutionContext) Tools() []tool.Tool {
	out := make([]tool.Tool, 0, len(ec.toolOrder))
	for _, name := range ec.toolOrder {
		out = append(out, ec.tools[name])
	}
	return out
}

// AddTool adds a tool to this context only, overriding any registered
// tool of the same name. Built-in tools are injected this way by the
// round-loop.
func (ec *ExecutionContext) AddTool(t tool.Tool) {
	name := t.Name()
	if _, exists := ec.tools[name]; !exists {
		ec.toolOrder = append(ec.toolOrder, name)
	}
	ec.tools[name] = t
}

var _ tool.ExecContext = (*ExecutionContext)(nil)
