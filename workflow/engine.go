package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/taskflow/execlog"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/persistence"
	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
)

type nodeState int

const (
	nodeNotStarted nodeState = iota
	nodeExecuting
	nodeExecuted
	nodeFailed
)

// nodeRun is one node's in-flight execution state. The insert-if-absent
// pattern on the runs map is the mutual-exclusion guard against duplicate
// concurrent entry into the same node: the second entrant waits on done
// instead of executing twice.
type nodeRun struct {
	state nodeState
	done  chan struct{}
	err   error
}

// Engine executes a workflow's nodes respecting dependency order, with
// cooperative concurrency across terminal branches, cancellation, and
// cycle protection.
type Engine struct {
	wf       *Workflow
	registry *tool.Registry
	hooks    *Hooks
	logger   *execlog.Logger
	metrics  *metrics.Collector
	store    persistence.RunStore
	tracer   trace.Tracer

	mu        sync.Mutex
	runs      map[string]*nodeRun
	cancels   map[string]context.CancelFunc
	runCancel context.CancelFunc

	aborted atomic.Bool
	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry supplies the shared tool registry merged into every node's
// execution context.
func WithRegistry(r *tool.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithHooks supplies lifecycle callbacks.
func WithHooks(h *Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger supplies the execution logger.
func WithLogger(l *execlog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithRunStore records a persistence.RunRecord per Execute call.
func WithRunStore(s persistence.RunStore) Option {
	return func(e *Engine) { e.store = s }
}

// NewEngine creates an engine for the given workflow.
func NewEngine(wf *Workflow, opts ...Option) *Engine {
	e := &Engine{
		wf:     wf,
		hooks:  &Hooks{},
		logger: execlog.New(nil, execlog.LevelInfo, 0),
		tracer: otel.Tracer("github.com/BaSui01/taskflow/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks == nil {
		e.hooks = &Hooks{}
	}
	return e
}

// Workflow returns the engine's workflow.
func (e *Engine) Workflow() *Workflow { return e.wf }

// Validate reports whether the dependency graph is acyclic. It uses a
// depth-first search with a recursion stack; any node reachable from
// itself through dependency edges makes the graph invalid.
func (e *Engine) Validate() bool {
	const (
		white = 0 // unvisited
		grey  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(e.wf.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case grey:
			return false
		case black:
			return true
		}
		color[id] = grey
		if n := e.wf.Node(id); n != nil {
			for _, dep := range n.Dependencies {
				if !visit(dep) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}

	for _, n := range e.wf.Nodes {
		if !visit(n.ID) {
			return false
		}
	}
	return true
}

// validateStructure is the fail-fast check run before every execution.
func (e *Engine) validateStructure() error {
	seen := make(map[string]bool, len(e.wf.Nodes))
	for _, n := range e.wf.Nodes {
		if n.ID == "" {
			return types.NewError(types.ErrInvalidWorkflow, "node with empty ID")
		}
		if seen[n.ID] {
			return types.NewErrorf(types.ErrDuplicateNode, "duplicate node ID %q", n.ID)
		}
		seen[n.ID] = true
		if n.Action == nil {
			return types.NewErrorf(types.ErrInvalidWorkflow, "node %q has no action", n.ID)
		}
	}
	for _, n := range e.wf.Nodes {
		for _, dep := range n.Dependencies {
			if !seen[dep] {
				return types.NewErrorf(types.ErrUnresolvedDep, "node %q depends on unknown node %q", n.ID, dep).WithNode(n.ID)
			}
		}
	}
	if !e.Validate() {
		return types.NewError(types.ErrCycleDetected, "dependency graph contains a cycle")
	}
	return nil
}

// Execute runs the workflow: terminal nodes are fanned out concurrently
// and each recursively resolves its dependencies first. It returns the
// terminal nodes' outputs, or the first structural/cancellation failure.
// Partially completed node outputs remain observable on the workflow even
// when Execute fails; there is no automatic rollback.
func (e *Engine) Execute(ctx context.Context) ([]NodeOutput, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, types.NewError(types.ErrExecutionActive, "workflow is already executing")
	}
	defer e.running.Store(false)

	e.aborted.Store(false)
	e.mu.Lock()
	e.runs = make(map[string]*nodeRun, len(e.wf.Nodes))
	e.cancels = make(map[string]context.CancelFunc)
	e.mu.Unlock()

	if err := e.validateStructure(); err != nil {
		e.logger.Error("workflow validation failed", zap.String("workflow_id", e.wf.ID), zap.Error(err))
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(attribute.String("workflow.id", e.wf.ID)))
	defer span.End()

	e.metrics.WorkflowStarted()
	defer e.metrics.WorkflowFinished()

	if e.hooks.BeforeWorkflow != nil {
		if err := e.hooks.BeforeWorkflow(ctx, e.wf); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()

	rec := &persistence.RunRecord{
		ID:         uuid.NewString(),
		WorkflowID: e.wf.ID,
		Status:     persistence.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	e.saveRun(ctx, rec)

	e.logger.Info("workflow execution started",
		zap.String("workflow_id", e.wf.ID),
		zap.String("run_id", rec.ID),
		zap.Int("nodes", len(e.wf.Nodes)))

	terminals := e.wf.TerminalNodes()
	g, gctx := errgroup.WithContext(runCtx)
	for _, n := range terminals {
		g.Go(func() error {
			return e.executeNode(gctx, n.ID, make(map[string]bool))
		})
	}
	err := g.Wait()

	rec.FinishedAt = time.Now()
	rec.Variables = e.wf.Variables.Snapshot()

	if err != nil {
		rec.Status = persistence.RunStatusFailed
		if types.IsCanceled(err) {
			rec.Status = persistence.RunStatusCanceled
		}
		rec.Error = err.Error()
		e.saveRun(ctx, rec)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("workflow execution failed",
			zap.String("workflow_id", e.wf.ID),
			zap.String("run_id", rec.ID),
			zap.Error(err))
		return nil, err
	}

	outputs := make([]NodeOutput, 0, len(terminals))
	rec.Outputs = make(map[string]any, len(terminals))
	for _, n := range terminals {
		outputs = append(outputs, n.Output)
		rec.Outputs[n.ID] = n.Output.Value
	}
	if e.hooks.AfterWorkflow != nil {
		if err := e.hooks.AfterWorkflow(ctx, e.wf, outputs); err != nil {
			rec.Status = persistence.RunStatusFailed
			rec.Error = err.Error()
			e.saveRun(ctx, rec)
			return outputs, err
		}
	}

	rec.Status = persistence.RunStatusCompleted
	e.saveRun(ctx, rec)

	e.logger.Info("workflow execution completed",
		zap.String("workflow_id", e.wf.ID),
		zap.String("run_id", rec.ID),
		zap.Int("terminal_outputs", len(outputs)))
	return outputs, nil
}

// executeNode resolves a node recursively: dependencies first, awaited
// sequentially in declaration order, then the node's own action. path is
// the current DFS chain; a node already on it means a dependency cycle
// that static validation missed.
func (e *Engine) executeNode(ctx context.Context, id string, path map[string]bool) error {
	if err := e.checkAbort(ctx, id); err != nil {
		return err
	}
	if path[id] {
		return types.NewErrorf(types.ErrCycleDetected, "node revisited while executing").WithNode(id)
	}

	node := e.wf.Node(id)
	if node == nil {
		return types.NewErrorf(types.ErrUnresolvedDep, "unknown node %q", id)
	}

	e.mu.Lock()
	if run, ok := e.runs[id]; ok {
		switch run.state {
		case nodeExecuted, nodeFailed:
			e.mu.Unlock()
			return run.err
		case nodeExecuting:
			// Duplicate concurrent entry from a sibling branch: wait for
			// the first entrant rather than running the node twice.
			e.mu.Unlock()
			select {
			case <-run.done:
				return run.err
			case <-ctx.Done():
				return types.NewError(types.ErrCanceled, "context canceled").WithNode(id).WithCause(ctx.Err())
			}
		}
	}
	run := &nodeRun{state: nodeExecuting, done: make(chan struct{})}
	e.runs[id] = run
	e.mu.Unlock()

	path[id] = true
	defer delete(path, id)

	// finish publishes the node's terminal state and releases waiters.
	// A skipped node is removed from the runs map entirely so a later
	// attempt starts fresh.
	finish := func(state nodeState, err error) {
		e.mu.Lock()
		if state == nodeNotStarted {
			delete(e.runs, id)
		} else {
			run.state = state
			run.err = err
		}
		e.mu.Unlock()
		close(run.done)
	}

	for _, dep := range node.Dependencies {
		if err := e.checkAbort(ctx, id); err != nil {
			finish(nodeFailed, err)
			return err
		}
		if err := e.executeNode(ctx, dep, path); err != nil {
			finish(nodeFailed, err)
			return err
		}
	}

	node.Input = node.Input[:0]
	for _, dep := range node.Dependencies {
		depNode := e.wf.Node(dep)
		node.Input = append(node.Input, NodeInput{NodeID: dep, Output: depNode.Output})
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()

	ec := e.newExecContext(node, cancel)

	nodeCtx, span := e.tracer.Start(nodeCtx, "workflow.node",
		trace.WithAttributes(attribute.String("node.id", id)))
	defer span.End()

	if e.hooks.BeforeSubtask != nil {
		if err := e.hooks.BeforeSubtask(nodeCtx, node, ec); err != nil {
			werr := types.NewError(types.ErrInternalError, "beforeSubtask hook failed").WithNode(id).WithCause(err)
			finish(nodeFailed, werr)
			return werr
		}
	}
	if err := e.checkAbort(nodeCtx, id); err != nil {
		finish(nodeFailed, err)
		return err
	}
	if ec.ConsumeSkip() {
		// Deliberate bypass: the node is left unexecuted and its output
		// unset; dependents observe a nil value.
		finish(nodeNotStarted, nil)
		e.logger.Warn("node skipped by hook", zap.String("node_id", id))
		return nil
	}

	e.logger.Debug("executing node", zap.String("node_id", id), zap.String("action", node.Action.Type()))
	start := time.Now()

	result, err := node.Action.Execute(nodeCtx, ec, node)
	duration := time.Since(start)
	if err != nil {
		status := "failed"
		if types.IsCanceled(err) {
			status = "canceled"
		}
		e.metrics.ObserveNode(status, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("node execution failed",
			zap.String("node_id", id),
			zap.Duration("duration", duration),
			zap.Error(err))
		werr := err
		if !types.IsCanceled(err) {
			werr = types.NewError(types.ErrInternalError, "action failed").WithNode(id).WithCause(err)
		}
		finish(nodeFailed, werr)
		return werr
	}

	node.Output.Value = result
	finish(nodeExecuted, nil)
	e.metrics.ObserveNode("executed", duration)
	e.logger.Info("node executed",
		zap.String("node_id", id),
		zap.Duration("duration", duration))

	if e.hooks.AfterSubtask != nil {
		if err := e.hooks.AfterSubtask(nodeCtx, node, ec, result); err != nil {
			return types.NewError(types.ErrInternalError, "afterSubtask hook failed").WithNode(id).WithCause(err)
		}
	}
	return nil
}

// newExecContext builds the per-attempt context: registered tools plus
// the action's own tools, the node's cancellation token, and the shared
// abort plumbing.
func (e *Engine) newExecContext(node *Node, cancel context.CancelFunc) *ExecutionContext {
	ec := &ExecutionContext{
		workflow: e.wf,
		node:     node,
		tools:    make(map[string]tool.Tool),
		cancel:   cancel,
		abortAll: e.Cancel,
		aborted:  &e.aborted,
		logger:   e.logger,
		hooks:    e.hooks,
	}
	if e.registry != nil {
		for _, name := range e.registry.Enum() {
			if t, err := e.registry.Get(name); err == nil {
				ec.AddTool(t)
			}
		}
	}
	for _, t := range node.Action.Tools() {
		ec.AddTool(t)
	}
	return ec
}

func (e *Engine) checkAbort(ctx context.Context, id string) error {
	if e.aborted.Load() {
		return types.NewError(types.ErrCanceled, "workflow aborted").WithNode(id)
	}
	if err := ctx.Err(); err != nil {
		return types.NewError(types.ErrCanceled, "context canceled").WithNode(id).WithCause(err)
	}
	return nil
}

// Cancel sets the workflow-wide abort flag and cancels all active node
// tokens. It is idempotent and safe to call concurrently with Execute.
func (e *Engine) Cancel() {
	e.aborted.Store(true)
	e.mu.Lock()
	runCancel := e.runCancel
	cancels := make([]context.CancelFunc, 0, len(e.cancels))
	for _, c := range e.cancels {
		cancels = append(cancels, c)
	}
	e.mu.Unlock()

	if runCancel != nil {
		runCancel()
	}
	for _, c := range cancels {
		c()
	}
	e.logger.Warn("workflow aborted", zap.String("workflow_id", e.wf.ID))
}

// AddNode appends a node. Structural mutation is only permitted outside
// an active execution.
func (e *Engine) AddNode(node *Node) error {
	if e.running.Load() {
		return types.NewError(types.ErrExecutionActive, "cannot add node during execution")
	}
	if node == nil || node.ID == "" {
		return types.NewError(types.ErrInvalidWorkflow, "node must have an ID")
	}
	if e.wf.Node(node.ID) != nil {
		return types.NewErrorf(types.ErrDuplicateNode, "duplicate node ID %q", node.ID)
	}
	e.wf.Nodes = append(e.wf.Nodes, node)
	return nil
}

// RemoveNode removes a node by ID. It fails without mutating the node
// list if any existing node lists it as a dependency.
func (e *Engine) RemoveNode(id string) error {
	if e.running.Load() {
		return types.NewError(types.ErrExecutionActive, "cannot remove node during execution")
	}
	idx := -1
	for i, n := range e.wf.Nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return types.NewErrorf(types.ErrUnknownNode, "node %q not found", id)
	}
	for _, n := range e.wf.Nodes {
		for _, dep := range n.Dependencies {
			if dep == id {
				return types.NewErrorf(types.ErrNodeReferenced, "node %q is a dependency of %q", id, n.ID)
			}
		}
	}
	e.wf.Nodes = append(e.wf.Nodes[:idx], e.wf.Nodes[idx+1:]...)
	return nil
}

// Reset clears node outputs, inputs, and execution state so the workflow
// can be executed again. Not permitted during an active execution.
func (e *Engine) Reset() error {
	if e.running.Load() {
		return types.NewError(types.ErrExecutionActive, "cannot reset during execution")
	}
	for _, n := range e.wf.Nodes {
		n.Input = nil
		n.Output.Value = nil
	}
	e.mu.Lock()
	e.runs = make(map[string]*nodeRun, len(e.wf.Nodes))
	e.mu.Unlock()
	e.aborted.Store(false)
	return nil
}

func (e *Engine) saveRun(ctx context.Context, rec *persistence.RunRecord) {
	if e.store == nil {
		return
	}
	// The run context may already be canceled when recording a failure.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.Save(saveCtx, rec); err != nil {
		e.logger.Warn("failed to save run record",
			zap.String("run_id", rec.ID),
			zap.Error(err))
	}
}
