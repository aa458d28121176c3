// Package action implements the prompt action round-loop: an iterative
// LLM/tool conversation driven until an explicit, schema-validated output
// is produced, bounded by a maximum round count.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

const (
	// DefaultMaxRounds bounds the conversation before the forced final
	// round is synthesized.
	DefaultMaxRounds = 10

	// maxForcedReturns caps consecutive text-only replies answered with a
	// synthetic return_output request. Past the cap the loop jumps
	// straight to the forced final round instead of burning the remaining
	// rounds on a non-compliant model.
	maxForcedReturns = 2
)

// Config carries the LLM parameters of one prompt action.
type Config struct {
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
	MaxRounds   int     `json:"max_rounds" yaml:"max_rounds"`
	// TokenBudget bounds the prepared history; 0 disables the budget pass.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
}

// PromptAction drives one node's execution as a tool-augmented LLM
// conversation. One instance maps 1:1 to one node; per-run bookkeeping
// makes reuse across nodes unsafe.
type PromptAction struct {
	name        string
	description string
	tools       []tool.Tool
	cfg         Config
	provider    llm.Provider
	metrics     *metrics.Collector
	trimmer     *Trimmer

	last lastToolResult
}

// Option configures a PromptAction.
type Option func(*PromptAction)

// WithTools supplies the action's own tools, advertised alongside
// registry tools and the built-ins.
func WithTools(tools ...tool.Tool) Option {
	return func(a *PromptAction) { a.tools = append(a.tools, tools...) }
}

// WithConfig overrides the LLM parameters.
func WithConfig(cfg Config) Option {
	return func(a *PromptAction) { a.cfg = cfg }
}

// WithProvider pins a provider, overriding the workflow's.
func WithProvider(p llm.Provider) Option {
	return func(a *PromptAction) { a.provider = p }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *PromptAction) { a.metrics = c }
}

// NewPromptAction creates a prompt action.
func NewPromptAction(name, description string, opts ...Option) *PromptAction {
	a := &PromptAction{
		name:        name,
		description: description,
		cfg:         Config{MaxRounds: DefaultMaxRounds},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.trimmer = NewTrimmer(a.cfg.TokenBudget)
	return a
}

// Type implements workflow.Action.
func (a *PromptAction) Type() string { return "prompt" }

// Tools implements workflow.Action.
func (a *PromptAction) Tools() []tool.Tool { return a.tools }

// Name returns the action's name.
func (a *PromptAction) Name() string { return a.name }

// Description returns the action's description.
func (a *PromptAction) Description() string { return a.description }

// Execute implements workflow.Action: Idle -> Round* -> Terminated.
// Terminal conditions: the model calls return_output; the round cap is
// reached and a forced final round restricted to return_output runs; or
// the model keeps replying text-only past the forced-return cap, which
// also jumps to the forced final round.
func (a *PromptAction) Execute(ctx context.Context, ec *workflow.ExecutionContext, node *workflow.Node) (any, error) {
	provider := a.provider
	if provider == nil {
		provider = ec.Workflow().Provider
	}
	if provider == nil {
		return nil, types.NewError(types.ErrProviderNotSet, "no LLM provider configured").WithNode(node.ID)
	}

	log := ec.Logger()
	sentinel := sentinelKey(node.ID)

	ec.AddTool(newWriteContextTool())
	ec.AddTool(newReturnOutputTool(node, &a.last))
	ec.AddTool(newHumanInteractTool(ec.Hooks()))

	messages := []types.Message{
		types.NewSystemMessage(a.systemPrompt(node)),
		types.NewUserMessage(a.userPrompt(ec.Workflow(), node)),
	}

	maxRounds := a.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	forced := 0
	for round := 1; round <= maxRounds; round++ {
		if err := a.checkAbort(ctx, ec, node.ID); err != nil {
			return nil, err
		}

		log.Debug("round started",
			zap.String("node_id", node.ID),
			zap.Int("round", round),
			zap.Int("messages", len(messages)))

		added, calledTool, err := a.runRound(ctx, ec, provider, a.buildRequest(ec, messages, false))
		if err != nil {
			return nil, err
		}
		messages = append(messages, added...)

		if err := a.checkAbort(ctx, ec, node.ID); err != nil {
			return nil, err
		}
		if value, ok := ec.GetVariable(sentinel); ok {
			ec.DeleteVariable(sentinel)
			return value, nil
		}

		if calledTool {
			forced = 0
			continue
		}
		// Text-only reply: inject an explicit-return request instead of
		// treating it as terminal.
		if forced >= maxForcedReturns {
			log.Warn("model kept replying without tool calls, forcing final round",
				zap.String("node_id", node.ID),
				zap.Int("round", round))
			break
		}
		forced++
		messages = append(messages, types.NewUserMessage(
			"Your reply did not call a tool. You must finish by calling the return_output tool with the task's output value."))
	}

	// Forced final round: only return_output on offer.
	if err := a.checkAbort(ctx, ec, node.ID); err != nil {
		return nil, err
	}
	messages = append(messages, types.NewUserMessage(
		"This is the final round. Call the return_output tool now with the task's output."))
	if _, _, err := a.runRound(ctx, ec, provider, a.buildRequest(ec, messages, true)); err != nil {
		return nil, err
	}
	if value, ok := ec.GetVariable(sentinel); ok {
		ec.DeleteVariable(sentinel)
		return value, nil
	}

	// Never an error: sibling branches keep making progress.
	log.Warn("no output recorded after final round, resolving to empty object",
		zap.String("node_id", node.ID))
	return map[string]any{}, nil
}

func (a *PromptAction) buildRequest(ec *workflow.ExecutionContext, messages []types.Message, final bool) *llm.ChatRequest {
	req := &llm.ChatRequest{
		Messages:    a.trimmer.Prepare(messages),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		ToolChoice:  llm.ToolChoiceAuto,
	}
	if final {
		if ret, ok := ec.Tool(ToolReturnOutput); ok {
			req.Tools = []types.ToolSchema{tool.Schema(ret)}
		}
		req.ToolChoice = ToolReturnOutput
		return req
	}
	for _, t := range ec.Tools() {
		req.Tools = append(req.Tools, tool.Schema(t))
	}
	return req
}

func (a *PromptAction) checkAbort(ctx context.Context, ec *workflow.ExecutionContext, nodeID string) error {
	if ec.Aborted() {
		return types.NewError(types.ErrCanceled, "workflow aborted").WithNode(nodeID)
	}
	if err := ctx.Err(); err != nil {
		return types.NewError(types.ErrCanceled, "context canceled").WithNode(nodeID).WithCause(err)
	}
	return nil
}

func (a *PromptAction) systemPrompt(node *workflow.Node) string {
	var b strings.Builder
	b.WriteString("You are an autonomous task executor inside a workflow engine. ")
	b.WriteString("Complete the task described by the user using the tools provided.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use tools to gather information and act; do not invent results.\n")
	b.WriteString("- Persist intermediate values other tasks may need with the write_context tool.\n")
	b.WriteString("- If you are blocked and cannot proceed autonomously, ask the human operator with the human_interact tool.\n")
	b.WriteString("- When the task is done, you MUST call the return_output tool exactly once with the final output")
	if node.Output.Name != "" {
		fmt.Fprintf(&b, " (%s)", node.Output.Name)
	}
	b.WriteString(". A plain text reply does not finish the task.\n")
	return b.String()
}

func (a *PromptAction) userPrompt(wf *workflow.Workflow, node *workflow.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s", wf.Name)
	if wf.Description != "" {
		fmt.Fprintf(&b, " — %s", wf.Description)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Task: %s", a.name)
	if a.description != "" {
		fmt.Fprintf(&b, " — %s", a.description)
	}
	b.WriteString("\n")
	if node.Output.Description != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", node.Output.Description)
	}

	if len(node.Input) > 0 {
		b.WriteString("\nInputs from completed dependencies:\n")
		for _, in := range node.Input {
			payload, err := json.Marshal(in.Output.Value)
			if err != nil {
				payload = []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", in.Output.Value)))
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", in.NodeID, in.Output.Name, payload)
		}
	}

	if vars := wf.Variables.Snapshot(); len(vars) > 0 {
		if payload, err := json.Marshal(vars); err == nil {
			fmt.Fprintf(&b, "\nShared context variables: %s\n", payload)
		}
	}
	return b.String()
}
