package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// Built-in tool names injected into every prompt action's tool set.
const (
	ToolWriteContext  = "write_context"
	ToolReturnOutput  = "return_output"
	ToolHumanInteract = "human_interact"
)

// sentinelKey is the node-scoped variable the return_output tool writes
// and the round-loop consumes. It is deleted immediately after being read
// so internal bookkeeping never leaks into workflow variables.
func sentinelKey(nodeID string) string {
	return "__taskflow_output__" + nodeID
}

// lastToolResult remembers the most recent successful non-return tool
// result, so return_output can reuse it via use_tool_result.
type lastToolResult struct {
	mu  sync.Mutex
	res *tool.Result
}

func (l *lastToolResult) set(name string, r *tool.Result) {
	if name == ToolReturnOutput || r == nil {
		return
	}
	l.mu.Lock()
	l.res = r
	l.mu.Unlock()
}

func (l *lastToolResult) get() *tool.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.res
}

// newWriteContextTool lets the model persist an intermediate value into
// the workflow-wide variable store. The value is stored as parsed JSON
// when it parses, else as the raw string.
func newWriteContextTool() tool.Tool {
	return &tool.Func{
		ToolName:        ToolWriteContext,
		ToolDescription: "Store an intermediate value in the shared workflow context under the given key, making it visible to later nodes.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "description": "Variable name to store the value under."},
				"value": {"type": "string", "description": "Value to store. JSON values are stored parsed; anything else is stored as a raw string."}
			},
			"required": ["key", "value"]
		}`),
		Fn: func(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error) {
			var in struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, types.NewError(types.ErrToolValidation, "invalid write_context parameters").WithCause(err)
			}
			if in.Key == "" {
				return nil, types.NewError(types.ErrToolValidation, "write_context requires a non-empty key")
			}
			var parsed any
			if err := json.Unmarshal([]byte(in.Value), &parsed); err != nil {
				parsed = in.Value
			}
			ec.SetVariable(in.Key, parsed)
			ec.Logger().Debug("context variable written", zap.String("key", in.Key))
			return tool.TextResult(fmt.Sprintf("stored %q", in.Key)), nil
		},
	}
}

// returnOutputTool is constructed per node: its value schema is the
// node's declared output schema, and invoking it records the node's
// final output through the sentinel variable.
type returnOutputTool struct {
	node     *workflow.Node
	sentinel string
	last     *lastToolResult
}

func newReturnOutputTool(node *workflow.Node, last *lastToolResult) *returnOutputTool {
	return &returnOutputTool{node: node, sentinel: sentinelKey(node.ID), last: last}
}

func (t *returnOutputTool) Name() string { return ToolReturnOutput }

func (t *returnOutputTool) Description() string {
	desc := "Finish this task by returning its output. Call with use_tool_result=true to return the most recent tool's result, or supply an explicit value."
	if t.node.Output.Description != "" {
		return desc + " Expected output: " + t.node.Output.Description
	}
	return desc
}

func (t *returnOutputTool) InputSchema() json.RawMessage {
	valueSchema := json.RawMessage(`{"description":"Explicit output value matching the task's output contract."}`)
	if len(t.node.Output.Schema) > 0 {
		valueSchema = t.node.Output.Schema
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"use_tool_result": map[string]any{
				"type":        "boolean",
				"description": "Return the most recent tool's result as the output.",
			},
			"value": json.RawMessage(valueSchema),
		},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func (t *returnOutputTool) Execute(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error) {
	var in struct {
		UseToolResult bool            `json:"use_tool_result"`
		Value         json.RawMessage `json:"value"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, types.NewError(types.ErrToolValidation, "invalid return_output parameters").WithCause(err)
		}
	}

	if in.UseToolResult {
		prior := t.last.get()
		if prior == nil {
			return nil, types.NewError(types.ErrToolValidation, "use_tool_result requested but no prior tool result exists")
		}
		ec.SetVariable(t.sentinel, prior.Value)
		return tool.TextResult("output recorded from tool result"), nil
	}

	var value any
	if len(in.Value) > 0 {
		if err := json.Unmarshal(in.Value, &value); err != nil {
			return nil, types.NewError(types.ErrToolValidation, "return_output value is not valid JSON").WithCause(err)
		}
	}
	ec.SetVariable(t.sentinel, value)
	return tool.TextResult("output recorded"), nil
}

// humanInteractTool bridges the model to the caller's human-input hooks.
// Kinds without a configured hook fail the call with a typed error the
// round-loop feeds back as an error-flagged tool result.
type humanInteractTool struct {
	hooks *workflow.Hooks
}

func newHumanInteractTool(hooks *workflow.Hooks) *humanInteractTool {
	return &humanInteractTool{hooks: hooks}
}

func (t *humanInteractTool) Name() string { return ToolHumanInteract }

func (t *humanInteractTool) Description() string {
	return "Ask the human operator for input when the task cannot proceed autonomously: free text, a single or multiple choice among options, or a yes/no confirmation."
}

func (t *humanInteractTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"kind": {"type": "string", "enum": ["text", "single_choice", "multiple_choice", "confirm"]},
			"prompt": {"type": "string", "description": "Question shown to the human."},
			"options": {"type": "array", "items": {"type": "string"}, "description": "Choices for single_choice/multiple_choice."}
		},
		"required": ["kind", "prompt"]
	}`)
}

func (t *humanInteractTool) Execute(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error) {
	var in struct {
		Kind    string   `json:"kind"`
		Prompt  string   `json:"prompt"`
		Options []string `json:"options"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, types.NewError(types.ErrToolValidation, "invalid human_interact parameters").WithCause(err)
	}

	switch in.Kind {
	case "text":
		if t.hooks.OnHumanInputText == nil {
			return nil, types.NewError(types.ErrHumanInputRequired, "no text input hook configured")
		}
		answer, err := t.hooks.OnHumanInputText(ctx, in.Prompt)
		if err != nil {
			return nil, err
		}
		return tool.TextResult(answer), nil
	case "single_choice":
		if t.hooks.OnHumanInputSingleChoice == nil {
			return nil, types.NewError(types.ErrHumanInputRequired, "no single choice hook configured")
		}
		answer, err := t.hooks.OnHumanInputSingleChoice(ctx, in.Prompt, in.Options)
		if err != nil {
			return nil, err
		}
		return tool.TextResult(answer), nil
	case "multiple_choice":
		if t.hooks.OnHumanInputMultipleChoice == nil {
			return nil, types.NewError(types.ErrHumanInputRequired, "no multiple choice hook configured")
		}
		answers, err := t.hooks.OnHumanInputMultipleChoice(ctx, in.Prompt, in.Options)
		if err != nil {
			return nil, err
		}
		return &tool.Result{Value: answers}, nil
	case "confirm":
		if t.hooks.OnHumanConfirm == nil {
			return nil, types.NewError(types.ErrHumanInputRequired, "no confirm hook configured")
		}
		ok, err := t.hooks.OnHumanConfirm(ctx, in.Prompt)
		if err != nil {
			return nil, err
		}
		return &tool.Result{Value: ok}, nil
	default:
		return nil, types.NewErrorf(types.ErrToolValidation, "unknown interaction kind %q", in.Kind)
	}
}
