package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/testutil/mocks"
	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// runPromptNode executes a single-node workflow with the given action and
// returns the node's resolved output.
func runPromptNode(t *testing.T, provider llm.Provider, action *PromptAction, hooks *workflow.Hooks) (any, *workflow.Workflow, error) {
	t.Helper()

	wf := workflow.NewWorkflow("wf1", "test workflow", "")
	wf.Provider = provider
	wf.Nodes = append(wf.Nodes, &workflow.Node{
		ID:     "n1",
		Output: workflow.NodeOutput{Name: "result"},
		Action: action,
	})

	var opts []workflow.Option
	if hooks != nil {
		opts = append(opts, workflow.WithHooks(hooks))
	}
	outputs, err := workflow.NewEngine(wf, opts...).Execute(context.Background())
	if err != nil {
		return nil, wf, err
	}
	return outputs[0].Value, wf, nil
}

func returnOutputCall(value string) types.ToolCall {
	return types.ToolCall{
		ID:        "ret-1",
		Name:      ToolReturnOutput,
		Arguments: json.RawMessage(`{"value":` + value + `}`),
	}
}

func TestPromptAction_ReturnOutputExplicitValue(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithToolCallRound("done", returnOutputCall(`{"answer":42}`))

	value, wf, err := runPromptNode(t, provider, NewPromptAction("task", "do the thing"), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"answer": float64(42)}, value)
	// The sentinel never leaks into workflow variables.
	_, ok := wf.Variables.Get(sentinelKey("n1"))
	assert.False(t, ok)
	assert.Equal(t, 1, provider.CallCount())
}

func TestPromptAction_UseToolResultReusesPriorResult(t *testing.T) {
	fetch := mocks.NewStubTool("fetch").WithResult(map[string]any{"status": "ok"})

	provider := mocks.NewMockProvider().
		WithToolCallRound("fetching", types.ToolCall{ID: "c1", Name: "fetch", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("", types.ToolCall{
			ID:        "c2",
			Name:      ToolReturnOutput,
			Arguments: json.RawMessage(`{"use_tool_result":true}`),
		})

	action := NewPromptAction("task", "", WithTools(fetch))
	value, _, err := runPromptNode(t, provider, action, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": "ok"}, value)
	assert.Equal(t, 1, fetch.CallCount())
}

func TestPromptAction_WriteContextPersistsVariable(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{
			ID:        "c1",
			Name:      ToolWriteContext,
			Arguments: json.RawMessage(`{"key":"found_url","value":"\"https://example.com\""}`),
		}).
		WithToolCallRound("", returnOutputCall(`"done"`))

	_, wf, err := runPromptNode(t, provider, NewPromptAction("task", ""), nil)
	require.NoError(t, err)

	v, ok := wf.Variables.Get("found_url")
	require.True(t, ok)
	assert.Equal(t, "https://example.com", v)
}

func TestPromptAction_ToolErrorContinuesConversation(t *testing.T) {
	broken := mocks.NewStubTool("broken").WithError(errors.New("boom"))

	provider := mocks.NewMockProvider().
		WithToolCallRound("trying", types.ToolCall{ID: "c1", Name: "broken", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("recovering", returnOutputCall(`"recovered"`))

	action := NewPromptAction("task", "", WithTools(broken))
	value, _, err := runPromptNode(t, provider, action, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)

	// The second request carries the error-flagged tool result.
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	var errMsg *types.Message
	for i := range reqs[1].Messages {
		if reqs[1].Messages[i].IsToolResult() && reqs[1].Messages[i].Name == "broken" {
			errMsg = &reqs[1].Messages[i]
		}
	}
	require.NotNil(t, errMsg)
	assert.Contains(t, errMsg.Content, "Error:")
	assert.Contains(t, errMsg.Content, "boom")
}

func TestPromptAction_UnknownToolBecomesErrorResult(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{ID: "c1", Name: "no_such_tool", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("", returnOutputCall(`"ok"`))

	value, _, err := runPromptNode(t, provider, NewPromptAction("task", ""), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestPromptAction_TextOnlyReplyInjectsForcedReturn(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithTextRound("I think the answer is 42.").
		WithToolCallRound("", returnOutputCall(`42`))

	value, _, err := runPromptNode(t, provider, NewPromptAction("task", ""), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), value)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, types.RoleUser, last.Role)
	assert.Contains(t, last.Content, "return_output")
}

func TestPromptAction_MaxRoundsForcesFinalRestrictedRound(t *testing.T) {
	useTool := mocks.NewStubTool("probe").WithResult("probing")

	// Two regular rounds of tool calls, never return_output; then the
	// forced final round where the model complies.
	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{ID: "c1", Name: "probe", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("", types.ToolCall{ID: "c2", Name: "probe", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("", returnOutputCall(`"final"`))

	action := NewPromptAction("task", "",
		WithTools(useTool),
		WithConfig(Config{MaxRounds: 2}))
	value, _, err := runPromptNode(t, provider, action, nil)
	require.NoError(t, err)
	assert.Equal(t, "final", value)

	reqs := provider.Requests()
	require.Len(t, reqs, 3)
	final := reqs[2]
	require.Len(t, final.Tools, 1, "forced final round offers only return_output")
	assert.Equal(t, ToolReturnOutput, final.Tools[0].Name)
	assert.Equal(t, ToolReturnOutput, final.ToolChoice)
}

func TestPromptAction_DecliningModelYieldsEmptyObject(t *testing.T) {
	// Text-only every round, including the forced final one.
	provider := mocks.NewMockProvider().
		WithTextRound("no.")

	action := NewPromptAction("task", "", WithConfig(Config{MaxRounds: 4}))
	value, _, err := runPromptNode(t, provider, action, nil)
	require.NoError(t, err, "missing output resolves to an empty object, never an error")
	assert.Equal(t, map[string]any{}, value)

	// Two forced-return injections, then straight to the final round.
	assert.Equal(t, 4, provider.CallCount())
}

func TestPromptAction_StreamErrorFailsRound(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithStreamError(errors.New("connection reset"))

	_, _, err := runPromptNode(t, provider, NewPromptAction("task", ""), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
}

func TestPromptAction_MidStreamErrorFailsRound(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithRound(
			llm.StreamChunk{Delta: "partial"},
			llm.StreamChunk{Err: errors.New("stream torn down")},
		)

	_, _, err := runPromptNode(t, provider, NewPromptAction("task", ""), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestPromptAction_ToolAbortEscalates(t *testing.T) {
	aborter := mocks.NewStubTool("abort").WithExecute(
		func(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error) {
			return nil, types.NewError(types.ErrCanceled, "user canceled")
		})

	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{ID: "c1", Name: "abort", Arguments: json.RawMessage(`{}`)})

	action := NewPromptAction("task", "", WithTools(aborter))
	_, _, err := runPromptNode(t, provider, action, nil)
	require.Error(t, err)
	assert.True(t, types.IsCanceled(err))
}

func TestPromptAction_NoProviderFailsTyped(t *testing.T) {
	wf := workflow.NewWorkflow("wf1", "test", "")
	wf.Nodes = append(wf.Nodes, &workflow.Node{
		ID:     "n1",
		Output: workflow.NodeOutput{Name: "result"},
		Action: NewPromptAction("task", ""),
	})

	_, err := workflow.NewEngine(wf).Execute(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no LLM provider")
}

func TestPromptAction_BeforeToolUseHookMutatesInput(t *testing.T) {
	var seen json.RawMessage
	echo := mocks.NewStubTool("echo").WithExecute(
		func(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error) {
			seen = params
			return tool.TextResult("ok"), nil
		})

	hooks := &workflow.Hooks{
		BeforeToolUse: func(ctx context.Context, toolName string, ec *workflow.ExecutionContext, input json.RawMessage) (json.RawMessage, error) {
			if toolName == "echo" {
				return json.RawMessage(`{"rewritten":true}`), nil
			}
			return nil, nil
		},
	}

	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"rewritten":false}`)}).
		WithToolCallRound("", returnOutputCall(`"done"`))

	action := NewPromptAction("task", "", WithTools(echo))
	_, _, err := runPromptNode(t, provider, action, hooks)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rewritten":true}`, string(seen))
}

func TestPromptAction_BeforeToolUseHookSkipsTool(t *testing.T) {
	fetch := mocks.NewStubTool("fetch").WithResult("never returned")

	hooks := &workflow.Hooks{
		BeforeToolUse: func(ctx context.Context, toolName string, ec *workflow.ExecutionContext, input json.RawMessage) (json.RawMessage, error) {
			if toolName == "fetch" {
				ec.RequestSkip()
			}
			return nil, nil
		},
	}

	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{ID: "c1", Name: "fetch", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("", returnOutputCall(`"done"`))

	action := NewPromptAction("task", "", WithTools(fetch))
	out, _, err := runPromptNode(t, provider, action, hooks)
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	// The tool never ran; the model saw a skipped tool result instead.
	assert.Zero(t, fetch.CallCount())
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	var toolMsg *types.Message
	for i := range reqs[1].Messages {
		if reqs[1].Messages[i].IsToolResult() {
			toolMsg = &reqs[1].Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Contains(t, toolMsg.Content, "skipped")
}

func TestPromptAction_ImagesFoldIntoToolResult(t *testing.T) {
	shot := mocks.NewStubTool("screenshot").
		WithResult("captured").
		WithImages(types.ImageContent{Type: "base64", Data: "aW1n", MIME: "image/png"})

	provider := mocks.NewMockProvider().
		WithToolCallRound("", types.ToolCall{ID: "c1", Name: "screenshot", Arguments: json.RawMessage(`{}`)}).
		WithToolCallRound("", returnOutputCall(`"done"`))

	action := NewPromptAction("task", "", WithTools(shot))
	_, _, err := runPromptNode(t, provider, action, nil)
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	var toolMsg *types.Message
	for i := range reqs[1].Messages {
		if reqs[1].Messages[i].IsToolResult() {
			toolMsg = &reqs[1].Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Len(t, toolMsg.Images, 1)
	assert.JSONEq(t, `"captured"`, toolMsg.Content)
}
