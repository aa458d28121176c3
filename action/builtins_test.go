package action

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/execlog"
	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// fakeExecContext is a minimal tool.ExecContext for exercising built-ins
// without an engine run.
type fakeExecContext struct {
	vars    map[string]any
	logger  *execlog.Logger
	aborted bool
}

func newFakeExecContext() *fakeExecContext {
	return &fakeExecContext{
		vars:   make(map[string]any),
		logger: execlog.New(nil, execlog.LevelInfo, 0),
	}
}

func (f *fakeExecContext) GetVariable(key string) (any, bool) {
	v, ok := f.vars[key]
	return v, ok
}
func (f *fakeExecContext) SetVariable(key string, value any) { f.vars[key] = value }
func (f *fakeExecContext) DeleteVariable(key string)         { delete(f.vars, key) }
func (f *fakeExecContext) Logger() *execlog.Logger           { return f.logger }
func (f *fakeExecContext) Aborted() bool                     { return f.aborted }

var _ tool.ExecContext = (*fakeExecContext)(nil)

func TestWriteContext_StoresParsedJSON(t *testing.T) {
	ec := newFakeExecContext()
	wc := newWriteContextTool()

	_, err := wc.Execute(context.Background(), ec, json.RawMessage(`{"key":"count","value":"42"}`))
	require.NoError(t, err)

	v, ok := ec.GetVariable("count")
	require.True(t, ok)
	assert.Equal(t, float64(42), v, "JSON values are stored parsed")
}

func TestWriteContext_StoresRawStringWhenNotJSON(t *testing.T) {
	ec := newFakeExecContext()
	wc := newWriteContextTool()

	_, err := wc.Execute(context.Background(), ec, json.RawMessage(`{"key":"note","value":"not json at all"}`))
	require.NoError(t, err)

	v, ok := ec.GetVariable("note")
	require.True(t, ok)
	assert.Equal(t, "not json at all", v)
}

func TestWriteContext_RejectsEmptyKey(t *testing.T) {
	ec := newFakeExecContext()
	wc := newWriteContextTool()

	_, err := wc.Execute(context.Background(), ec, json.RawMessage(`{"key":"","value":"x"}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))
}

func TestReturnOutput_ExplicitValueWritesSentinel(t *testing.T) {
	ec := newFakeExecContext()
	node := &workflow.Node{ID: "n1", Output: workflow.NodeOutput{Name: "answer"}}
	ret := newReturnOutputTool(node, &lastToolResult{})

	_, err := ret.Execute(context.Background(), ec, json.RawMessage(`{"value":{"answer":7}}`))
	require.NoError(t, err)

	v, ok := ec.GetVariable(sentinelKey("n1"))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"answer": float64(7)}, v)
}

func TestReturnOutput_UseToolResult(t *testing.T) {
	ec := newFakeExecContext()
	node := &workflow.Node{ID: "n1"}
	last := &lastToolResult{}
	last.set("fetch", &tool.Result{Value: "payload"})
	ret := newReturnOutputTool(node, last)

	_, err := ret.Execute(context.Background(), ec, json.RawMessage(`{"use_tool_result":true}`))
	require.NoError(t, err)

	v, ok := ec.GetVariable(sentinelKey("n1"))
	require.True(t, ok)
	assert.Equal(t, "payload", v)
}

func TestReturnOutput_UseToolResultWithoutPriorFails(t *testing.T) {
	ec := newFakeExecContext()
	ret := newReturnOutputTool(&workflow.Node{ID: "n1"}, &lastToolResult{})

	_, err := ret.Execute(context.Background(), ec, json.RawMessage(`{"use_tool_result":true}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))
}

func TestReturnOutput_SchemaEmbedsNodeOutputSchema(t *testing.T) {
	node := &workflow.Node{
		ID:     "n1",
		Output: workflow.NodeOutput{Schema: json.RawMessage(`{"type":"string"}`)},
	}
	ret := newReturnOutputTool(node, &lastToolResult{})

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(ret.InputSchema(), &schema))
	assert.JSONEq(t, `{"type":"string"}`, string(schema.Properties["value"]))
	assert.Contains(t, schema.Properties, "use_tool_result")
}

func TestLastToolResult_IgnoresReturnOutput(t *testing.T) {
	last := &lastToolResult{}
	last.set("fetch", &tool.Result{Value: 1})
	last.set(ToolReturnOutput, &tool.Result{Value: 2})

	assert.Equal(t, 1, last.get().Value)
}

func TestHumanInteract_BridgesTextHook(t *testing.T) {
	ec := newFakeExecContext()
	hooks := &workflow.Hooks{
		OnHumanInputText: func(ctx context.Context, prompt string) (string, error) {
			assert.Equal(t, "what city?", prompt)
			return "Berlin", nil
		},
	}
	hi := newHumanInteractTool(hooks)

	res, err := hi.Execute(context.Background(), ec, json.RawMessage(`{"kind":"text","prompt":"what city?"}`))
	require.NoError(t, err)
	assert.Equal(t, "Berlin", res.Value)
}

func TestHumanInteract_MissingHookFailsTyped(t *testing.T) {
	hi := newHumanInteractTool(&workflow.Hooks{})

	_, err := hi.Execute(context.Background(), newFakeExecContext(), json.RawMessage(`{"kind":"confirm","prompt":"proceed?"}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrHumanInputRequired, types.GetErrorCode(err))
}

func TestHumanInteract_SingleChoice(t *testing.T) {
	hooks := &workflow.Hooks{
		OnHumanInputSingleChoice: func(ctx context.Context, prompt string, options []string) (string, error) {
			assert.Equal(t, []string{"a", "b"}, options)
			return "b", nil
		},
	}
	hi := newHumanInteractTool(hooks)

	res, err := hi.Execute(context.Background(), newFakeExecContext(), json.RawMessage(`{"kind":"single_choice","prompt":"pick","options":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, "b", res.Value)
}
