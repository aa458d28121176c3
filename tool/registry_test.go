package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/BaSui01/taskflow/types"
)

func newTestTool(name string) Tool {
	return &Func{
		ToolName:        name,
		ToolDescription: "test tool " + name,
		Parameters:      json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		Fn: func(ctx context.Context, ec ExecContext, params json.RawMessage) (*Result, error) {
			return TextResult("ok:" + name), nil
		},
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestTool("t1")))

	err := r.Register(newTestTool("t1"))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolDuplicate, types.GetErrorCode(err))

	// The original registration survives.
	got, err := r.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Name())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestTool("t1")))

	assert.True(t, r.Unregister("t1"))
	assert.False(t, r.Unregister("t1"))
	assert.False(t, r.Has("t1"))
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrToolNotFound, types.GetErrorCode(err))
}

func TestRegistry_HasAllAndEnum(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestTool("t1")))
	require.NoError(t, r.Register(newTestTool("t2")))

	assert.True(t, r.HasAll([]string{"t1", "t2"}))
	assert.True(t, r.HasAll(nil))
	assert.False(t, r.HasAll([]string{"t1", "t3"}))

	// Registration order is preserved.
	assert.Equal(t, []string{"t1", "t2"}, r.Enum())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "t1", defs[0].Name)
	assert.Equal(t, "t2", defs[1].Name)
	assert.NotEmpty(t, defs[0].Parameters)
}

func TestRegistry_RateLimit(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestTool("limited"), WithRateLimit(rate.Limit(1), 1)))

	tl, err := r.Get("limited")
	require.NoError(t, err)

	_, err = tl.Execute(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = tl.Execute(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrToolRateLimit, types.GetErrorCode(err))
}

type destroyableTool struct {
	Tool
	destroyed bool
}

func (d *destroyableTool) Destroy(ctx context.Context) error {
	d.destroyed = true
	return nil
}

func TestRegistry_DestroyAll(t *testing.T) {
	r := NewRegistry()
	d := &destroyableTool{Tool: newTestTool("browser")}
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Register(newTestTool("plain")))

	require.NoError(t, r.DestroyAll(context.Background()))
	assert.True(t, d.destroyed)
}

func TestSchema_EmptyParameters(t *testing.T) {
	s := Schema(&Func{ToolName: "bare", ToolDescription: "no params"})
	assert.Equal(t, "bare", s.Name)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(s.Parameters))
}
