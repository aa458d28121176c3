package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
)

// StubTool is a scriptable tool.Tool recording every invocation.
type StubTool struct {
	mu sync.Mutex

	name        string
	description string
	schema      json.RawMessage

	result  *tool.Result
	err     error
	execute func(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error)

	calls     []json.RawMessage
	destroyed bool
}

// NewStubTool creates a stub returning an empty text result by default.
func NewStubTool(name string) *StubTool {
	return &StubTool{
		name:   name,
		result: tool.TextResult("done"),
		schema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

// WithDescription sets the advertised description.
func (s *StubTool) WithDescription(d string) *StubTool {
	s.description = d
	return s
}

// WithSchema sets the advertised input schema.
func (s *StubTool) WithSchema(schema json.RawMessage) *StubTool {
	s.schema = schema
	return s
}

// WithResult sets a fixed successful result.
func (s *StubTool) WithResult(value any) *StubTool {
	s.result = &tool.Result{Value: value}
	return s
}

// WithImages attaches images to the fixed result.
func (s *StubTool) WithImages(images ...types.ImageContent) *StubTool {
	if s.result == nil {
		s.result = &tool.Result{}
	}
	s.result.Images = images
	return s
}

// WithError makes every execution fail.
func (s *StubTool) WithError(err error) *StubTool {
	s.err = err
	return s
}

// WithExecute installs a custom execution function, overriding the fixed
// result and error.
func (s *StubTool) WithExecute(fn func(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error)) *StubTool {
	s.execute = fn
	return s
}

// Calls returns the recorded raw parameters, in call order.
func (s *StubTool) Calls() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.calls...)
}

// CallCount returns the number of executions.
func (s *StubTool) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Destroyed reports whether Destroy was called.
func (s *StubTool) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Name implements tool.Tool.
func (s *StubTool) Name() string { return s.name }

// Description implements tool.Tool.
func (s *StubTool) Description() string { return s.description }

// InputSchema implements tool.Tool.
func (s *StubTool) InputSchema() json.RawMessage { return s.schema }

// Execute implements tool.Tool.
func (s *StubTool) Execute(ctx context.Context, ec tool.ExecContext, params json.RawMessage) (*tool.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append(json.RawMessage(nil), params...))
	fn := s.execute
	result, err := s.result, s.err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, ec, params)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Destroy implements tool.Destroyer.
func (s *StubTool) Destroy(ctx context.Context) error {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	return nil
}

var (
	_ tool.Tool      = (*StubTool)(nil)
	_ tool.Destroyer = (*StubTool)(nil)
)
