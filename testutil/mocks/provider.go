// Package mocks provides scripted test doubles for the LLM provider and
// tool contracts consumed by the round-loop.
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// ScriptedRound is one provider turn: the chunks emitted on the stream,
// or an error returned before any chunk.
type ScriptedRound struct {
	Chunks []llm.StreamChunk
	Err    error
}

// MockProvider replays scripted rounds in order. Each Stream or
// Completion call consumes the next round; when the script is exhausted
// the last round is replayed.
type MockProvider struct {
	mu       sync.Mutex
	rounds   []ScriptedRound
	requests []*llm.ChatRequest
}

// NewMockProvider creates an empty scripted provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// WithRound appends a round of raw stream chunks.
func (m *MockProvider) WithRound(chunks ...llm.StreamChunk) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, ScriptedRound{Chunks: chunks})
	return m
}

// WithTextRound appends a round that streams plain text and finishes.
func (m *MockProvider) WithTextRound(text string) *MockProvider {
	return m.WithRound(
		llm.StreamChunk{Delta: text},
		llm.StreamChunk{FinishReason: "stop"},
	)
}

// WithToolCallRound appends a round that streams optional text followed
// by one complete tool call.
func (m *MockProvider) WithToolCallRound(text string, call types.ToolCall) *MockProvider {
	chunks := []llm.StreamChunk{}
	if text != "" {
		chunks = append(chunks, llm.StreamChunk{Delta: text})
	}
	chunks = append(chunks,
		llm.StreamChunk{ToolUse: &call},
		llm.StreamChunk{FinishReason: "tool_calls"},
	)
	return m.WithRound(chunks...)
}

// WithStreamError appends a round that fails before emitting chunks.
func (m *MockProvider) WithStreamError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, ScriptedRound{Err: err})
	return m
}

// Requests returns every request received, in order.
func (m *MockProvider) Requests() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.requests...)
}

// CallCount returns how many rounds were consumed.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockProvider) next(req *llm.ChatRequest) (ScriptedRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rounds) == 0 {
		return ScriptedRound{}, errors.New("mock provider has no scripted rounds")
	}
	idx := len(m.requests)
	if idx >= len(m.rounds) {
		idx = len(m.rounds) - 1
	}
	m.requests = append(m.requests, req)
	return m.rounds[idx], nil
}

// Name implements llm.Provider.
func (m *MockProvider) Name() string { return "mock" }

// Completion implements llm.Provider by assembling the next scripted
// round into a single response.
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	round, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if round.Err != nil {
		return nil, round.Err
	}

	msg := types.Message{Role: types.RoleAssistant}
	finish := ""
	usage := types.TokenUsage{}
	for _, chunk := range round.Chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		msg.Content += chunk.Delta
		if chunk.ToolUse != nil {
			msg.ToolCalls = append(msg.ToolCalls, *chunk.ToolUse)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage.Add(*chunk.Usage)
		}
	}
	return &llm.ChatResponse{
		Provider: m.Name(),
		Choices:  []llm.ChatChoice{{Message: msg, FinishReason: finish}},
		Usage:    usage,
	}, nil
}

// Stream implements llm.Provider by replaying the next scripted round on
// a channel closed when the round is exhausted.
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	round, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if round.Err != nil {
		return nil, round.Err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, chunk := range round.Chunks {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
