// Package llm defines the provider contract the round-loop consumes.
// Concrete vendor adapters live outside the core; the framework only
// requires Completion for one-shot requests and Stream for incremental
// delivery.
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/taskflow/types"
)

// ChatRequest carries one LLM turn: the conversation so far plus sampling
// parameters and the advertised tool set.
type ChatRequest struct {
	TraceID     string             `json:"trace_id,omitempty"`
	Model       string             `json:"model,omitempty"`
	Messages    []types.Message    `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	// ToolChoice forces tool selection: "auto", "none", or a tool name.
	ToolChoice string        `json:"tool_choice,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// ToolChoice values beyond a concrete tool name.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// ChatChoice is one candidate completion.
type ChatChoice struct {
	Index        int           `json:"index"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Message      types.Message `json:"message"`
}

// ChatResponse is a full, non-streamed completion.
type ChatResponse struct {
	ID        string           `json:"id,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	Choices   []ChatChoice     `json:"choices"`
	Usage     types.TokenUsage `json:"usage,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
}

// StreamChunk is one event on a streamed response channel.
//
// Content deltas arrive on Delta. A tool invocation arrives as a single
// chunk with ToolUse set to the complete call; the round-loop starts tool
// execution the moment it observes that chunk, while continuing to drain
// the stream. FinishReason is set on the final chunk; Err terminates the
// stream with a transport error.
type StreamChunk struct {
	ID           string            `json:"id,omitempty"`
	Delta        string            `json:"delta,omitempty"`
	ToolUse      *types.ToolCall   `json:"tool_use,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Usage        *types.TokenUsage `json:"usage,omitempty"`
	Err          error             `json:"-"`
}

// Provider is the LLM contract consumed by the action round-loop.
//
// Stream returns a channel the provider closes when the transport finishes
// emitting; tool execution triggered by a ToolUse chunk may still be in
// flight at that point, which is why the round-loop performs a two-phase
// wait (stream complete, then tool task complete).
type Provider interface {
	// Completion issues a synchronous chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream issues a streaming chat request.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name returns the provider's unique identifier.
	Name() string
}
