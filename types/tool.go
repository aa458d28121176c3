package types

import (
	"encoding/json"
	"time"
)

// ToolSchema defines a tool's interface for LLM function calling.
// Parameters holds a JSON Schema fragment describing the tool's input.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult represents the result of a tool execution.
//
// Result holds the JSON-serialized payload for non-image results. Images
// holds visual payloads (screenshots) that are folded into the tool-result
// message ahead of any text.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Images     []ImageContent  `json:"images,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}

// ToMessage converts the result into its conversational record, fed back
// to the LLM on the next round.
func (tr ToolResult) ToMessage() Message {
	msg := Message{
		Role:       RoleTool,
		Name:       tr.Name,
		ToolCallID: tr.ToolCallID,
		Timestamp:  time.Now(),
	}
	if tr.Error != "" {
		msg.Content = "Error: " + tr.Error
		return msg
	}
	msg.Content = string(tr.Result)
	msg.Images = tr.Images
	return msg
}
