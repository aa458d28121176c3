package parser

import (
	"encoding/json"

	"github.com/BaSui01/taskflow/tool"
)

// DocumentSchema returns the JSON Schema for workflow documents. The
// allowed tool list is injected live from the registry, so externally
// generated documents are constrained to registered tools at validation
// time. A nil registry leaves tool names unconstrained.
func DocumentSchema(registry *tool.Registry) json.RawMessage {
	toolName := map[string]any{"type": "string"}
	if registry != nil && registry.Len() > 0 {
		toolName["enum"] = registry.Enum()
	}

	schema := map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":          map[string]any{"type": "string", "minLength": 1},
			"name":        map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
			"variables":   map[string]any{"type": "object"},
			"nodes": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string", "minLength": 1},
						"name":        map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"dependencies": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"output": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":        map[string]any{"type": "string"},
								"description": map[string]any{"type": "string"},
								"schema":      map[string]any{"type": "object"},
							},
							"required": []string{"name"},
						},
						"action": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"type":        map[string]any{"type": "string", "enum": []string{"prompt"}},
								"name":        map[string]any{"type": "string"},
								"description": map[string]any{"type": "string"},
								"tools": map[string]any{
									"type":  "array",
									"items": toolName,
								},
								"config": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"max_tokens":   map[string]any{"type": "integer", "minimum": 0},
										"temperature":  map[string]any{"type": "number", "minimum": 0},
										"max_rounds":   map[string]any{"type": "integer", "minimum": 0},
										"token_budget": map[string]any{"type": "integer", "minimum": 0},
									},
								},
							},
							"required": []string{"type", "name"},
						},
					},
					"required": []string{"id", "output", "action"},
				},
			},
		},
		"required": []string{"id", "name", "nodes"},
	}

	raw, _ := json.Marshal(schema)
	return raw
}
