// Package parser turns workflow JSON/YAML documents into executable
// workflows, validating structure against the live tool registry.
package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/action"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/tool"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// Document is the external workflow description.
type Document struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []NodeDef      `json:"nodes" yaml:"nodes"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// NodeDef describes one node of the document.
type NodeDef struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Output       OutputDef `json:"output" yaml:"output"`
	Action       ActionDef `json:"action" yaml:"action"`
}

// OutputDef describes a node's declared output contract.
type OutputDef struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ActionDef describes a node's action. Only type "prompt" is valid.
type ActionDef struct {
	Type        string        `json:"type" yaml:"type"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Tools       []string      `json:"tools,omitempty" yaml:"tools,omitempty"`
	Config      action.Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// Parser builds workflows from documents, resolving tool names against a
// registry.
type Parser struct {
	registry *tool.Registry
	provider llm.Provider
	defaults action.Config
}

// Option configures a Parser.
type Option func(*Parser)

// WithProvider sets the provider attached to parsed workflows.
func WithProvider(p llm.Provider) Option {
	return func(pr *Parser) { pr.provider = p }
}

// WithActionDefaults sets the LLM parameters applied when a node's
// action carries none.
func WithActionDefaults(cfg action.Config) Option {
	return func(pr *Parser) { pr.defaults = cfg }
}

// New creates a parser over the given registry.
func New(registry *tool.Registry, opts ...Option) *Parser {
	p := &Parser{registry: registry}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes and builds a workflow from a JSON document.
func (p *Parser) Parse(data []byte) (*workflow.Workflow, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrInvalidWorkflow, "invalid workflow document").WithCause(err)
	}
	return p.Build(&doc)
}

// ParseYAML decodes and builds a workflow from a YAML document.
func (p *Parser) ParseYAML(data []byte) (*workflow.Workflow, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrInvalidWorkflow, "invalid workflow document").WithCause(err)
	}
	return p.Build(&doc)
}

// ParseFile loads a document from disk; .yaml/.yml files are decoded as
// YAML, everything else as JSON.
func (p *Parser) ParseFile(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow document: %w", err)
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return p.ParseYAML(data)
	}
	return p.Parse(data)
}

// Validate checks a document without building it, aggregating every
// violation rather than stopping at the first.
func (p *Parser) Validate(doc *Document) []error {
	var errs []error

	if doc.ID == "" {
		errs = append(errs, fmt.Errorf("workflow id is required"))
	}
	if doc.Name == "" {
		errs = append(errs, fmt.Errorf("workflow name is required"))
	}
	if len(doc.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("workflow must have at least one node"))
	}

	nodeIDs := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("node ID is required"))
			continue
		}
		if nodeIDs[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", n.ID))
		}
		nodeIDs[n.ID] = true
	}

	for _, n := range doc.Nodes {
		for _, dep := range n.Dependencies {
			if !nodeIDs[dep] {
				errs = append(errs, fmt.Errorf("node %s: dependency %q does not exist", n.ID, dep))
			}
		}
		if n.Action.Type != "prompt" {
			errs = append(errs, fmt.Errorf("node %s: invalid action type %q", n.ID, n.Action.Type))
		}
		if p.registry == nil && len(n.Action.Tools) > 0 {
			errs = append(errs, fmt.Errorf("node %s: tools declared but no tool registry configured", n.ID))
		}
		if p.registry != nil && !p.registry.HasAll(n.Action.Tools) {
			for _, name := range n.Action.Tools {
				if !p.registry.Has(name) {
					errs = append(errs, fmt.Errorf("node %s: tool %q is not registered", n.ID, name))
				}
			}
		}
	}
	return errs
}

// Build constructs an executable workflow from a validated document.
func (p *Parser) Build(doc *Document) (*workflow.Workflow, error) {
	if errs := p.Validate(doc); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return nil, types.NewErrorf(types.ErrInvalidWorkflow, "workflow document invalid: %s", strings.Join(msgs, "; "))
	}

	wf := workflow.NewWorkflow(doc.ID, doc.Name, doc.Description)
	wf.Provider = p.provider
	for k, v := range doc.Variables {
		wf.Variables.Set(k, v)
	}

	for _, def := range doc.Nodes {
		act, err := p.buildAction(&def)
		if err != nil {
			return nil, err
		}
		wf.Nodes = append(wf.Nodes, &workflow.Node{
			ID:           def.ID,
			Name:         def.Name,
			Description:  def.Description,
			Dependencies: append([]string(nil), def.Dependencies...),
			Output: workflow.NodeOutput{
				Name:        def.Output.Name,
				Description: def.Output.Description,
				Schema:      def.Output.Schema,
			},
			Action: act,
		})
	}
	return wf, nil
}

// buildAction resolves the node's tools and creates its prompt action.
// One action instance per node; actions hold per-run bookkeeping and must
// not be shared.
func (p *Parser) buildAction(def *NodeDef) (workflow.Action, error) {
	cfg := def.Action.Config
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = p.defaults.MaxRounds
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = p.defaults.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = p.defaults.Temperature
	}
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = p.defaults.TokenBudget
	}

	var tools []tool.Tool
	for _, name := range def.Action.Tools {
		t, err := p.registry.Get(name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}

	return action.NewPromptAction(def.Action.Name, def.Action.Description,
		action.WithTools(tools...),
		action.WithConfig(cfg),
	), nil
}
