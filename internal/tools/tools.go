// Package tools defines the tools available to the agent and the
// registry that dispatches model tool calls to them.
package tools

import (
	"context"
	"encoding/json"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/llm"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
)

// Tool represents a callable capability. Parameters is a JSON-schema
// object describing the arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args json.RawMessage) ([]msg.ToolResultContent, error)
}

// Registry holds available tools keyed by name.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. A duplicate name replaces the prior entry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by exact name. Absence is not an error at this
// layer; callers synthesize the unknown-tool result.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Call dispatches one tool invocation.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) ([]msg.ToolResultContent, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, ErrUnknownTool
	}
	return t.Handler(ctx, args)
}

// Descriptions lists the registered tools for the provider request, in
// registration order.
func (r *Registry) Descriptions() []llm.ToolDescription {
	out := make([]llm.ToolDescription, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolDescription{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}
