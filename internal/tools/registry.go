// Package tools implements the tool surface exposed to agents. Tools are
// plain values constructed per invocation with explicit user binding;
// nothing in this package holds global mutable state.
package tools

import (
	"context"
	"fmt"

	"github.com/youlab/tutord/internal/providers"
)

// Tool is one callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Registry holds the tool set for one agent run.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any prior tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions renders the registry for the provider request.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute runs a named tool. Unknown tools produce an error result, not
// a panic; the model sees the message and can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	t, ok := r.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("Unknown tool: %s", name))
	}
	return t.Execute(ctx, args)
}

// argString extracts a string argument, "" when absent or mistyped.
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// argBool extracts a bool argument, false when absent or mistyped.
func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// objSchema builds a JSON-schema object with the given properties and
// required names.
func objSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
