// Package tools implements the agent's tool surface: file access, shell
// execution, channel attachments, and delegation to an external CLI agent.
// Every tool validates paths and commands through the guard package before
// touching the executor, and returns errors as tool results rather than
// failing the run.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/EdibleTuber/Mother/internal/providers"
)

// Tool is the interface all agent tools implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the tools available to the agent, in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ProviderDefs returns tool schemas in the shape providers send to the LLM.
// Every tool additionally accepts an optional "label" string the model uses
// to caption the call in chat; the agent loop strips it before dispatch.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  withLabelParam(t.Parameters()),
			},
		})
	}
	return defs
}

// Execute dispatches a tool call by name. Unknown tools come back as error
// results so the model can recover instead of the run aborting.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return t.Execute(ctx, args)
}

func withLabelParam(params map[string]interface{}) map[string]interface{} {
	props, ok := params["properties"].(map[string]interface{})
	if !ok {
		return params
	}
	merged := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged["label"] = map[string]interface{}{
		"type":        "string",
		"description": "Short human-readable caption for this call, shown in chat",
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	out["properties"] = merged
	return out
}
