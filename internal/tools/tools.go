// Package tools defines the capabilities the agent may invoke against the
// bound database, and the registry used to dispatch them by name.
package tools

import (
	"context"
	"sync"
)

// Tool is a named, independently invocable capability. Tools are stateless and
// registered once at process start.
type Tool interface {
	// Name returns the tool name used for dispatch and prompt rendering.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// InputSchema returns a JSON-schema string. It is embedded in prompts as
	// documentation only and is never validated programmatically.
	InputSchema() string

	// Run executes the tool with a JSON-ish string input. Tools validate their
	// own input and return a descriptive error for malformed requests.
	Run(ctx context.Context, input string, tctx *Context) (*Result, error)
}

// Result is the outcome of a successful tool invocation.
type Result struct {
	// Summary is a short human-readable account of what happened.
	Summary string `json:"summary"`

	// Data carries structured output for the UI and the observation payload.
	Data any `json:"data,omitempty"`

	// Kind tags results the controller treats specially (e.g. "sql_suggestion").
	Kind string `json:"kind,omitempty"`
}

// Registry maps tool names to tools. It is populated at startup and read-only
// afterwards; dispatch is a lookup returning an explicit not-found result.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry builds the standard tool set.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&SchemaInspector{})
	r.Register(&SQLRunner{})
	r.Register(&QuerySuggestion{})
	r.Register(&DatabaseSearch{})
	return r
}

// Register adds a tool. A tool with the same name replaces the previous one.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Spec is the prompt-facing description of one tool.
type Spec struct {
	Name        string
	Description string
	InputSchema string
}

// Specs returns all tool specs in registration order for prompt construction.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, Spec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return specs
}
