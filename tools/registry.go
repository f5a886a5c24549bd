// Package tools is the capability table: every tool the model may call is
// registered once at startup with its schema, approval requirement, and
// dispatch target (an in-process Handler or a sandbox image).
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/sandbox"
)

// Handler is the function signature for in-process tool implementations.
// Handlers receive the request context and JSON-encoded arguments from the LLM.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Result is the tool execution output that feeds back into the next LLM turn.
// IsError signals to the LLM that the tool invocation failed.
type Result struct {
	Content string
	IsError bool
}

// Definition describes one tool. Exactly one of Handler and Sandbox is set.
type Definition struct {
	protocol.Tool
	RequiresApproval bool
	Sandbox          *sandbox.Spec
	Handler          Handler
}

// Isolated reports whether the tool is dispatched to the sandbox.
func (d Definition) Isolated() bool {
	return d.Sandbox != nil
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry maps tool names to definitions. It is safe for concurrent use.
type Registry struct {
	entries map[string]entry
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func compile(def Definition) (entry, error) {
	if def.Name == "" {
		return entry{}, ErrEmptyName
	}
	if def.Handler == nil && (def.Sandbox == nil || def.Sandbox.Image == "") {
		return entry{}, fmt.Errorf("%w: %s", ErrNoHandler, def.Name)
	}
	if def.Handler != nil && def.Sandbox != nil {
		return entry{}, fmt.Errorf("%w: %s declares both a handler and a sandbox", ErrManifest, def.Name)
	}

	params := def.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return entry{}, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, def.Name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return entry{}, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, def.Name, err)
	}

	url := "mem:///tools/" + def.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return entry{}, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, def.Name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return entry{}, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, def.Name, err)
	}

	return entry{def: def, schema: schema}, nil
}

// Register adds a new tool, compiling its parameter schema.
// Returns ErrAlreadyExists if a tool with the same name is already registered.
func (r *Registry) Register(def Definition) error {
	e, err := compile(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, def.Name)
	}
	r.entries[def.Name] = e
	return nil
}

// Replace updates an existing tool's definition.
// Returns ErrNotFound if no tool with the given name is registered.
func (r *Registry) Replace(def Definition) error {
	e, err := compile(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, def.Name)
	}
	r.entries[def.Name] = e
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	return e.def, exists
}

// List returns the model-facing definitions of all tools, sorted by name.
func (r *Registry) List() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]protocol.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		tools = append(tools, e.def.Tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Validate checks args against the tool's parameter schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("%w: %s: arguments are not JSON: %v", ErrInvalidArguments, name, err)
	}
	if err := e.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	return nil
}

// Invoke dispatches an in-process tool call to its handler.
// Returns ErrNotFound for unknown tools and ErrIsolated for sandboxed ones.
// Handler errors are wrapped with the tool name for context.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	def, exists := r.Lookup(name)
	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if def.Isolated() {
		return Result{}, fmt.Errorf("%w: %s", ErrIsolated, name)
	}

	result, err := def.Handler(ctx, args)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s execution failed: %w", name, err)
	}
	return result, nil
}
