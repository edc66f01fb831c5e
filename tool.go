package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ToolFunc is the callable bound to a registered tool. Arguments arrive
// keyword-bound and validated against the declared parameter schema; the
// returned value is stringified for the observation turn.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Param declares one tool parameter. Type uses JSON Schema primitive names:
// "string", "number", "integer", "boolean", "object", "array".
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Descriptor is the immutable registration record for one tool.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	schema      json.RawMessage // precomputed inputSchema
	fn          ToolFunc
	passthrough bool // schema-registered tools skip local argument validation
}

// ToolSchema is the model-facing advertisement for one tool.
type ToolSchema struct {
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry maps tool names to callables with declared parameter schemas.
// It is the single execution entry point for local and remote tools alike.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register binds a callable under a unique name with a declared parameter
// list. Registering a name twice is rejected with an error rather than
// silently overwriting — duplicate registrations are almost always a wiring
// bug, and last-write-wins would hide it.
func (r *Registry) Register(name, description string, params []Param, fn ToolFunc) error {
	schema, err := buildInputSchema(params)
	if err != nil {
		return fmt.Errorf("tool %q: %w", name, err)
	}
	return r.add(&Descriptor{
		Name:        name,
		Description: description,
		Params:      params,
		schema:      schema,
		fn:          fn,
	})
}

// RegisterSchema binds a callable that arrives with a ready-made JSON
// Schema, as MCP servers advertise. Argument validation is delegated to the
// tool itself (typically the remote server).
func (r *Registry) RegisterSchema(name, description string, inputSchema json.RawMessage, fn ToolFunc) error {
	if len(inputSchema) == 0 {
		inputSchema = json.RawMessage(`{"type":"object"}`)
	}
	return r.add(&Descriptor{
		Name:        name,
		Description: description,
		schema:      inputSchema,
		fn:          fn,
		passthrough: true,
	})
}

func (r *Registry) add(d *Descriptor) error {
	if d.fn == nil {
		return fmt.Errorf("tool %q: nil callable", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("tool %q already registered", d.Name)
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Schemas returns the name → {description, inputSchema} mapping advertised
// to the model.
func (r *Registry) Schemas() map[string]ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ToolSchema, len(r.tools))
	for name, d := range r.tools {
		out[name] = ToolSchema{Description: d.Description, InputSchema: d.schema}
	}
	return out
}

// Execute looks up a tool and invokes it with keyword-bound arguments.
// Failures are always one of the typed errors: *ToolNotFoundError,
// *InvalidArgumentsError, or *ToolExecutionError. A panic inside the
// callable is recovered and reported as a ToolExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result any, err error) {
	r.mu.RLock()
	d, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}

	if !d.passthrough {
		args, err = bindArguments(d, args)
		if err != nil {
			return nil, err
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &ToolExecutionError{Tool: name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()
	result, callErr := d.fn(ctx, args)
	if callErr != nil {
		return nil, &ToolExecutionError{Tool: name, Message: callErr.Error()}
	}
	return result, nil
}

// bindArguments validates args against the declared parameters: required
// parameters must be present, declared defaults are applied, unknown keys
// are rejected, and primitive types are checked.
func bindArguments(d *Descriptor, args map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(d.Params))
	declared := make(map[string]Param, len(d.Params))
	for _, p := range d.Params {
		declared[p.Name] = p
	}
	for k := range args {
		if _, ok := declared[k]; !ok {
			return nil, &InvalidArgumentsError{Tool: d.Name, Reason: fmt.Sprintf("unknown parameter %q", k)}
		}
	}
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok {
			if p.Default != nil {
				bound[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, &InvalidArgumentsError{Tool: d.Name, Reason: fmt.Sprintf("missing required parameter %q", p.Name)}
			}
			continue
		}
		if !matchesType(v, p.Type) {
			return nil, &InvalidArgumentsError{Tool: d.Name, Reason: fmt.Sprintf("parameter %q: expected %s, got %T", p.Name, p.Type, v)}
		}
		bound[p.Name] = v
	}
	return bound, nil
}

// matchesType checks a decoded JSON value against a schema primitive name.
// An empty declared type accepts anything.
func matchesType(v any, t string) bool {
	switch t {
	case "":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number", "integer":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// buildInputSchema renders a declared parameter list as a JSON Schema
// object suitable for advertising to the model.
func buildInputSchema(params []Param) (json.RawMessage, error) {
	type property struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		Default     any    `json:"default,omitempty"`
	}
	schema := struct {
		Type       string              `json:"type"`
		Properties map[string]property `json:"properties,omitempty"`
		Required   []string            `json:"required,omitempty"`
	}{Type: "object"}

	if len(params) > 0 {
		schema.Properties = make(map[string]property, len(params))
	}
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		schema.Properties[p.Name] = property{Type: typ, Description: p.Description, Default: p.Default}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return json.Marshal(schema)
}
