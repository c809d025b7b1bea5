package tool

import (
	"sort"
	"sync"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/internal/util"
	"github.com/reagent-ai/reagent/model"
)

// Descriptor binds a tool to its dispatch policy. Instances are immutable
// after registration; the execution engine reads them concurrently.
type Descriptor struct {
	tool     Tool
	failFast bool
	serial   bool
	delegate bool
}

// Name returns the described tool's name.
func (d *Descriptor) Name() string { return d.tool.Name() }

// Tool returns the described tool.
func (d *Descriptor) Tool() Tool { return d.tool }

// FailFast reports whether an error from this tool cancels its batch
// siblings.
func (d *Descriptor) FailFast() bool { return d.failFast }

// Serial reports whether the tool is not safe for concurrent invocation and
// must run under the engine's serial lock.
func (d *Descriptor) Serial() bool { return d.serial }

// Delegate reports whether actions naming this tool are routed to the
// sub-agent spawner instead of Tool.Call.
func (d *Descriptor) Delegate() bool { return d.delegate }

// Definition returns the model-facing declaration for this tool.
func (d *Descriptor) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        d.tool.Name(),
		Description: d.tool.Description(),
		Parameters:  d.tool.Parameters(),
	}
}

// RegisterOption customizes a descriptor at registration time.
type RegisterOption func(d *Descriptor)

// WithFailFast marks the tool so that its errors cancel batch siblings.
func WithFailFast() RegisterOption {
	return func(d *Descriptor) { d.failFast = true }
}

// WithSerial marks the tool as not safe for concurrent invocation.
func WithSerial() RegisterOption {
	return func(d *Descriptor) { d.serial = true }
}

// WithDelegate marks the tool as a delegation marker handled by the
// sub-agent spawner.
func WithDelegate() RegisterOption {
	return func(d *Descriptor) { d.delegate = true }
}

// Registry maps tool names to immutable descriptors. It resolves and
// validates, never executes: an unknown name or schema violation surfaces as
// an InvalidAction observation at dispatch, not as a fatal error.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Descriptor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Descriptor)}
}

// Register adds a tool under its name. Registering a duplicate name is an
// error.
func (r *Registry) Register(t Tool, opts ...RegisterOption) error {
	if t == nil || t.Name() == "" {
		return core.NewError(core.CodeInternal, "cannot register a nil or unnamed tool")
	}

	d := &Descriptor{tool: t}
	for _, opt := range opts {
		opt(d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.Name()]; exists {
		return core.Errorf(core.CodeInternal, "tool %q already registered", t.Name())
	}

	r.entries[t.Name()] = d

	return nil
}

// Resolve returns the descriptor for a tool name.
func (r *Registry) Resolve(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[name]

	return d, ok
}

// Validate checks arguments against the descriptor's schema. A violation is
// returned as a classified InvalidAction error.
func (r *Registry) Validate(d *Descriptor, args map[string]any) error {
	if err := util.ValidateParameters(args, d.tool.Parameters()); err != nil {
		return core.WrapError(core.CodeInvalidAction,
			"arguments for tool "+d.Name()+" rejected", err)
	}

	return nil
}

// Catalog returns the model-facing declarations of all registered tools,
// sorted by name for deterministic prompts.
func (r *Registry) Catalog() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.entries))
	for _, d := range r.entries {
		defs = append(defs, d.Definition())
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
