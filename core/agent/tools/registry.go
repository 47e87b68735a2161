package tools

import (
	"fmt"
	"sync"

	"agent_server/core/domain"
)

// Registry is the capability table: function name -> Tool.
// Registration order is kept so the catalogue sent to the model is stable.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// RegisterAll registers multiple tools
func (r *Registry) RegisterAll(tools ...Tool) {
	for _, tool := range tools {
		r.Register(tool)
	}
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// List returns all registered tools in registration order
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// ListNames returns all tool names
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// ForAgent returns the view of the registry restricted to the agent's enabled capabilities.
func (r *Registry) ForAgent(cfg domain.ToolsConfig) *Toolset {
	var enabled []Tool
	for _, tool := range r.List() {
		if cfg.IsEnabled(string(tool.Category())) {
			enabled = append(enabled, tool)
		}
	}
	return &Toolset{tools: enabled}
}

// Toolset is the per-agent set of callable tools.
type Toolset struct {
	tools []Tool
}

// HasEnabledTools reports whether the agent can call any tool.
func (t *Toolset) HasEnabledTools() bool {
	return t != nil && len(t.tools) > 0
}

// EnabledDefinitions returns function declarations for the enabled tools, in registration order.
func (t *Toolset) EnabledDefinitions() []ToolDefinition {
	if t == nil {
		return nil
	}
	defs := make([]ToolDefinition, 0, len(t.tools))
	for _, tool := range t.tools {
		defs = append(defs, ConvertToDefinition(tool))
	}
	return defs
}

// Lookup resolves a function name among enabled tools only.
func (t *Toolset) Lookup(name string) (Tool, bool) {
	if t == nil {
		return nil, false
	}
	for _, tool := range t.tools {
		if tool.Name() == name {
			return tool, true
		}
	}
	return nil, false
}
