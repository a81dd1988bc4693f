package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	jrpc "github.com/axonlabs/mcpbridge/pkg/jsonrpc"
)

// backendAliases maps common short names to canonical backend names.
var backendAliases = map[string]string{
	"es":      "elasticsearch",
	"elastic": "elasticsearch",
	"mongo":   "mongodb",
	"db":      "mongodb",
}

// NotFoundError reports a missing backend or tool catalog entry.
type NotFoundError struct {
	Backend string
	Tool    string
}

func (e *NotFoundError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("backend %q not found", e.Backend)
	}
	return fmt.Sprintf("tool %q not found in backend %q catalog", e.Tool, e.Backend)
}

// ToolEntry is one catalog entry with its lazily compiled parameter schema.
type ToolEntry struct {
	Descriptor jrpc.ToolDescriptor

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
}

// Catalog holds one backend's tools.
type Catalog struct {
	Backend string
	tools   map[string]*ToolEntry
}

func (c *Catalog) Tools() []jrpc.ToolDescriptor {
	out := make([]jrpc.ToolDescriptor, 0, len(c.tools))
	for _, entry := range c.tools {
		out = append(out, entry.Descriptor)
	}
	return out
}

// ToolRegistry maps backend names to their catalogs.
type ToolRegistry struct {
	catalogs *BaseRegistry[*Catalog]
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		catalogs: NewBaseRegistry[*Catalog](),
	}
}

// CanonicalBackend lower-cases the name and applies the alias table. It does
// not require the backend to be registered.
func CanonicalBackend(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := backendAliases[name]; ok {
		return canonical
	}
	return name
}

// Update replaces a backend's catalog wholesale.
func (r *ToolRegistry) Update(backend string, tools []jrpc.ToolDescriptor) {
	backend = CanonicalBackend(backend)

	catalog := &Catalog{
		Backend: backend,
		tools:   make(map[string]*ToolEntry, len(tools)),
	}
	for _, desc := range tools {
		catalog.tools[desc.Name] = &ToolEntry{Descriptor: desc}
	}

	r.catalogs.Set(backend, catalog)
}

// Resolve looks up a tool descriptor by backend (case-insensitive, alias
// aware) and tool name.
func (r *ToolRegistry) Resolve(backend, tool string) (jrpc.ToolDescriptor, error) {
	backend = CanonicalBackend(backend)

	catalog, ok := r.catalogs.Get(backend)
	if !ok {
		return jrpc.ToolDescriptor{}, &NotFoundError{Backend: backend}
	}

	entry, ok := catalog.tools[tool]
	if !ok {
		return jrpc.ToolDescriptor{}, &NotFoundError{Backend: backend, Tool: tool}
	}
	return entry.Descriptor, nil
}

// Tools returns a backend's catalog; empty when the backend is unknown.
func (r *ToolRegistry) Tools(backend string) []jrpc.ToolDescriptor {
	catalog, ok := r.catalogs.Get(CanonicalBackend(backend))
	if !ok {
		return nil
	}
	return catalog.Tools()
}

// Backends returns the names of all backends with a catalog.
func (r *ToolRegistry) Backends() []string {
	return r.catalogs.Names()
}

// ValidateParams checks params against the tool's input schema, when one is
// present in the catalog. The result is advisory: callers log a warning and
// attempt the call anyway, since catalogs may lag behind a backend's actual
// capability set. Missing backends, tools, or schemas validate cleanly.
func (r *ToolRegistry) ValidateParams(backend, tool string, params map[string]interface{}) error {
	catalog, ok := r.catalogs.Get(CanonicalBackend(backend))
	if !ok {
		return nil
	}
	entry, ok := catalog.tools[tool]
	if !ok {
		return nil
	}
	if entry.Descriptor.InputSchema == nil {
		return nil
	}

	entry.schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("mcpbridge:///%s/%s/schema.json", CanonicalBackend(backend), tool)
		if err := compiler.AddResource(url, toAnyMap(entry.Descriptor.InputSchema)); err != nil {
			entry.schemaErr = err
			return
		}
		entry.schema, entry.schemaErr = compiler.Compile(url)
	})

	if entry.schemaErr != nil {
		// An uncompilable schema is the backend's problem, not the caller's.
		return nil
	}

	return entry.schema.Validate(toAnyValue(params))
}

// toAnyMap normalizes schema maps for the validator, which expects plain
// decoded-JSON values.
func toAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = toAnyValue(v)
	}
	return out
}

func toAnyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return toAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toAnyValue(item)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
