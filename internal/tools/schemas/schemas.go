// Package schemas provides JSON Schema definitions for OpenAI tool calling.
package schemas

import (
	"encoding/json"
	"slices"

	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

// Schema defines a tool's JSON schema in OpenAI function format.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SchemaBuilder provides a fluent interface for building tool schemas.
type SchemaBuilder struct {
	schema *Schema
}

// NewSchema creates a new schema builder with the given name and description.
func NewSchema(name, description string) *SchemaBuilder {
	return &SchemaBuilder{
		schema: &Schema{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": make(map[string]any),
				"required":   make([]string, 0),
			},
		},
	}
}

// AddParam adds a parameter to the schema.
func (b *SchemaBuilder) AddParam(name, paramType, description string, required bool) *SchemaBuilder {
	props := b.schema.Parameters["properties"].(map[string]any)
	props[name] = map[string]any{
		"type":        paramType,
		"description": description,
	}
	if required {
		req := b.schema.Parameters["required"].([]string)
		b.schema.Parameters["required"] = append(req, name)
	}
	return b
}

// Minimum constrains a numeric parameter added earlier.
func (b *SchemaBuilder) Minimum(name string, minimum int) *SchemaBuilder {
	props := b.schema.Parameters["properties"].(map[string]any)
	if p, ok := props[name].(map[string]any); ok {
		p["minimum"] = minimum
	}
	return b
}

// Build returns the constructed schema.
func (b *SchemaBuilder) Build() *Schema {
	return b.schema
}

// Required returns the names of the required parameters.
func (s *Schema) Required() []string {
	req, _ := s.Parameters["required"].([]string)
	return req
}

// Spec flattens the schema into the wire description of a tool.
func (s *Schema) Spec() protocol.ToolSpec {
	spec := protocol.ToolSpec{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  make(map[string]protocol.Parameter),
	}
	props, _ := s.Parameters["properties"].(map[string]any)
	for name, raw := range props {
		p, _ := raw.(map[string]any)
		typ, _ := p["type"].(string)
		desc, _ := p["description"].(string)
		spec.Parameters[name] = protocol.Parameter{
			Type:        typ,
			Description: desc,
			Required:    slices.Contains(s.Required(), name),
		}
	}
	return spec
}

// Registry holds tool schemas in registration order.
type Registry struct {
	order   []string
	schemas map[string]*Schema
}

// NewRegistry creates a new empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema to the registry. Re-registering a name replaces
// the schema and keeps its position.
func (r *Registry) Register(schema *Schema) {
	if _, ok := r.schemas[schema.Name]; !ok {
		r.order = append(r.order, schema.Name)
	}
	r.schemas[schema.Name] = schema
}

// Get retrieves a schema by name.
func (r *Registry) Get(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// List returns all registered schema names in registration order.
func (r *Registry) List() []string {
	return slices.Clone(r.order)
}

// Len returns the number of schemas.
func (r *Registry) Len() int {
	return len(r.order)
}

// All returns the schemas in registration order.
func (r *Registry) All() []*Schema {
	out := make([]*Schema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.schemas[name])
	}
	return out
}

// ToOpenAIFormat converts schemas to OpenAI function calling format.
func (r *Registry) ToOpenAIFormat() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, schema := range r.All() {
		result = append(result, map[string]any{
			"type":     "function",
			"function": schema,
		})
	}
	return result
}

// ToJSON returns the registry as JSON for debugging.
func (r *Registry) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r.All(), "", "  ")
}
