package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema renders the parameter contract as a JSON Schema object, the
// shape reasoning engines expect in a tool declaration.
func (d Definition) JSONSchema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	for _, name := range d.ParameterNames() {
		spec := d.Parameters[name]
		prop := map[string]any{"type": string(spec.Type)}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = append([]string(nil), spec.Enum...)
		}
		if spec.Format == FormatDate {
			prop["format"] = "date"
			prop["pattern"] = datePattern.String()
		}
		if spec.Minimum != nil {
			prop["minimum"] = *spec.Minimum
		}
		if spec.Maximum != nil {
			prop["maximum"] = *spec.Maximum
		}
		properties[name] = prop
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if required := d.RequiredParameters(); len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Declaration is the tool entry advertised to the reasoning engine.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Declarations returns every registered tool as a reasoning-engine declaration.
func (r *Registry) Declarations() []Declaration {
	defs := r.List()
	out := make([]Declaration, 0, len(defs))
	for _, def := range defs {
		out = append(out, Declaration{
			Name:        string(def.Name),
			Description: def.Description,
			Parameters:  def.JSONSchema(),
		})
	}
	return out
}

// CompileSchema compiles the definition's JSON Schema so it can be used to
// validate payloads outside the engine (for example at the HTTP edge).
func (d Definition) CompileSchema() (*jsonschema.Schema, error) {
	raw, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", d.Name, err)
	}
	schema, err := jsonschema.CompileString("tool_"+string(d.Name)+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", d.Name, err)
	}
	return schema, nil
}
