package contract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema renders the schema as a JSON Schema object document. Fields are
// optional: an agent may return a partial output mapping.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s))
	for name, typ := range s {
		if typ == TypeAny {
			properties[name] = map[string]any{}
			continue
		}
		properties[name] = map[string]any{"type": string(typ)}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}
}

// Validator checks output mappings against a compiled output schema.
type Validator struct {
	schema *jsonschema.Schema
}

// CompileOutputs compiles the contract's output schema.
func (c *Contract) CompileOutputs() (*Validator, error) {
	doc, err := normalizeJSON(c.Outputs.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("render output schema for %s: %w", c.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("contract-%s-outputs.json", c.Name)
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks outputs against the schema. Values are normalized through a
// JSON round trip so Go ints, structs and slices validate like decoded JSON.
func (v *Validator) Validate(outputs map[string]any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	doc, err := normalizeJSON(outputs)
	if err != nil {
		return fmt.Errorf("outputs are not JSON-serializable: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("outputs do not match declared schema: %w", err)
	}
	return nil
}

func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return doc, nil
}
