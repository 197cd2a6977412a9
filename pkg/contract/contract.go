// Package contract defines the declarative descriptor of an agent: identity,
// capabilities, input/output schema, dependencies and failure policy.
//
// Contracts are loaded once at startup (see Load, LoadDir, Defaults), checked
// with Validate, and treated as read-only for the life of the process.
package contract

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"time"
)

// FieldType is the declared type of one input or output field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeAny:
		return true
	default:
		return false
	}
}

// Schema maps a field name to its declared type.
type Schema map[string]FieldType

// Fields returns the field names in sorted order.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declares reports whether field is part of the schema.
func (s Schema) Declares(field string) bool {
	_, ok := s[field]
	return ok
}

// Execution defaults applied when neither the contract nor config set a value.
const (
	DefaultTimeout     = 2 * time.Minute
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.1
)

//nolint:gochecknoglobals // compiled once
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Contract is the immutable descriptor of one agent.
type Contract struct {
	Name         string
	Description  string
	Capabilities []string
	Inputs       Schema
	Outputs      Schema
	DependsOn    []string
	RetryBudget  int
	Fallback     string

	// Execution defaults handed to the executable.
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
	Options     map[string]any
}

// HasCapability reports whether the contract carries the tag.
func (c *Contract) HasCapability(tag string) bool {
	return slices.Contains(c.Capabilities, tag)
}

// HasFallback reports whether a fallback agent is configured.
func (c *Contract) HasFallback() bool {
	return c.Fallback != ""
}

// EffectiveTimeout returns the per-attempt time budget.
func (c *Contract) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Validate checks the contract in isolation. References to other agents are
// resolved later by the registry, once every contract is known.
func (c *Contract) Validate() error {
	var reasons []string

	if c.Name == "" {
		reasons = append(reasons, "name is required")
	} else if !namePattern.MatchString(c.Name) {
		reasons = append(reasons, fmt.Sprintf("name %q must match %s", c.Name, namePattern.String()))
	}
	if c.RetryBudget < 0 {
		reasons = append(reasons, fmt.Sprintf("retry_budget must be non-negative, got %d", c.RetryBudget))
	}
	if c.Timeout < 0 {
		reasons = append(reasons, fmt.Sprintf("timeout must be non-negative, got %v", c.Timeout))
	}
	if c.MaxTokens < 0 {
		reasons = append(reasons, fmt.Sprintf("max_tokens must be non-negative, got %d", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		reasons = append(reasons, fmt.Sprintf("temperature must be between 0 and 2, got %.2f", c.Temperature))
	}
	for _, field := range c.Inputs.Fields() {
		if !c.Inputs[field].Valid() {
			reasons = append(reasons, fmt.Sprintf("input %q has unknown type %q", field, c.Inputs[field]))
		}
	}
	for _, field := range c.Outputs.Fields() {
		if !c.Outputs[field].Valid() {
			reasons = append(reasons, fmt.Sprintf("output %q has unknown type %q", field, c.Outputs[field]))
		}
	}

	seen := make(map[string]bool, len(c.DependsOn))
	for _, dep := range c.DependsOn {
		switch {
		case dep == c.Name:
			reasons = append(reasons, "agent cannot depend on itself")
		case seen[dep]:
			reasons = append(reasons, fmt.Sprintf("dependency %q listed twice", dep))
		}
		seen[dep] = true
	}
	if c.Fallback != "" && c.Fallback == c.Name {
		reasons = append(reasons, "agent cannot be its own fallback")
	}

	if len(reasons) > 0 {
		return &InvalidContractError{Agent: c.Name, Reasons: reasons}
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias registry-owned slices and maps.
func (c *Contract) Clone() Contract {
	out := *c
	out.Capabilities = slices.Clone(c.Capabilities)
	out.DependsOn = slices.Clone(c.DependsOn)
	if c.Inputs != nil {
		out.Inputs = make(Schema, len(c.Inputs))
		for k, v := range c.Inputs {
			out.Inputs[k] = v
		}
	}
	if c.Outputs != nil {
		out.Outputs = make(Schema, len(c.Outputs))
		for k, v := range c.Outputs {
			out.Outputs[k] = v
		}
	}
	if c.Options != nil {
		out.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}
