package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
)

// Property describes one argument of a tool.
type Property struct {
	Type        string
	Description string
	// Values lists the primitive types allowed for the members of an
	// object-typed property. Empty means any.
	Values []string
}

// Schema is the subset of JSON Schema used for tool parameters: a flat object
// with typed properties. Arguments outside Properties are rejected.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// JSON renders the schema in the form expected by the model API.
func (s Schema) JSON() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		def := map[string]any{"type": p.Type}
		if p.Description != "" {
			def["description"] = p.Description
		}
		if len(p.Values) > 0 {
			def["additionalProperties"] = map[string]any{"type": p.Values}
		}
		props[name] = def
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Validate checks args against the schema.
func (s Schema) Validate(args map[string]any) error {
	for _, field := range s.Required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := s.Properties[key]
		if !ok {
			return fmt.Errorf("unknown field: %s", key)
		}
		value := args[key]
		if err := checkType(value, prop.Type); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if prop.Type != "object" || len(prop.Values) == 0 {
			continue
		}
		for member, v := range value.(map[string]any) {
			if !slices.ContainsFunc(prop.Values, func(t string) bool { return checkType(v, t) == nil }) {
				return fmt.Errorf("field %s.%s: expected one of %v but got %T", key, member, prop.Values, v)
			}
		}
	}
	return nil
}

func checkType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	case "null":
		if value == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64, int, int32, int64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}
