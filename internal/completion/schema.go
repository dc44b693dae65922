package completion

import "sort"

// Schema is a named structured-output contract. The contract sent to the
// model is always strict: additional properties are forbidden and every
// declared property is required, so the model cannot omit or invent fields.
type Schema struct {
	Name       string
	Properties map[string]interface{}
}

// Strict renders the schema as a JSON Schema object with
// additionalProperties:false and required equal to all declared properties.
func (s Schema) Strict() map[string]interface{} {
	required := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		required = append(required, name)
	}
	sort.Strings(required)

	return map[string]interface{}{
		"type":                 "object",
		"properties":           s.Properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// StringProp returns a string property definition.
func StringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

// EnumProp returns a string property restricted to the given values.
func EnumProp(description string, values ...string) map[string]interface{} {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return map[string]interface{}{"type": "string", "description": description, "enum": enum}
}

// StringArrayProp returns a string-array property definition.
func StringArrayProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": "string"},
	}
}
