package util

import (
	"fmt"
	"strings"
)

// ValidationError describes one rejected argument.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateParameters checks call arguments against a JSON schema object. It
// covers the subset function declarations actually use: required fields,
// primitive type tags and enum membership. Failure messages name JSON types,
// the vocabulary the model sees in the schema, since they are returned to the
// model as tool results.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	required, _ := schema["required"].([]any)
	for _, req := range required {
		name, ok := req.(string)
		if !ok {
			continue
		}
		if _, exists := params[name]; !exists {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			// Arguments the schema does not declare pass through.
			continue
		}
		if err := checkType(name, value, prop); err != nil {
			return err
		}
		if err := checkEnum(name, value, prop); err != nil {
			return err
		}
	}

	return nil
}

// checkType compares the value's JSON type against the property's type tag.
// Untagged properties and null values are accepted as-is.
func checkType(field string, value any, prop map[string]any) error {
	want, _ := prop["type"].(string)
	if want == "" || value == nil {
		return nil
	}

	got := jsonType(value)
	switch want {
	case "number":
		if got == "number" || got == "integer" {
			return nil
		}
	case "integer":
		if got == "integer" {
			return nil
		}
	case "string", "boolean", "array", "object":
		if got == want {
			return nil
		}
	default:
		// Unrecognized type tags are not enforced.
		return nil
	}

	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("expected type %s, got %s", want, got),
	}
}

// checkEnum verifies membership when the property carries an enum list.
// Candidates are compared by their rendered form so a model-supplied 1 matches
// a schema-declared 1.0 and vice versa.
func checkEnum(field string, value any, prop map[string]any) error {
	allowed, _ := prop["enum"].([]any)
	if len(allowed) == 0 || value == nil {
		return nil
	}

	rendered := fmt.Sprintf("%v", value)
	parts := make([]string, len(allowed))
	for i, candidate := range allowed {
		parts[i] = fmt.Sprintf("%v", candidate)
		if parts[i] == rendered {
			return nil
		}
	}

	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("value must be one of [%s]", strings.Join(parts, ", ")),
	}
}

// jsonType names the JSON type a decoded Go value corresponds to. Integral
// floats count as integers because encoding/json delivers every number as
// float64.
func jsonType(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float64:
		if v == float64(int64(v)) {
			return "integer"
		}
		return "number"
	case float32:
		if float64(v) == float64(int64(v)) {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
