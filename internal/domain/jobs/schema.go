package jobs

import "fmt"

// FieldKind is the set of primitive JSON types a parameter field may be
// declared as. There is no struct/reflection-backed validator here: job
// parameters arrive as a free-form map[string]any over HTTP and the queue
// wire format, not as a known Go struct, so a schema is data, not a type.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldObject FieldKind = "object"
	FieldArray  FieldKind = "array"
)

// FieldSchema declares validation rules for one top-level job parameter.
// Min/Max apply to FieldNumber only; Allowed (when non-empty) restricts the
// field to an enumerated set of values, checked after the type check and
// compared with == (no coercion between numeric types).
type FieldSchema struct {
	Kind     FieldKind
	Required bool
	Default  any
	Min      *float64
	Max      *float64
	Allowed  []any
}

// ValidateParameters checks raw against schema, applying declared defaults
// for any missing optional field, and returns the resulting parameter map.
// raw is never mutated; the returned map is a fresh copy.
func ValidateParameters(schema map[string]FieldSchema, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for name, field := range schema {
		val, present := raw[name]
		if !present {
			if field.Required {
				return nil, NewError(ErrKindValidation, fmt.Sprintf("missing required parameter %q", name), nil)
			}
			if field.Default != nil {
				out[name] = field.Default
			}
			continue
		}
		if err := validateField(name, field, val); err != nil {
			return nil, err
		}
		out[name] = val
	}
	// Parameters not named in the schema pass through unchanged: the schema
	// constrains known fields, it does not whitelist the entire payload.
	for name, val := range raw {
		if _, known := schema[name]; !known {
			out[name] = val
		}
	}
	return out, nil
}

func validateField(name string, field FieldSchema, val any) error {
	switch field.Kind {
	case FieldString:
		if _, ok := val.(string); !ok {
			return typeErr(name, "string", val)
		}
	case FieldBool:
		if _, ok := val.(bool); !ok {
			return typeErr(name, "bool", val)
		}
	case FieldObject:
		if _, ok := val.(map[string]any); !ok {
			return typeErr(name, "object", val)
		}
	case FieldArray:
		if _, ok := val.([]any); !ok {
			return typeErr(name, "array", val)
		}
	case FieldNumber:
		n, ok := val.(float64)
		if !ok {
			return typeErr(name, "number", val)
		}
		if field.Min != nil && n < *field.Min {
			return NewError(ErrKindValidation, fmt.Sprintf("parameter %q below minimum %v", name, *field.Min), nil)
		}
		if field.Max != nil && n > *field.Max {
			return NewError(ErrKindValidation, fmt.Sprintf("parameter %q above maximum %v", name, *field.Max), nil)
		}
	}
	if len(field.Allowed) > 0 {
		matched := false
		for _, a := range field.Allowed {
			if a == val {
				matched = true
				break
			}
		}
		if !matched {
			return NewError(ErrKindValidation, fmt.Sprintf("parameter %q value %v not in allowed set %v", name, val, field.Allowed), nil)
		}
	}
	return nil
}

func typeErr(name, want string, got any) error {
	return NewError(ErrKindValidation, fmt.Sprintf("parameter %q must be %s, got %T", name, want, got), nil)
}
