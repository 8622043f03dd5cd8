package dispatcher

import (
	"fmt"
	"sync"
)

// FieldKind names the structural type a schema field's value must hold.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldArray  FieldKind = "array"
	FieldObject FieldKind = "object"
)

// FieldSpec declares one output field's structural requirement.
type FieldSpec struct {
	Kind     FieldKind
	Required bool
}

// TargetSchema is the declared output contract for one dispatch target.
type TargetSchema map[string]FieldSpec

// StructuralValidator is a hand-rolled SchemaValidator: given a task's
// target, it checks that every required field is present and holds a
// value of the declared structural kind. It does not implement general
// JSON Schema (refs, composition, formats) — see DESIGN.md for why no
// third-party schema library from the retrieval pack was wired in its
// place. A target with no registered schema passes unconditionally,
// since not every tool/agent target declares an output contract.
type StructuralValidator struct {
	mu      sync.RWMutex
	schemas map[string]TargetSchema
}

// NewStructuralValidator creates a validator over the given target schemas.
func NewStructuralValidator(schemas map[string]TargetSchema) *StructuralValidator {
	copied := make(map[string]TargetSchema, len(schemas))
	for k, v := range schemas {
		copied[k] = v
	}
	return &StructuralValidator{schemas: copied}
}

// Register adds or replaces the schema for target.
func (v *StructuralValidator) Register(target string, schema TargetSchema) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[target] = schema
}

// Validate implements SchemaValidator.
func (v *StructuralValidator) Validate(target string, output map[string]any) error {
	v.mu.RLock()
	schema, ok := v.schemas[target]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	for field, spec := range schema {
		value, present := output[field]
		if !present {
			if spec.Required {
				return fmt.Errorf("dispatcher: output for target %s missing required field %q", target, field)
			}
			continue
		}
		if !matchesKind(value, spec.Kind) {
			return fmt.Errorf("dispatcher: field %q for target %s has the wrong type, want %s", field, target, spec.Kind)
		}
	}
	return nil
}

func matchesKind(value any, kind FieldKind) bool {
	switch kind {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		default:
			return false
		}
	case FieldBool:
		_, ok := value.(bool)
		return ok
	case FieldArray:
		_, ok := value.([]any)
		return ok
	case FieldObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
