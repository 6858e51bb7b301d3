package events

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Field describes one expected payload field. Optional fields may be
// absent; present fields must always match their kind.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema is a declarative shape for an event payload. Unknown extra fields
// are ignored.
type Schema struct {
	Fields []Field
}

// Validate checks raw against the schema without touching any handler.
func (s Schema) Validate(raw json.RawMessage) error {
	if len(s.Fields) == 0 {
		return nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("payload is not an object: %w", err)
	}

	for _, f := range s.Fields {
		value, present := payload[f.Name]
		if !present || value == nil {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		switch f.Kind {
		case KindString:
			if _, ok := value.(string); !ok {
				return fmt.Errorf("field %q must be a string", f.Name)
			}
		case KindNumber:
			if _, ok := value.(float64); !ok {
				return fmt.Errorf("field %q must be a number", f.Name)
			}
		case KindBool:
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("field %q must be a boolean", f.Name)
			}
		}
	}
	return nil
}
