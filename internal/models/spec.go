package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ArgType is the form input kind for a model argument.
type ArgType string

const (
	ArgTypeFile      ArgType = "file"
	ArgTypeDirectory ArgType = "directory"
	ArgTypeText      ArgType = "text"
	ArgTypeNumber    ArgType = "number"
	ArgTypeBoolean   ArgType = "boolean"
	ArgTypeOption    ArgType = "option"
)

// ArgTypeFromSpec maps a backend argument type name onto a form input kind.
// Unknown names fall back to free text.
func ArgTypeFromSpec(name string) ArgType {
	switch name {
	case "csv", "vector", "raster", "file":
		return ArgTypeFile
	case "directory":
		return ArgTypeDirectory
	case "number", "ratio", "percent", "integer":
		return ArgTypeNumber
	case "boolean":
		return ArgTypeBoolean
	case "option_string":
		return ArgTypeOption
	default:
		return ArgTypeText
	}
}

// ModelInfo is one entry of the backend's model list.
type ModelInfo struct {
	InternalName string   `json:"internal_name"`
	Aliases      []string `json:"aliases,omitempty"`
}

// ModelSpec is the argument specification the backend reports for a model.
type ModelSpec struct {
	ModelName string             `json:"model_name"`
	Module    string             `json:"module"`
	UserGuide string             `json:"userguide_html,omitempty"`
	Args      map[string]ArgSpec `json:"args"`
}

// ArgSpec describes a single model argument.
type ArgSpec struct {
	Name              string            `json:"name"`
	Type              string            `json:"type"`
	About             string            `json:"about,omitempty"`
	Required          json.RawMessage   `json:"required,omitempty"`
	ValidationOptions ValidationOptions `json:"validation_options,omitempty"`
}

// ValidationOptions holds per-type validation hints.
type ValidationOptions struct {
	Options []string `json:"options,omitempty"`
}

// Keys returns the argument keys in sorted order.
func (s *ModelSpec) Keys() []string {
	keys := make([]string, 0, len(s.Args))
	for key := range s.Args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ValidationWarning is one entry of the backend's validation result: a
// message that applies to one or more argument keys.
type ValidationWarning struct {
	Keys    []string `json:"keys"`
	Message string   `json:"message"`
}

// UnmarshalJSON accepts the backend's [[keys...], "message"] pair form as
// well as the object form.
func (w *ValidationWarning) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("validation warning: expected 2 elements, got %d", len(pair))
		}
		if err := json.Unmarshal(pair[0], &w.Keys); err != nil {
			return fmt.Errorf("validation warning keys: %w", err)
		}
		if err := json.Unmarshal(pair[1], &w.Message); err != nil {
			return fmt.Errorf("validation warning message: %w", err)
		}
		return nil
	}

	type plain ValidationWarning
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*w = ValidationWarning(obj)
	return nil
}
