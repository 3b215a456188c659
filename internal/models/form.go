package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrModelMismatch is returned when a parameter set belongs to another model.
	ErrModelMismatch = errors.New("parameter set does not match this model")
	// ErrUnknownArg is returned when setting a key the model does not define.
	ErrUnknownArg = errors.New("unknown argument")
)

// Keys that exist in every model spec but are never shown in the form.
var hiddenArgs = map[string]bool{
	"n_workers": true,
}

// ArgState is the form state of one argument.
type ArgState struct {
	DisplayName       string   `json:"display_name"`
	Type              ArgType  `json:"type"`
	Value             any      `json:"value"`
	Options           []string `json:"options,omitempty"`
	Touched           bool     `json:"touched"`
	Valid             bool     `json:"valid"`
	ValidationMessage string   `json:"validation_message,omitempty"`
}

// Form is the editable argument state of one model.
type Form struct {
	Module string               `json:"module"`
	Args   map[string]*ArgState `json:"args"`
}

// NewForm builds an empty form from a model spec. Option arguments start on
// their first option.
func NewForm(spec *ModelSpec) *Form {
	form := &Form{
		Module: spec.Module,
		Args:   make(map[string]*ArgState, len(spec.Args)),
	}
	for key, arg := range spec.Args {
		if hiddenArgs[key] {
			continue
		}
		state := &ArgState{
			DisplayName: arg.Name,
			Type:        ArgTypeFromSpec(arg.Type),
			Value:       "",
			Options:     arg.ValidationOptions.Options,
		}
		switch state.Type {
		case ArgTypeBoolean:
			state.Value = false
		case ArgTypeOption:
			if len(state.Options) > 0 {
				state.Value = state.Options[0]
			}
		}
		form.Args[key] = state
	}
	return form
}

// Set updates one argument value and marks it touched.
func (f *Form) Set(key string, value any) error {
	state, ok := f.Args[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArg, key)
	}
	normalized, err := normalizeValue(state, value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	state.Value = normalized
	state.Touched = true
	return nil
}

// ApplyParameterSet loads every known argument from ps. A parameter set for
// another model is rejected and the form is left unchanged.
func (f *Form) ApplyParameterSet(ps *ParameterSet) error {
	if ps.ModelName != f.Module {
		return fmt.Errorf("%w: got %q, want %q", ErrModelMismatch, ps.ModelName, f.Module)
	}

	updates := make(map[string]any, len(ps.Args))
	for key, value := range ps.Args {
		state, ok := f.Args[key]
		if !ok {
			continue
		}
		normalized, err := normalizeValue(state, value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		updates[key] = normalized
	}

	for key, value := range updates {
		f.Args[key].Value = value
		f.Args[key].Touched = true
	}
	return nil
}

// ApplyValidation marks every argument valid except those named in warnings.
func (f *Form) ApplyValidation(warnings []ValidationWarning) {
	for _, state := range f.Args {
		state.Valid = true
		state.ValidationMessage = ""
	}
	for _, warning := range warnings {
		for _, key := range warning.Keys {
			if state, ok := f.Args[key]; ok {
				state.Valid = false
				state.ValidationMessage = warning.Message
			}
		}
	}
}

// Valid reports whether every argument passed the last validation.
func (f *Form) Valid() bool {
	for _, state := range f.Args {
		if !state.Valid {
			return false
		}
	}
	return true
}

// Err returns the current validation failures, or nil.
func (f *Form) Err() error {
	validation := &ValidationErrors{}
	for key, state := range f.Args {
		if !state.Valid {
			validation.AddMessage(key, state.ValidationMessage)
		}
	}
	return validation.Err()
}

// Values returns the argument values as sent to the backend.
func (f *Form) Values() map[string]any {
	values := make(map[string]any, len(f.Args))
	for key, state := range f.Args {
		values[key] = state.Value
	}
	return values
}

func normalizeValue(state *ArgState, value any) (any, error) {
	if state.Type == ArgTypeBoolean {
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if strings.TrimSpace(v) == "" {
				return false, nil
			}
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("invalid boolean %q", v)
			}
			return b, nil
		case nil:
			return false, nil
		default:
			return nil, fmt.Errorf("invalid boolean %v", value)
		}
	}

	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		if state.Type == ArgTypeOption && len(state.Options) > 0 && !contains(state.Options, v) {
			return nil, fmt.Errorf("%q is not one of %s", v, strings.Join(state.Options, ", "))
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
