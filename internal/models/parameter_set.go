package models

import "strings"

// ParameterSet is a run configuration document.
type ParameterSet struct {
	Args          map[string]any `json:"args"`
	ModelName     string         `json:"model_name"`
	InvestVersion string         `json:"invest_version,omitempty"`
}

// Validate checks the required fields.
func (p *ParameterSet) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(p.ModelName) == "" {
		validation.AddMessage("model_name", "model_name is required")
	}
	if p.Args == nil {
		validation.AddMessage("args", "args is required")
	}
	return validation.Err()
}
