package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON renders the workflow as indented JSON.
func (w *CompiledWorkflow) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return data, nil
}

// ToYAML renders the workflow as YAML.
func (w *CompiledWorkflow) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return data, nil
}

// FromJSON decodes and validates a compiled workflow.
func FromJSON(data []byte) (*CompiledWorkflow, error) {
	var w CompiledWorkflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	if err := ValidateCompiled(&w); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &w, nil
}

// FromYAML decodes and validates a compiled workflow.
func FromYAML(data []byte) (*CompiledWorkflow, error) {
	var w CompiledWorkflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	if err := ValidateCompiled(&w); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &w, nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromFile reads a compiled workflow; the extension picks the codec.
func LoadFromFile(path string) (*CompiledWorkflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if isYAMLPath(path) {
		return FromYAML(data)
	}
	return FromJSON(data)
}

// SaveToFile writes the workflow; the extension picks the codec.
func (w *CompiledWorkflow) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAMLPath(path) {
		data, err = w.ToYAML()
	} else {
		data, err = w.ToJSON()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
