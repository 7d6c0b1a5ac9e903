package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// WriteTranscript stores a finished task as YAML at path, creating parent
// directories as needed.
func WriteTranscript(path string, res schemas.TaskResult) error {
	data, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create transcript directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// ReadTranscript loads a transcript written by WriteTranscript.
func ReadTranscript(path string) (schemas.TaskResult, error) {
	var res schemas.TaskResult
	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("failed to read transcript: %w", err)
	}
	if err := yaml.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return res, nil
}
