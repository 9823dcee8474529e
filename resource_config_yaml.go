package sirix

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// LoadResourceConfig reads a YAML-encoded ResourceConfig from path.
func LoadResourceConfig(path string) (*ResourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sirix: read resource config %s: %w", path, err)
	}
	cfg := DefaultResourceConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("sirix: parse resource config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveResourceConfig writes cfg to path as YAML, creating or truncating the
// file with mode 0644.
func SaveResourceConfig(path string, cfg *ResourceConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("sirix: marshal resource config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sirix: write resource config %s: %w", path, err)
	}
	return nil
}
