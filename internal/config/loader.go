package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*PlaneConfig, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/agentplane/config.json
// Project: .agentplane/config.json (relative to cwd)
func LoadDefault() (*PlaneConfig, error) {
	globalPath := filepath.Join(xdg.ConfigHome, "agentplane", "config.json")
	projectPath := filepath.Join(".agentplane", "config.json")

	return Load(globalPath, projectPath)
}

// DefaultArchivePath returns the conventional archive location under the
// XDG state directory.
func DefaultArchivePath() string {
	return filepath.Join(xdg.StateHome, "agentplane", "archive.db")
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Decoding over the base keeps base values for fields the file
// omits; fields the file sets (the fleet included) replace the base
// wholesale. Missing files are silently skipped.
func mergeConfigFile(base *PlaneConfig, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Parse JSON over the base
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
