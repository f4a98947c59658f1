// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config location used when no --config flag is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".chartgate", "chartgate.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
// An empty path resolves to DefaultPath. Missing fields keep their
// default values; the result is validated before it is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Quality.Weights = cfg.Quality.Weights.Normalize()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments adjust the file config
// without editing it. Only operational knobs are overridable; quality
// policy stays in the file.
func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("CHARTGATE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("CHARTGATE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("CHARTGATE_RECORDS_DIR"); dir != "" {
		cfg.Storage.RecordsDir = dir
	}
	if dir := os.Getenv("CHARTGATE_REPORTS_DIR"); dir != "" {
		cfg.Storage.ReportsDir = dir
	}
}

// ExpandPath resolves a leading "~" against the user's home directory.
// Paths without a tilde come back unchanged, as does anything when the
// home directory cannot be determined.
func ExpandPath(path string) string {
	if path == "~" || len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
