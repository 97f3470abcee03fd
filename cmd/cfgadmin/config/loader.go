// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is read.
const (
	EnvDataDir       = "CFGADMIN_DATA_DIR"
	EnvServerAddress = "CFGADMIN_SERVER_ADDRESS"
	EnvLogLevel      = "CFGADMIN_LOG_LEVEL"
	EnvTracing       = "CFGADMIN_TRACING"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPath returns ~/.cfgadmin/cfgadmin.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".cfgadmin", "cfgadmin.yaml"), nil
}

// Load reads the configuration at path, or DefaultPath when path is
// empty. A missing file is created with DefaultConfig first. Fields the
// file omits keep their defaults; "~" in directories is expanded.
func Load(path string) (CfgadminConfig, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return CfgadminConfig{}, err
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return CfgadminConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CfgadminConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CfgadminConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return CfgadminConfig{}, err
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Locks.Dir = expandHome(cfg.Locks.Dir)
	cfg.Backup.Dir = expandHome(cfg.Backup.Dir)
	cfg.Log.Dir = expandHome(cfg.Log.Dir)

	if err := cfg.Validate(); err != nil {
		return CfgadminConfig{}, err
	}
	return cfg, nil
}

// Validate checks values Load cannot default.
func (c CfgadminConfig) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.Locks.Enabled && c.Locks.Dir == "" {
		problems = append(problems, "locks.dir is required when locks are enabled")
	}
	if c.StepTimeout < 0 || c.Locks.Wait < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if c.Server.RateLimit < 0 {
		problems = append(problems, "server.rate_limit must not be negative")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				problems = append(problems, "tracing.endpoint is required for the otlp exporter")
			}
		default:
			problems = append(problems, fmt.Sprintf("tracing.exporter %q is not stdout or otlp", c.Tracing.Exporter))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func applyEnv(cfg *CfgadminConfig) error {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvServerAddress); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvTracing); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, EnvTracing, v)
		}
		cfg.Tracing.Enabled = enabled
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
