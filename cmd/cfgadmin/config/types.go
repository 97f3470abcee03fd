// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the cfgadmin configuration file.
package config

import "time"

// CfgadminConfig is the root of ~/.cfgadmin/cfgadmin.yaml.
type CfgadminConfig struct {
	// DataDir holds the badger database with configurations, bundle and
	// feature state, and the report journal.
	DataDir string `yaml:"data_dir"`

	// StepTimeout bounds each handler commit and rollback. Zero disables it.
	StepTimeout time.Duration `yaml:"step_timeout"`

	Locks   LockConfig    `yaml:"locks"`
	Backup  BackupConfig  `yaml:"backup"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LockConfig controls cross-process resource locks.
type LockConfig struct {
	// Enabled turns on per-target file locks.
	Enabled bool `yaml:"enabled"`

	// Dir holds the lock files.
	Dir string `yaml:"dir"`

	// Wait is how long to wait for a held lock before failing the step.
	Wait time.Duration `yaml:"wait"`
}

// BackupConfig controls property file backups.
type BackupConfig struct {
	// Enabled writes a timestamped copy of each property file before it
	// is changed. When disabled, snapshots are kept in memory only.
	Enabled bool `yaml:"enabled"`

	// Dir stores backups. Empty keeps them next to the original.
	Dir string `yaml:"dir"`

	// MaxBackups is the number of backups kept per file.
	MaxBackups int `yaml:"max_backups"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig controls `cfgadmin serve`.
type ServerConfig struct {
	Address   string  `yaml:"address"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is "stdout" or "otlp".
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() CfgadminConfig {
	return CfgadminConfig{
		DataDir:     "~/.cfgadmin/data",
		StepTimeout: 2 * time.Minute,
		Locks: LockConfig{
			Enabled: true,
			Dir:     "~/.cfgadmin/locks",
			Wait:    5 * time.Second,
		},
		Backup: BackupConfig{
			Enabled:    true,
			Dir:        "~/.cfgadmin/backups",
			MaxBackups: 5,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "~/.cfgadmin/logs",
		},
		Server: ServerConfig{
			Address:   "127.0.0.1:8181",
			RateLimit: 2,
			RateBurst: 4,
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "otlp",
			Endpoint: "localhost:4317",
			Insecure: true,
		},
	}
}
