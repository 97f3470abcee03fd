// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/cfgadmin/cmd/cfgadmin/config"
	"github.com/AleutianAI/cfgadmin/cmd/cfgadmin/internal/resilience"
	"github.com/AleutianAI/cfgadmin/pkg/logging"
	"github.com/AleutianAI/cfgadmin/services/configstore"
	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	"github.com/AleutianAI/cfgadmin/services/reportstore"
	"github.com/AleutianAI/cfgadmin/services/runtime"
	badgerstore "github.com/AleutianAI/cfgadmin/services/storage/badger"
)

// app holds everything a command needs, built from the config file.
type app struct {
	config   config.CfgadminConfig
	logger   *logging.Logger
	db       *badgerstore.DB
	configs  *configstore.Store
	registry *runtime.Registry
	reports  *reportstore.Store
	backups  *resilience.BackupManager
	locker   *resilience.FileLocker
	tracing  bool
}

// newApp loads the configuration and opens the stores.
//
// # Inputs
//
//   - path: Config file, or "" for ~/.cfgadmin/cfgadmin.yaml.
//   - console: Where console logs go. Logs go to stderr when nil.
//
// # Outputs
//
//   - *app: Caller must call close.
//   - error: Config, lock directory, or database failures.
func newApp(path string, console io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "cfgadmin",
		JSON:    cfg.Log.JSON,
		Output:  console,
	})

	a := &app{config: cfg, logger: logger}

	if cfg.Locks.Enabled {
		a.locker, err = resilience.NewFileLocker(resilience.LockConfig{
			Dir:  cfg.Locks.Dir,
			Wait: cfg.Locks.Wait,
		})
		if err != nil {
			logger.Close()
			return nil, err
		}
	}
	if cfg.Backup.Enabled {
		a.backups = resilience.NewBackupManager(resilience.BackupConfig{
			MaxBackups: cfg.Backup.MaxBackups,
			BackupDir:  cfg.Backup.Dir,
		})
	}

	dbCfg := badgerstore.DefaultConfig(cfg.DataDir)
	dbCfg.Logger = logger.Slog()
	a.db, err = badgerstore.Open(dbCfg)
	if err != nil {
		logger.Close()
		return nil, err
	}
	a.configs = configstore.New(a.db)
	a.registry = runtime.New(a.db, logger.Slog())
	a.reports = reportstore.New(a.db)
	return a, nil
}

// collaborators returns the handler collaborators backed by the app's
// stores.
func (a *app) collaborators() handlers.Collaborators {
	collab := handlers.Collaborators{
		Configs:  a.configs,
		Bundles:  a.registry,
		Features: a.registry,
	}
	if a.backups != nil {
		collab.Backups = a.backups
	}
	return collab
}

// options returns Configurator options for one transaction.
func (a *app) options() configurator.Options {
	opts := configurator.DefaultOptions()
	opts.Logger = a.logger.Slog()
	opts.Auditor = a.logger
	opts.StepTimeout = a.config.StepTimeout
	opts.Tracer = configurator.NewTracer(opts.Logger, a.tracing)
	if a.locker != nil {
		opts.Locker = a.locker
	}
	return opts
}

func (a *app) close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
