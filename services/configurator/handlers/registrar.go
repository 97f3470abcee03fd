// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

// Registrar builds handlers from Collaborators and registers them on a
// Configurator.
//
// # Example
//
//	cfg := configurator.New(configurator.DefaultOptions())
//	reg := handlers.NewRegistrar(cfg, collab)
//	reg.StopFeature("catalog-solr")
//	reg.UpdateManagedService("ddf.catalog.solr", props, true)
//	reg.StartFeature("catalog-solr")
//	report := cfg.Commit(ctx, "reconfigure solr")
//
// Every method returns the correlation id of the registered handler.
type Registrar struct {
	cfg    *configurator.Configurator
	collab Collaborators
	logger *slog.Logger
}

// NewRegistrar wraps cfg. collab supplies the collaborators handlers need.
func NewRegistrar(cfg *configurator.Configurator, collab Collaborators) *Registrar {
	return &Registrar{cfg: cfg, collab: collab, logger: slog.Default()}
}

// WithLogger sets the logger handed to handlers that log during rollback.
func (r *Registrar) WithLogger(logger *slog.Logger) *Registrar {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Configurator returns the wrapped Configurator.
func (r *Registrar) Configurator() *configurator.Configurator {
	return r.cfg
}

// StartBundle registers a handler that starts a bundle.
func (r *Registrar) StartBundle(name string) (string, error) {
	if r.collab.Bundles == nil {
		return "", missing("bundle lifecycle")
	}
	return r.cfg.Add(NewStartBundle(r.collab.Bundles, name))
}

// StopBundle registers a handler that stops a bundle.
func (r *Registrar) StopBundle(name string) (string, error) {
	if r.collab.Bundles == nil {
		return "", missing("bundle lifecycle")
	}
	return r.cfg.Add(NewStopBundle(r.collab.Bundles, name))
}

// StartFeature registers a handler that installs a feature.
func (r *Registrar) StartFeature(name string) (string, error) {
	if r.collab.Features == nil {
		return "", missing("feature lifecycle")
	}
	return r.cfg.Add(NewStartFeature(r.collab.Features, name))
}

// StopFeature registers a handler that uninstalls a feature.
func (r *Registrar) StopFeature(name string) (string, error) {
	if r.collab.Features == nil {
		return "", missing("feature lifecycle")
	}
	return r.cfg.Add(NewStopFeature(r.collab.Features, name))
}

// CreatePropertyFile registers a handler that creates a property file.
func (r *Registrar) CreatePropertyFile(path string, props map[string]string) (string, error) {
	return r.cfg.Add(NewCreatePropertyFile(r.collab.Backups, path, props))
}

// UpdatePropertyFile registers a handler that updates a property file.
func (r *Registrar) UpdatePropertyFile(path string, props map[string]string, keepIgnored bool) (string, error) {
	return r.cfg.Add(NewUpdatePropertyFile(r.collab.Backups, path, props, keepIgnored))
}

// DeletePropertyFile registers a handler that deletes a property file.
func (r *Registrar) DeletePropertyFile(path string) (string, error) {
	return r.cfg.Add(NewDeletePropertyFile(r.collab.Backups, path))
}

// CreateManagedService registers a handler that creates a factory
// configuration. Its report entry carries the new pid.
func (r *Registrar) CreateManagedService(factoryPid string, props map[string]string) (string, error) {
	if r.collab.Configs == nil {
		return "", missing("config store")
	}
	return r.cfg.Add(NewCreateManagedService(r.collab.Configs, factoryPid, props).WithLogger(r.logger))
}

// UpdateManagedService registers a handler that updates a configuration.
func (r *Registrar) UpdateManagedService(pid string, props map[string]string, keepIgnored bool) (string, error) {
	if r.collab.Configs == nil {
		return "", missing("config store")
	}
	return r.cfg.Add(NewUpdateManagedService(r.collab.Configs, pid, props, keepIgnored).WithLogger(r.logger))
}

// DeleteManagedService registers a handler that deletes a configuration.
func (r *Registrar) DeleteManagedService(pid string) (string, error) {
	if r.collab.Configs == nil {
		return "", missing("config store")
	}
	return r.cfg.Add(NewDeleteManagedService(r.collab.Configs, pid).WithLogger(r.logger))
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", ErrMissingCollaborator, what)
}
