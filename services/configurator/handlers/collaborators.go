// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements configurator.ConfigHandler for property
// files, managed-service configurations, bundles and features.
//
// Handlers never look up their collaborators; they receive them through
// Collaborators, usually via a Registrar.
package handlers

import (
	"context"
	"errors"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

// Sentinel errors shared by handlers and collaborator implementations.
var (
	// ErrNotFound is returned by collaborators for unknown pids, bundles
	// or features.
	ErrNotFound = errors.New("not found")

	// ErrMissingCollaborator is returned when a handler is registered
	// without the collaborator it needs.
	ErrMissingCollaborator = errors.New("required collaborator not configured")

	// ErrFileExists is returned when creating a property file that exists.
	ErrFileExists = errors.New("property file already exists")

	// ErrFileNotFound is returned when updating or deleting a missing
	// property file.
	ErrFileNotFound = errors.New("property file does not exist")
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// ConfigStore holds managed-service configurations keyed by pid.
//
// Factory configurations get a generated pid on Create. Update upserts, so
// it also restores singleton configurations that were deleted.
type ConfigStore interface {
	Create(ctx context.Context, factoryPid string, props map[string]string) (pid string, err error)
	Get(ctx context.Context, pid string) (map[string]string, error)
	Update(ctx context.Context, pid string, props map[string]string) error
	Delete(ctx context.Context, pid string) error
	FactoryPid(ctx context.Context, pid string) (string, error)
}

// BundleState is the lifecycle state of a bundle.
type BundleState string

const (
	BundleInstalled BundleState = "installed"
	BundleResolved  BundleState = "resolved"
	BundleActive    BundleState = "active"
)

// BundleLifecycle starts and stops bundles by symbolic name.
type BundleLifecycle interface {
	BundleState(ctx context.Context, name string) (BundleState, error)
	StartBundle(ctx context.Context, name string) error
	StopBundle(ctx context.Context, name string) error
}

// FeatureLifecycle installs and uninstalls features by name.
type FeatureLifecycle interface {
	FeatureInstalled(ctx context.Context, name string) (bool, error)
	InstallFeature(ctx context.Context, name string) error
	UninstallFeature(ctx context.Context, name string) error
}

// Backups snapshots files before they are changed. The resilience
// BackupManager satisfies it.
type Backups interface {
	BackupBeforeOverwrite(path string) (backupPath string, err error)
	RestoreBackup(backupPath, originalPath string) error
}

// BackupReleaser is implemented by Backups that keep handed-out backups
// out of rotation until they are restored or released. Property file
// handlers release their backup when the transaction finishes without
// restoring it.
type BackupReleaser interface {
	ReleaseBackup(backupPath, originalPath string) error
}

// Collaborators bundles everything handlers need. Nil fields are allowed
// as long as no handler that needs them is registered.
type Collaborators struct {
	Configs  ConfigStore
	Bundles  BundleLifecycle
	Features FeatureLifecycle

	// Backups is optional; property file handlers keep snapshots in
	// memory when it is nil.
	Backups Backups
}

// commitTracker enforces the rollback precondition: one rollback attempt
// per successful commit.
type commitTracker struct {
	committed bool
}

func (t *commitTracker) markCommitted() {
	t.committed = true
}

// beginRollback consumes the commit. It fails with ErrNotCommitted when
// there is nothing to roll back.
func (t *commitTracker) beginRollback() error {
	if !t.committed {
		return configurator.ErrNotCommitted
	}
	t.committed = false
	return nil
}
