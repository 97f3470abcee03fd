// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configurator

import "context"

// Kind identifies the resource family a handler operates on.
type Kind string

const (
	KindPropertyFile   Kind = "property-file"
	KindManagedService Kind = "managed-service"
	KindBundle         Kind = "bundle"
	KindFeature        Kind = "feature"
)

// State is the result of a side-effect-free probe of a handler's target.
//
// Which fields are meaningful depends on Kind: Active for bundles and
// features, Properties for property files and managed services.
type State struct {
	Kind       Kind              `json:"kind"`
	Target     string            `json:"target"`
	Exists     bool              `json:"exists"`
	Active     bool              `json:"active"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Outcome is returned by a successful Commit.
type Outcome struct {
	// ConfigID is set only by managed-service creation: the id of the new
	// configuration instance. It is surfaced as PassManagedService.
	ConfigID string
}

// =============================================================================
// ConfigHandler Interface
// =============================================================================

// ConfigHandler is a reversible unit of work over one external resource.
//
// # Description
//
// Commit applies the change. Rollback undoes the most recent successful
// Commit. ReadState probes the target without changing it and is not part
// of the commit/rollback cycle.
//
// # Contract
//
//   - Rollback is valid only after a successful Commit. Otherwise it
//     returns an error wrapping ErrNotCommitted.
//   - Rollback is attempted at most once per Commit. A second call returns
//     ErrNotCommitted, whether or not the first attempt succeeded.
//   - Rollback is best-effort; it may fail, for example when the resource
//     vanished underneath it.
//   - Errors should be *ConfiguratorError. Other errors are wrapped.
//
// # Thread Safety
//
// Implementations need not be safe for concurrent use. The Configurator
// never calls two handlers, or two methods of one handler, concurrently.
type ConfigHandler interface {
	// Kind returns the resource family.
	Kind() Kind

	// Target identifies the resource: path, pid, bundle or feature name.
	Target() string

	// Commit applies the change.
	Commit(ctx context.Context) (Outcome, error)

	// Rollback reverts the most recent successful Commit.
	Rollback(ctx context.Context) error

	// ReadState returns the current external state of the target.
	ReadState(ctx context.Context) (State, error)
}

// Finisher is implemented by handlers that hold resources, such as file
// backups, until the transaction ends. Commit calls Finish on every
// registered Finisher once the forward and rollback passes are over,
// whatever the outcome.
type Finisher interface {
	Finish()
}

// RestoredConfigReporter is implemented by handlers whose rollback can
// recreate a configuration under a new id. A non-empty id is recorded as
// the ConfigID of the Rollback result.
type RestoredConfigReporter interface {
	RestoredConfigID() string
}
