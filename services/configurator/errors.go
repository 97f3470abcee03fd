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

import (
	"errors"
	"fmt"
)

// Sentinel errors for the configurator.
var (
	// ErrNotCommitted is returned by Rollback when the handler has no
	// successful commit to undo, or its rollback was already attempted.
	ErrNotCommitted = errors.New("handler has no successful commit to roll back")

	// ErrAlreadyCommitted is returned when registering on a Configurator
	// whose Commit has started.
	ErrAlreadyCommitted = errors.New("configurator already committed")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrResourceLocked is the cause recorded when another transaction
	// holds the lock for a handler's target.
	ErrResourceLocked = errors.New("resource is locked by another transaction")

	// ErrHandlerPanic is the cause recorded when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// =============================================================================
// ConfiguratorError
// =============================================================================

// ConfiguratorError is the single error kind handlers raise to the
// Configurator.
//
// # Description
//
// Carries the operation that failed, the target it was applied to and the
// underlying cause. Supports errors.Is/As through Unwrap.
//
// # Example
//
//	return configurator.NewConfiguratorError("start bundle", name, err)
//
//	var cfgErr *configurator.ConfiguratorError
//	if errors.As(result.Cause, &cfgErr) {
//	    fmt.Println(cfgErr.Target)
//	}
type ConfiguratorError struct {
	// Op describes the operation, e.g. "create managed service".
	Op string

	// Target identifies the resource: path, pid, bundle or feature name.
	Target string

	// Cause is the underlying error. Never nil for errors built by
	// NewConfiguratorError.
	Cause error
}

// NewConfiguratorError creates a ConfiguratorError. A nil cause is
// replaced with a generic "unknown error" so Error() is always meaningful.
func NewConfiguratorError(op, target string, cause error) *ConfiguratorError {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	return &ConfiguratorError{Op: op, Target: target, Cause: cause}
}

// Error returns "<op> <target>: <cause>".
func (e *ConfiguratorError) Error() string {
	switch {
	case e.Op == "" && e.Target == "":
		return e.Cause.Error()
	case e.Target == "":
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Cause)
	}
}

// Unwrap returns the underlying cause.
func (e *ConfiguratorError) Unwrap() error {
	return e.Cause
}

var _ error = (*ConfiguratorError)(nil)

// AsConfiguratorError returns err as a *ConfiguratorError, wrapping it with
// op and target when it is not one already. Returns nil for a nil err.
func AsConfiguratorError(op, target string, err error) *ConfiguratorError {
	if err == nil {
		return nil
	}
	var cfgErr *ConfiguratorError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}
	return NewConfiguratorError(op, target, err)
}
