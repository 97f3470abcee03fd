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
	"context"
	"errors"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

// BundleHandler starts or stops a bundle and restores its prior state on
// rollback.
type BundleHandler struct {
	name    string
	start   bool
	bundles BundleLifecycle

	priorActive bool
	commitTracker
}

// NewStartBundle returns a handler that starts the named bundle.
func NewStartBundle(bundles BundleLifecycle, name string) *BundleHandler {
	return &BundleHandler{name: name, start: true, bundles: bundles}
}

// NewStopBundle returns a handler that stops the named bundle.
func NewStopBundle(bundles BundleLifecycle, name string) *BundleHandler {
	return &BundleHandler{name: name, start: false, bundles: bundles}
}

// Kind implements configurator.ConfigHandler.
func (h *BundleHandler) Kind() configurator.Kind { return configurator.KindBundle }

// Target implements configurator.ConfigHandler.
func (h *BundleHandler) Target() string { return h.name }

func (h *BundleHandler) verb() string {
	if h.start {
		return "start bundle"
	}
	return "stop bundle"
}

// Commit records whether the bundle was active, then starts or stops it.
// A bundle already in the desired state is left alone.
func (h *BundleHandler) Commit(ctx context.Context) (configurator.Outcome, error) {
	state, err := h.bundles.BundleState(ctx, h.name)
	if err != nil {
		return configurator.Outcome{}, configurator.NewConfiguratorError(h.verb(), h.name, err)
	}
	h.priorActive = state == BundleActive

	if err := h.apply(ctx, h.start); err != nil {
		return configurator.Outcome{}, configurator.NewConfiguratorError(h.verb(), h.name, err)
	}
	h.markCommitted()
	return configurator.Outcome{}, nil
}

// Rollback returns the bundle to the state it had before Commit.
func (h *BundleHandler) Rollback(ctx context.Context) error {
	if err := h.beginRollback(); err != nil {
		return configurator.NewConfiguratorError("roll back "+h.verb(), h.name, err)
	}
	if err := h.apply(ctx, h.priorActive); err != nil {
		return configurator.NewConfiguratorError("roll back "+h.verb(), h.name, err)
	}
	return nil
}

// apply drives the bundle to active or inactive when it is not already.
func (h *BundleHandler) apply(ctx context.Context, active bool) error {
	state, err := h.bundles.BundleState(ctx, h.name)
	if err != nil {
		return err
	}
	isActive := state == BundleActive
	switch {
	case active && !isActive:
		return h.bundles.StartBundle(ctx, h.name)
	case !active && isActive:
		return h.bundles.StopBundle(ctx, h.name)
	default:
		return nil
	}
}

// ReadState reports whether the bundle is installed and active.
func (h *BundleHandler) ReadState(ctx context.Context) (configurator.State, error) {
	st := configurator.State{Kind: configurator.KindBundle, Target: h.name}
	state, err := h.bundles.BundleState(ctx, h.name)
	if errors.Is(err, ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, configurator.NewConfiguratorError("read bundle state", h.name, err)
	}
	st.Exists = true
	st.Active = state == BundleActive
	return st, nil
}

var _ configurator.ConfigHandler = (*BundleHandler)(nil)
