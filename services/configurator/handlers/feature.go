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

// FeatureHandler starts (installs) or stops (uninstalls) a feature and
// restores its prior state on rollback.
type FeatureHandler struct {
	name     string
	start    bool
	features FeatureLifecycle

	priorInstalled bool
	commitTracker
}

// NewStartFeature returns a handler that installs the named feature.
func NewStartFeature(features FeatureLifecycle, name string) *FeatureHandler {
	return &FeatureHandler{name: name, start: true, features: features}
}

// NewStopFeature returns a handler that uninstalls the named feature.
func NewStopFeature(features FeatureLifecycle, name string) *FeatureHandler {
	return &FeatureHandler{name: name, start: false, features: features}
}

// Kind implements configurator.ConfigHandler.
func (h *FeatureHandler) Kind() configurator.Kind { return configurator.KindFeature }

// Target implements configurator.ConfigHandler.
func (h *FeatureHandler) Target() string { return h.name }

func (h *FeatureHandler) verb() string {
	if h.start {
		return "start feature"
	}
	return "stop feature"
}

// Commit records whether the feature was installed, then installs or
// uninstalls it.
func (h *FeatureHandler) Commit(ctx context.Context) (configurator.Outcome, error) {
	installed, err := h.features.FeatureInstalled(ctx, h.name)
	if err != nil {
		return configurator.Outcome{}, configurator.NewConfiguratorError(h.verb(), h.name, err)
	}
	h.priorInstalled = installed

	if err := h.apply(ctx, h.start); err != nil {
		return configurator.Outcome{}, configurator.NewConfiguratorError(h.verb(), h.name, err)
	}
	h.markCommitted()
	return configurator.Outcome{}, nil
}

// Rollback returns the feature to the state it had before Commit.
func (h *FeatureHandler) Rollback(ctx context.Context) error {
	if err := h.beginRollback(); err != nil {
		return configurator.NewConfiguratorError("roll back "+h.verb(), h.name, err)
	}
	if err := h.apply(ctx, h.priorInstalled); err != nil {
		return configurator.NewConfiguratorError("roll back "+h.verb(), h.name, err)
	}
	return nil
}

func (h *FeatureHandler) apply(ctx context.Context, install bool) error {
	installed, err := h.features.FeatureInstalled(ctx, h.name)
	if err != nil {
		return err
	}
	switch {
	case install && !installed:
		return h.features.InstallFeature(ctx, h.name)
	case !install && installed:
		return h.features.UninstallFeature(ctx, h.name)
	default:
		return nil
	}
}

// ReadState reports whether the feature is known and installed.
func (h *FeatureHandler) ReadState(ctx context.Context) (configurator.State, error) {
	st := configurator.State{Kind: configurator.KindFeature, Target: h.name}
	installed, err := h.features.FeatureInstalled(ctx, h.name)
	if errors.Is(err, ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, configurator.NewConfiguratorError("read feature state", h.name, err)
	}
	st.Exists = true
	st.Active = installed
	return st, nil
}

var _ configurator.ConfigHandler = (*FeatureHandler)(nil)
