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
	"log/slog"
	"maps"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

type managedOp int

const (
	managedCreate managedOp = iota
	managedUpdate
	managedDelete
)

func (op managedOp) String() string {
	switch op {
	case managedCreate:
		return "create managed service"
	case managedUpdate:
		return "update managed service"
	default:
		return "delete managed service"
	}
}

// ManagedServiceHandler creates, updates or deletes one managed-service
// configuration.
//
// # Description
//
//   - Create: adds a configuration under a factory pid. Commit returns the
//     new pid as Outcome.ConfigID; rollback deletes it.
//   - Update: replaces (or, with keepIgnored, merges into) the properties
//     of a pid; rollback restores the previous properties, or deletes the
//     pid if it did not exist.
//   - Delete: removes a pid; rollback recreates it. Factory configurations
//     come back under a new pid, which RestoredConfigID returns and the
//     Rollback result carries as its ConfigID.
type ManagedServiceHandler struct {
	op          managedOp
	pid         string
	factoryPid  string
	props       map[string]string
	keepIgnored bool
	configs     ConfigStore
	logger      *slog.Logger

	createdID    string
	restoredID   string
	prior        map[string]string
	priorExisted bool
	priorFactory string
	commitTracker
}

// NewCreateManagedService returns a handler that creates a configuration
// under factoryPid.
func NewCreateManagedService(configs ConfigStore, factoryPid string, props map[string]string) *ManagedServiceHandler {
	return &ManagedServiceHandler{op: managedCreate, factoryPid: factoryPid, props: maps.Clone(props), configs: configs}
}

// NewUpdateManagedService returns a handler that updates pid. With
// keepIgnored, keys absent from props keep their current values.
func NewUpdateManagedService(configs ConfigStore, pid string, props map[string]string, keepIgnored bool) *ManagedServiceHandler {
	return &ManagedServiceHandler{op: managedUpdate, pid: pid, props: maps.Clone(props), keepIgnored: keepIgnored, configs: configs}
}

// NewDeleteManagedService returns a handler that deletes pid.
func NewDeleteManagedService(configs ConfigStore, pid string) *ManagedServiceHandler {
	return &ManagedServiceHandler{op: managedDelete, pid: pid, configs: configs}
}

// WithLogger sets the logger used for rollback notes.
func (h *ManagedServiceHandler) WithLogger(logger *slog.Logger) *ManagedServiceHandler {
	h.logger = logger
	return h
}

// Kind implements configurator.ConfigHandler.
func (h *ManagedServiceHandler) Kind() configurator.Kind { return configurator.KindManagedService }

// Target is the factory pid for create, the pid otherwise.
func (h *ManagedServiceHandler) Target() string {
	if h.op == managedCreate {
		return h.factoryPid
	}
	return h.pid
}

// Commit implements configurator.ConfigHandler.
func (h *ManagedServiceHandler) Commit(ctx context.Context) (configurator.Outcome, error) {
	var outcome configurator.Outcome
	var err error

	switch h.op {
	case managedCreate:
		outcome, err = h.commitCreate(ctx)
	case managedUpdate:
		err = h.commitUpdate(ctx)
	case managedDelete:
		err = h.commitDelete(ctx)
	}
	if err != nil {
		return configurator.Outcome{}, configurator.AsConfiguratorError(h.op.String(), h.Target(), err)
	}
	h.markCommitted()
	return outcome, nil
}

func (h *ManagedServiceHandler) commitCreate(ctx context.Context) (configurator.Outcome, error) {
	id, err := h.configs.Create(ctx, h.factoryPid, h.props)
	if err != nil {
		return configurator.Outcome{}, err
	}
	h.createdID = id
	return configurator.Outcome{ConfigID: id}, nil
}

func (h *ManagedServiceHandler) commitUpdate(ctx context.Context) error {
	current, err := h.configs.Get(ctx, h.pid)
	switch {
	case errors.Is(err, ErrNotFound):
		h.priorExisted = false
		h.prior = nil
	case err != nil:
		return err
	default:
		h.priorExisted = true
		h.prior = maps.Clone(current)
	}

	next := maps.Clone(h.props)
	if h.keepIgnored && h.priorExisted {
		next = make(map[string]string, len(h.prior)+len(h.props))
		maps.Copy(next, h.prior)
		maps.Copy(next, h.props)
	}
	return h.configs.Update(ctx, h.pid, next)
}

func (h *ManagedServiceHandler) commitDelete(ctx context.Context) error {
	current, err := h.configs.Get(ctx, h.pid)
	if err != nil {
		return err
	}
	factory, err := h.configs.FactoryPid(ctx, h.pid)
	if err != nil {
		return err
	}
	h.prior = maps.Clone(current)
	h.priorFactory = factory
	return h.configs.Delete(ctx, h.pid)
}

// Rollback implements configurator.ConfigHandler.
func (h *ManagedServiceHandler) Rollback(ctx context.Context) error {
	op := "roll back " + h.op.String()
	if err := h.beginRollback(); err != nil {
		return configurator.NewConfiguratorError(op, h.Target(), err)
	}

	var err error
	switch h.op {
	case managedCreate:
		err = h.configs.Delete(ctx, h.createdID)
	case managedUpdate:
		if h.priorExisted {
			err = h.configs.Update(ctx, h.pid, h.prior)
		} else {
			err = h.configs.Delete(ctx, h.pid)
		}
	case managedDelete:
		err = h.restoreDeleted(ctx)
	}
	if err != nil {
		return configurator.NewConfiguratorError(op, h.Target(), err)
	}
	return nil
}

func (h *ManagedServiceHandler) restoreDeleted(ctx context.Context) error {
	if h.priorFactory == "" {
		return h.configs.Update(ctx, h.pid, h.prior)
	}
	id, err := h.configs.Create(ctx, h.priorFactory, h.prior)
	if err != nil {
		return err
	}
	h.restoredID = id
	if h.logger != nil {
		h.logger.Warn("factory configuration recreated under a new pid",
			slog.String("old_pid", h.pid),
			slog.String("new_pid", id),
			slog.String("factory_pid", h.priorFactory),
		)
	}
	return nil
}

// RestoredConfigID returns the pid a rolled back factory configuration
// delete was recreated under, or "" when rollback kept the original pid.
func (h *ManagedServiceHandler) RestoredConfigID() string {
	return h.restoredID
}

// ReadState returns the current properties of the pid. For create, this
// is the created pid once committed; before that nothing exists.
func (h *ManagedServiceHandler) ReadState(ctx context.Context) (configurator.State, error) {
	pid := h.pid
	if h.op == managedCreate {
		pid = h.createdID
	}
	st := configurator.State{Kind: configurator.KindManagedService, Target: h.Target()}
	if pid == "" {
		return st, nil
	}

	props, err := h.configs.Get(ctx, pid)
	if errors.Is(err, ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, configurator.NewConfiguratorError("read managed service", pid, err)
	}
	st.Exists = true
	st.Properties = props
	return st, nil
}

var (
	_ configurator.ConfigHandler          = (*ManagedServiceHandler)(nil)
	_ configurator.RestoredConfigReporter = (*ManagedServiceHandler)(nil)
)
