// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime tracks bundle and feature state in BadgerDB.
//
// Bundles are installed by DefineBundle and move between resolved and
// active. Features are named groups of bundles: installing a feature
// starts its bundles, uninstalling it stops the ones no other installed
// feature still needs.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	badgerstore "github.com/AleutianAI/cfgadmin/services/storage/badger"
)

const (
	bundlePrefix  = "bundle/"
	featurePrefix = "feature/"
)

// ErrNotFound wraps handlers.ErrNotFound for unknown bundles and features.
var ErrNotFound = fmt.Errorf("runtime %w", handlers.ErrNotFound)

// ErrEmptyName is returned when a bundle or feature name is empty.
var ErrEmptyName = errors.New("name must not be empty")

// Bundle is the stored state of one bundle.
type Bundle struct {
	Name      string               `json:"name"`
	State     handlers.BundleState `json:"state"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Feature is the stored definition and state of one feature.
type Feature struct {
	Name      string    `json:"name"`
	Bundles   []string  `json:"bundles"`
	Installed bool      `json:"installed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry implements handlers.BundleLifecycle and handlers.FeatureLifecycle.
//
// # Thread Safety
//
// Safe for concurrent use. Feature installs update the feature and its
// bundles in one badger transaction.
type Registry struct {
	db     *badgerstore.DB
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Registry over db. The caller owns db.
func New(db *badgerstore.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger, now: time.Now}
}

// =============================================================================
// Bundles
// =============================================================================

// DefineBundle installs a bundle in the resolved state. Defining an
// existing bundle leaves its state alone.
func (r *Registry) DefineBundle(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := r.defineBundleTxn(txn, name)
		return err
	})
}

func (r *Registry) defineBundleTxn(txn *badger.Txn, name string) (Bundle, error) {
	b, err := getBundle(txn, name)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Bundle{}, err
	}
	b = Bundle{Name: name, State: handlers.BundleResolved, UpdatedAt: r.now().UTC()}
	return b, badgerstore.PutJSON(txn, bundlePrefix+name, b)
}

// BundleState returns the current state of name.
func (r *Registry) BundleState(ctx context.Context, name string) (handlers.BundleState, error) {
	var b Bundle
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		b, err = getBundle(txn, name)
		return err
	})
	if err != nil {
		return "", err
	}
	return b.State, nil
}

// StartBundle moves name to active.
func (r *Registry) StartBundle(ctx context.Context, name string) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return r.setBundleTxn(txn, name, handlers.BundleActive)
	})
}

// StopBundle moves name to resolved.
func (r *Registry) StopBundle(ctx context.Context, name string) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return r.setBundleTxn(txn, name, handlers.BundleResolved)
	})
}

func (r *Registry) setBundleTxn(txn *badger.Txn, name string, state handlers.BundleState) error {
	b, err := getBundle(txn, name)
	if err != nil {
		return err
	}
	if b.State == state {
		return nil
	}
	b.State = state
	b.UpdatedAt = r.now().UTC()
	if err := badgerstore.PutJSON(txn, bundlePrefix+name, b); err != nil {
		return err
	}
	r.logger.Debug("bundle state changed", slog.String("bundle", name), slog.String("state", string(state)))
	return nil
}

// Bundles lists every bundle in name order.
func (r *Registry) Bundles(ctx context.Context) ([]Bundle, error) {
	var out []Bundle
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerstore.ScanJSON(txn, bundlePrefix, false, func(_ string, val []byte) error {
			var b Bundle
			if err := json.Unmarshal(val, &b); err != nil {
				return err
			}
			out = append(out, b)
			return nil
		})
	})
	return out, err
}

func getBundle(txn *badger.Txn, name string) (Bundle, error) {
	var b Bundle
	err := badgerstore.GetJSON(txn, bundlePrefix+name, &b)
	if errors.Is(err, badgerstore.ErrNotFound) {
		return Bundle{}, fmt.Errorf("%w: bundle %s", ErrNotFound, name)
	}
	return b, err
}

// =============================================================================
// Features
// =============================================================================

// DefineFeature records a feature and the bundles it contains. Missing
// bundles are defined in the resolved state. Redefining a feature
// replaces its bundle list and keeps its installed flag.
func (r *Registry) DefineFeature(ctx context.Context, name string, bundles []string) error {
	if name == "" {
		return ErrEmptyName
	}
	if slices.Contains(bundles, "") {
		return fmt.Errorf("feature %s: bundle %w", name, ErrEmptyName)
	}
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, b := range bundles {
			if _, err := r.defineBundleTxn(txn, b); err != nil {
				return err
			}
		}
		f, err := getFeature(txn, name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		f.Name = name
		f.Bundles = slices.Clone(bundles)
		f.UpdatedAt = r.now().UTC()
		return badgerstore.PutJSON(txn, featurePrefix+name, f)
	})
}

// Feature returns the stored feature.
func (r *Registry) Feature(ctx context.Context, name string) (Feature, error) {
	var f Feature
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		f, err = getFeature(txn, name)
		return err
	})
	return f, err
}

// FeatureInstalled reports whether name is installed.
func (r *Registry) FeatureInstalled(ctx context.Context, name string) (bool, error) {
	f, err := r.Feature(ctx, name)
	if err != nil {
		return false, err
	}
	return f.Installed, nil
}

// InstallFeature marks name installed and starts its bundles.
func (r *Registry) InstallFeature(ctx context.Context, name string) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		f, err := getFeature(txn, name)
		if err != nil {
			return err
		}
		for _, b := range f.Bundles {
			if err := r.setBundleTxn(txn, b, handlers.BundleActive); err != nil {
				return fmt.Errorf("feature %s: %w", name, err)
			}
		}
		f.Installed = true
		f.UpdatedAt = r.now().UTC()
		return badgerstore.PutJSON(txn, featurePrefix+name, f)
	})
}

// UninstallFeature marks name uninstalled and stops its bundles, except
// those another installed feature contains.
func (r *Registry) UninstallFeature(ctx context.Context, name string) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		f, err := getFeature(txn, name)
		if err != nil {
			return err
		}

		needed := make(map[string]bool)
		err = badgerstore.ScanJSON(txn, featurePrefix, false, func(_ string, val []byte) error {
			var other Feature
			if err := json.Unmarshal(val, &other); err != nil {
				return err
			}
			if other.Name != name && other.Installed {
				for _, b := range other.Bundles {
					needed[b] = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, b := range f.Bundles {
			if needed[b] {
				continue
			}
			if err := r.setBundleTxn(txn, b, handlers.BundleResolved); err != nil {
				return fmt.Errorf("feature %s: %w", name, err)
			}
		}
		f.Installed = false
		f.UpdatedAt = r.now().UTC()
		return badgerstore.PutJSON(txn, featurePrefix+name, f)
	})
}

// Features lists every feature in name order.
func (r *Registry) Features(ctx context.Context) ([]Feature, error) {
	var out []Feature
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerstore.ScanJSON(txn, featurePrefix, false, func(_ string, val []byte) error {
			var f Feature
			if err := json.Unmarshal(val, &f); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
	})
	return out, err
}

func getFeature(txn *badger.Txn, name string) (Feature, error) {
	var f Feature
	err := badgerstore.GetJSON(txn, featurePrefix+name, &f)
	if errors.Is(err, badgerstore.ErrNotFound) {
		return Feature{}, fmt.Errorf("%w: feature %s", ErrNotFound, name)
	}
	return f, err
}

var (
	_ handlers.BundleLifecycle  = (*Registry)(nil)
	_ handlers.FeatureLifecycle = (*Registry)(nil)
)
