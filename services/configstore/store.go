// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configstore persists managed-service configurations in BadgerDB.
//
// A configuration is a flat property map addressed by pid. Singleton
// configurations use a fixed pid; factory configurations get a generated
// pid of the form "<factoryPid>.<uuid>" and remember their factory so a
// deleted configuration can be recreated under it.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	badgerstore "github.com/AleutianAI/cfgadmin/services/storage/badger"
)

const keyPrefix = "config/"

// ErrNotFound wraps handlers.ErrNotFound so handlers can treat a missing
// pid as absent state.
var ErrNotFound = fmt.Errorf("configuration %w", handlers.ErrNotFound)

// ErrEmptyPid is returned when a pid or factory pid is empty.
var ErrEmptyPid = errors.New("pid must not be empty")

// Record is one stored configuration.
type Record struct {
	Pid        string            `json:"pid"`
	FactoryPid string            `json:"factory_pid,omitempty"`
	Properties map[string]string `json:"properties"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Store is a handlers.ConfigStore backed by BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db  *badgerstore.DB
	now func() time.Time
}

// New returns a Store over db. The caller owns db.
func New(db *badgerstore.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func key(pid string) string { return keyPrefix + pid }

// Create stores props under a new pid derived from factoryPid.
func (s *Store) Create(ctx context.Context, factoryPid string, props map[string]string) (string, error) {
	if factoryPid == "" {
		return "", ErrEmptyPid
	}
	pid := factoryPid + "." + uuid.NewString()
	rec := Record{
		Pid:        pid,
		FactoryPid: factoryPid,
		Properties: cloneProps(props),
		UpdatedAt:  s.now().UTC(),
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return badgerstore.PutJSON(txn, key(pid), rec)
	})
	if err != nil {
		return "", fmt.Errorf("create configuration under %s: %w", factoryPid, err)
	}
	return pid, nil
}

// Get returns a copy of the properties stored under pid.
func (s *Store) Get(ctx context.Context, pid string) (map[string]string, error) {
	rec, err := s.Record(ctx, pid)
	if err != nil {
		return nil, err
	}
	return rec.Properties, nil
}

// Record returns the full stored record for pid.
func (s *Store) Record(ctx context.Context, pid string) (Record, error) {
	var rec Record
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerstore.GetJSON(txn, key(pid), &rec)
	})
	if errors.Is(err, badgerstore.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, pid)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read configuration %s: %w", pid, err)
	}
	if rec.Properties == nil {
		rec.Properties = map[string]string{}
	}
	return rec, nil
}

// Update replaces the properties of pid, creating a singleton
// configuration if pid does not exist. An existing factory association
// is kept.
func (s *Store) Update(ctx context.Context, pid string, props map[string]string) error {
	if pid == "" {
		return ErrEmptyPid
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var rec Record
		err := badgerstore.GetJSON(txn, key(pid), &rec)
		if err != nil && !errors.Is(err, badgerstore.ErrNotFound) {
			return err
		}
		rec.Pid = pid
		rec.Properties = cloneProps(props)
		rec.UpdatedAt = s.now().UTC()
		return badgerstore.PutJSON(txn, key(pid), rec)
	})
	if err != nil {
		return fmt.Errorf("update configuration %s: %w", pid, err)
	}
	return nil
}

// Delete removes pid. Deleting a missing pid returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, pid string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key(pid))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, pid)
			}
			return err
		}
		return txn.Delete([]byte(key(pid)))
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("delete configuration %s: %w", pid, err)
	}
	return nil
}

// FactoryPid returns the factory pid of pid, or "" for a singleton.
func (s *Store) FactoryPid(ctx context.Context, pid string) (string, error) {
	rec, err := s.Record(ctx, pid)
	if err != nil {
		return "", err
	}
	return rec.FactoryPid, nil
}

// List returns every stored record in pid order. A non-empty factoryPid
// restricts the result to that factory's configurations.
func (s *Store) List(ctx context.Context, factoryPid string) ([]Record, error) {
	prefix := keyPrefix
	if factoryPid != "" {
		prefix += factoryPid + "."
	}

	var out []Record
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerstore.ScanJSON(txn, prefix, false, func(k string, val []byte) error {
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("%s: %w", strings.TrimPrefix(k, keyPrefix), err)
			}
			if factoryPid != "" && rec.FactoryPid != factoryPid {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return out, nil
}

func cloneProps(props map[string]string) map[string]string {
	if props == nil {
		return map[string]string{}
	}
	return maps.Clone(props)
}

var _ handlers.ConfigStore = (*Store)(nil)
