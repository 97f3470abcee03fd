// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reportstore keeps a journal of commit reports in BadgerDB.
//
// Reports are stored under a key that starts with their start time, so a
// reverse prefix scan lists the newest first. A second key maps the report
// id to the journal key for lookups.
package reportstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	badgerstore "github.com/AleutianAI/cfgadmin/services/storage/badger"
)

const (
	journalPrefix = "report/"
	indexPrefix   = "report-id/"

	// keyTimeFormat sorts lexically in time order.
	keyTimeFormat = "20060102T150405.000000000Z"

	// DefaultListLimit caps List when limit is not positive.
	DefaultListLimit = 50
)

var (
	// ErrNotFound is returned by Get for unknown report ids. It wraps
	// handlers.ErrNotFound.
	ErrNotFound = fmt.Errorf("report %w", handlers.ErrNotFound)

	// ErrNilReport is returned by Save for a nil report.
	ErrNilReport = errors.New("report is nil")
)

// Store persists configurator reports.
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

func journalKey(at time.Time, id string) string {
	return journalPrefix + at.UTC().Format(keyTimeFormat) + "/" + id
}

// Save writes the report's current record. Saving the same id again
// replaces the stored record in place.
func (s *Store) Save(ctx context.Context, report *configurator.ConfigReport) error {
	if report == nil {
		return ErrNilReport
	}
	rec := report.Record()

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var key string
		err := badgerstore.GetJSON(txn, indexPrefix+rec.ID, &key)
		switch {
		case errors.Is(err, badgerstore.ErrNotFound):
			at := rec.StartedAt
			if at.IsZero() {
				at = s.now()
			}
			key = journalKey(at, rec.ID)
			if err := badgerstore.PutJSON(txn, indexPrefix+rec.ID, key); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		return badgerstore.PutJSON(txn, key, rec)
	})
	if err != nil {
		return fmt.Errorf("save report %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the stored record for id.
func (s *Store) Get(ctx context.Context, id string) (configurator.ReportRecord, error) {
	var rec configurator.ReportRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var key string
		if err := badgerstore.GetJSON(txn, indexPrefix+id, &key); err != nil {
			return err
		}
		return badgerstore.GetJSON(txn, key, &rec)
	})
	if errors.Is(err, badgerstore.ErrNotFound) {
		return configurator.ReportRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return configurator.ReportRecord{}, fmt.Errorf("read report %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. A limit of zero or
// less uses DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]configurator.ReportRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := make([]configurator.ReportRecord, 0, limit)
	errLimit := errors.New("limit reached")
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerstore.ScanJSON(txn, journalPrefix, true, func(key string, val []byte) error {
			var rec configurator.ReportRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out = append(out, rec)
			if len(out) >= limit {
				return errLimit
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}
