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
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Entry is one row of a ConfigReport.
type Entry struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind,omitempty"`
	Target string `json:"target,omitempty"`
	Result Result `json:"result"`
}

// ConfigReport maps correlation ids to results.
//
// # Description
//
// PutResult is last-write-wins. Entries keep the order in which their ids
// were first seen, which for a committed Configurator is registration
// order.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ConfigReport struct {
	mu sync.RWMutex

	id           string
	auditMessage string
	startedAt    time.Time
	completedAt  time.Time

	order   []string
	entries map[string]*Entry
}

// NewConfigReport creates an empty report with the given id.
func NewConfigReport(id string) *ConfigReport {
	return &ConfigReport{
		id:      id,
		entries: make(map[string]*Entry),
	}
}

// ID returns the report (transaction) id.
func (r *ConfigReport) ID() string {
	return r.id
}

// AuditMessage returns the message passed to Commit.
func (r *ConfigReport) AuditMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auditMessage
}

// StartedAt returns when Commit began. Zero before Commit.
func (r *ConfigReport) StartedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt
}

// CompletedAt returns when the report was finalized. Zero until Done.
func (r *ConfigReport) CompletedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completedAt
}

// describe attaches handler identity to an id without recording a result.
func (r *ConfigReport) describe(id string, kind Kind, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(id)
	e.Kind = kind
	e.Target = target
}

func (r *ConfigReport) begin(msg string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditMessage = msg
	r.startedAt = at
}

func (r *ConfigReport) finish(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completedAt = at
}

func (r *ConfigReport) entryLocked(id string) *Entry {
	e, ok := r.entries[id]
	if !ok {
		e = &Entry{ID: id}
		r.entries[id] = e
		r.order = append(r.order, id)
	}
	return e
}

// PutResult records the result for id, replacing any earlier one.
func (r *ConfigReport) PutResult(id string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(id).Result = result
}

// GetResult returns the result for id and whether one was recorded.
func (r *ConfigReport) GetResult(id string) (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.Result.Kind == "" {
		return Result{}, false
	}
	return e.Result, true
}

// Len returns the number of ids with a recorded result.
func (r *ConfigReport) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Result.Kind != "" {
			n++
		}
	}
	return n
}

// IDs returns ids with a recorded result, in order.
func (r *ConfigReport) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.entries[id].Result.Kind != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Entries returns a copy of all entries with a recorded result, in order.
func (r *ConfigReport) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e.Result.Kind != "" {
			out = append(out, *e)
		}
	}
	return out
}

// ContainsFailedResults reports whether any entry is Fail or RollbackFail*.
func (r *ConfigReport) ContainsFailedResults() bool {
	return len(r.FailedResults()) > 0
}

// FailedResults returns the failed entries, in order.
func (r *ConfigReport) FailedResults() []Entry {
	var failed []Entry
	for _, e := range r.Entries() {
		if e.Result.Failed() {
			failed = append(failed, e)
		}
	}
	return failed
}

// RequiresIntervention reports whether any rollback failed.
func (r *ConfigReport) RequiresIntervention() bool {
	for _, e := range r.Entries() {
		if e.Result.RequiresIntervention() {
			return true
		}
	}
	return false
}

// Err aggregates the causes of failed entries. Returns nil when nothing
// failed.
func (r *ConfigReport) Err() error {
	var merr *multierror.Error
	for _, e := range r.FailedResults() {
		cause := e.Result.Cause
		if cause == nil {
			cause = fmt.Errorf("%s", e.Result.Kind)
		}
		merr = multierror.Append(merr, fmt.Errorf("%s [%s]: %w", e.ID, e.Result.Kind, cause))
	}
	if merr != nil {
		merr.ErrorFormat = listFormat
	}
	return merr.ErrorOrNil()
}

func listFormat(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d failed: %s", len(errs), strings.Join(parts, "; "))
}

// Summary counts entries per result kind. Kinds with no entries are
// omitted.
func (r *ConfigReport) Summary() map[ResultKind]int {
	counts := make(map[ResultKind]int)
	for _, e := range r.Entries() {
		counts[e.Result.Kind]++
	}
	return counts
}

// SummaryString renders Summary as "pass=2 fail=1" in a fixed order.
func (r *ConfigReport) SummaryString() string {
	counts := r.Summary()
	var parts []string
	for _, k := range resultKinds {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}

// Status classifies the whole report: "committed", "rolled_back",
// "intervention_required" or "empty".
func (r *ConfigReport) Status() string {
	switch {
	case r.Len() == 0:
		return StatusEmpty
	case r.RequiresIntervention():
		return StatusInterventionRequired
	case r.ContainsFailedResults():
		return StatusRolledBack
	default:
		return StatusCommitted
	}
}

// Report statuses returned by ConfigReport.Status.
const (
	StatusEmpty                = "empty"
	StatusCommitted            = "committed"
	StatusRolledBack           = "rolled_back"
	StatusInterventionRequired = "intervention_required"
)

// =============================================================================
// Serialization
// =============================================================================

// ReportRecord is the serialized form of a ConfigReport.
type ReportRecord struct {
	ID           string             `json:"id"`
	AuditMessage string             `json:"audit_message,omitempty"`
	Status       string             `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at"`
	Summary      map[ResultKind]int `json:"summary"`
	Entries      []Entry            `json:"entries"`
}

// Record snapshots the report.
func (r *ConfigReport) Record() ReportRecord {
	entries := r.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return ReportRecord{
		ID:           r.id,
		AuditMessage: r.AuditMessage(),
		Status:       r.Status(),
		StartedAt:    r.StartedAt(),
		CompletedAt:  r.CompletedAt(),
		Summary:      r.Summary(),
		Entries:      entries,
	}
}

// MarshalJSON implements json.Marshaler.
func (r *ConfigReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Record())
}

// FromRecord rebuilds a report from its serialized form.
func FromRecord(rec ReportRecord) *ConfigReport {
	r := NewConfigReport(rec.ID)
	r.auditMessage = rec.AuditMessage
	r.startedAt = rec.StartedAt
	r.completedAt = rec.CompletedAt
	for _, e := range rec.Entries {
		entry := r.entryLocked(e.ID)
		entry.Kind = e.Kind
		entry.Target = e.Target
		entry.Result = e.Result
	}
	return r
}
