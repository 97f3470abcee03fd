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
	"errors"
	"fmt"
)

// ResultKind classifies the outcome recorded for one handler.
type ResultKind string

const (
	ResultPass                       ResultKind = "pass"
	ResultPassManagedService         ResultKind = "pass_managed_service"
	ResultFail                       ResultKind = "fail"
	ResultSkip                       ResultKind = "skip"
	ResultRollback                   ResultKind = "rollback"
	ResultRollbackFail               ResultKind = "rollback_fail"
	ResultRollbackFailManagedService ResultKind = "rollback_fail_managed_service"
)

// resultKinds lists every kind in rendering order.
var resultKinds = []ResultKind{
	ResultPass,
	ResultPassManagedService,
	ResultFail,
	ResultSkip,
	ResultRollback,
	ResultRollbackFail,
	ResultRollbackFailManagedService,
}

// Result is the outcome recorded for one registered handler.
//
// Results carry classification and payload only. Cause is set for Fail and
// the RollbackFail variants; ConfigID for the managed-service variants and
// for a Rollback that recreated a configuration under a new id.
type Result struct {
	Kind     ResultKind
	Cause    error
	ConfigID string
}

// Pass records a successful commit.
func Pass() Result {
	return Result{Kind: ResultPass}
}

// PassManagedService records a successful managed-service creation.
func PassManagedService(configID string) Result {
	return Result{Kind: ResultPassManagedService, ConfigID: configID}
}

// Fail records the commit failure that triggered rollback.
func Fail(cause error) Result {
	return Result{Kind: ResultFail, Cause: cause}
}

// Skip records a handler that was never attempted.
func Skip() Result {
	return Result{Kind: ResultSkip}
}

// Rollback records a successful rollback.
func Rollback() Result {
	return Result{Kind: ResultRollback}
}

// RollbackFail records a failed rollback.
func RollbackFail(cause error) Result {
	return Result{Kind: ResultRollbackFail, Cause: cause}
}

// RollbackFailManagedService records a failed rollback of a managed-service
// creation. configID names the instance left behind.
func RollbackFailManagedService(cause error, configID string) Result {
	return Result{Kind: ResultRollbackFailManagedService, Cause: cause, ConfigID: configID}
}

// Failed reports whether the result is Fail or a RollbackFail variant.
func (r Result) Failed() bool {
	switch r.Kind {
	case ResultFail, ResultRollbackFail, ResultRollbackFailManagedService:
		return true
	default:
		return false
	}
}

// RequiresIntervention reports whether the result is a RollbackFail
// variant, meaning the pre-transaction state was not restored.
func (r Result) RequiresIntervention() bool {
	return r.Kind == ResultRollbackFail || r.Kind == ResultRollbackFailManagedService
}

// String renders the result for logs and CLI output.
func (r Result) String() string {
	switch {
	case r.Cause != nil && r.ConfigID != "":
		return fmt.Sprintf("%s(%s, %v)", r.Kind, r.ConfigID, r.Cause)
	case r.Cause != nil:
		return fmt.Sprintf("%s(%v)", r.Kind, r.Cause)
	case r.ConfigID != "":
		return fmt.Sprintf("%s(%s)", r.Kind, r.ConfigID)
	default:
		return string(r.Kind)
	}
}

// resultJSON is the wire form of Result. Cause is flattened to its message.
type resultJSON struct {
	Kind     ResultKind `json:"kind"`
	Cause    string     `json:"cause,omitempty"`
	ConfigID string     `json:"config_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{Kind: r.Kind, ConfigID: r.ConfigID}
	if r.Cause != nil {
		out.Cause = r.Cause.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. A decoded cause is a plain
// error carrying the original message.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Kind = in.Kind
	r.ConfigID = in.ConfigID
	r.Cause = nil
	if in.Cause != "" {
		r.Cause = errors.New(in.Cause)
	}
	return nil
}
