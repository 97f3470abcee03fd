// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configurator applies a batch of configuration changes as a
// compensating transaction.
//
// # Overview
//
// There is no atomic commit across property files, managed-service
// configurations, bundle state and feature state. Instead each change is
// wrapped in a ConfigHandler that knows how to apply itself and how to undo
// itself. The Configurator runs handlers in registration order and, on the
// first failure, undoes the ones that already succeeded in reverse order.
//
// # Components
//
//   - ConfigHandler: one reversible unit of work over one resource
//   - Configurator: registers handlers, drives the commit and rollback passes
//   - ConfigReport: one Result per registered handler, keyed by correlation id
//   - Result: Pass, PassManagedService, Fail, Skip, Rollback, RollbackFail,
//     RollbackFailManagedService
//
// # Example
//
//	cfg := configurator.New(configurator.DefaultOptions())
//	reg := handlers.NewRegistrar(cfg, collaborators)
//	reg.StopBundle("catalog-solr")
//	reg.UpdatePropertyFile("etc/system.properties", props, true)
//	reg.StartBundle("catalog-solr")
//
//	report := cfg.Commit(ctx, "switching catalog provider")
//	if report.ContainsFailedResults() {
//	    // report.RequiresIntervention() means rollback was incomplete
//	}
//
// # Failure Semantics
//
// Commit never returns an error. Handler failures, rollback failures and
// handler panics are all recorded in the report. RollbackFail results mean
// the pre-transaction state could not be restored and a human has to
// reconcile it.
//
// # Thread Safety
//
// A Configurator is used for one transaction. Its methods are serialised by
// a mutex, and handlers never run concurrently with each other.
package configurator
