// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the file-level safety nets the CLI hands to
// configuration handlers.
//
// # Components
//
//   - BackupManager: timestamped copies of property files taken before a
//     handler overwrites or deletes them, restored on rollback
//   - FileLocker: advisory flock(2) locks keyed by handler target, so two
//     cfgadmin processes never mutate the same resource at once
//
// # Example - Backup Management
//
//	mgr := resilience.NewBackupManager(resilience.DefaultBackupConfig())
//	backupPath, err := mgr.BackupBeforeOverwrite("etc/system.properties")
//	if err != nil {
//	    return err
//	}
//	// Overwrite the file...
//	// If the transaction rolls back:
//	mgr.RestoreBackup(backupPath, "etc/system.properties")
//
// # Example - Resource Locking
//
//	locker, err := resilience.NewFileLocker(resilience.LockConfig{Dir: lockDir})
//	release, err := locker.Acquire(ctx, "org.codice.ddf.catalog")
//	if errors.Is(err, resilience.ErrLockHeld) {
//	    // another process owns the resource
//	}
//	defer release()
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package resilience
