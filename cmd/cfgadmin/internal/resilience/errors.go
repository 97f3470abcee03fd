// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

// Sentinel errors for backups and locks.
var (
	// Lock errors
	ErrLockAcquireFailed = errors.New("failed to acquire lock")
	ErrLockHeld          = fmt.Errorf("%w: held by another process", configurator.ErrResourceLocked)
	ErrEmptyLockKey      = errors.New("lock key must not be empty")
	ErrEmptyLockDir      = errors.New("lock directory must not be empty")

	// Backup errors
	ErrNotRegularFile  = errors.New("only regular files can be backed up")
	ErrBackupNotFound  = errors.New("backup does not exist")
	ErrEmptyOriginPath = errors.New("original path must not be empty")
)
