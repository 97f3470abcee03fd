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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

// LockConfig configures a FileLocker.
type LockConfig struct {
	// Dir holds one lock file per key. Created with 0750 if missing.
	Dir string

	// Wait is how long Acquire retries a held lock before giving up.
	// Zero means a single non-blocking attempt.
	Wait time.Duration

	// PollInterval is the delay between attempts while waiting.
	// Default: 50ms
	PollInterval time.Duration
}

// FileLocker hands out advisory flock(2) locks keyed by resource name.
//
// # Description
//
// Each key maps to a file under Dir. Acquire opens the file and takes an
// exclusive non-blocking flock; the returned release function unlocks and
// closes it. Locks are per open file, so two lockers in one process
// exclude each other the same way two processes do.
//
// # Thread Safety
//
// FileLocker is safe for concurrent use.
//
// # Limitations
//
//   - Advisory only: processes that do not use FileLocker are not blocked.
//   - Lock files are left in place after release; removing them would
//     race with a concurrent Acquire of the same key.
type FileLocker struct {
	config LockConfig
}

// NewFileLocker creates the lock directory and returns a locker.
//
// # Outputs
//
//   - *FileLocker: Ready to use.
//   - error: ErrEmptyLockDir, or ErrLockAcquireFailed if Dir cannot be created.
func NewFileLocker(config LockConfig) (*FileLocker, error) {
	if config.Dir == "" {
		return nil, ErrEmptyLockDir
	}
	config.Dir = expandHome(config.Dir)
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	if err := os.MkdirAll(config.Dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: creating lock directory: %v", ErrLockAcquireFailed, err)
	}
	return &FileLocker{config: config}, nil
}

// Acquire takes the lock for key.
//
// # Description
//
// Retries every PollInterval until Wait has elapsed or ctx is done. The
// holder's pid and the time are written into the lock file for debugging.
//
// # Inputs
//
//   - ctx: Cancels waiting.
//   - key: Resource name, such as a file path or a pid.
//
// # Outputs
//
//   - func() error: Releases the lock. Safe to call more than once.
//   - error: ErrLockHeld (which wraps configurator.ErrResourceLocked) when
//     another holder kept the lock, or ErrLockAcquireFailed on I/O errors.
func (l *FileLocker) Acquire(ctx context.Context, key string) (func() error, error) {
	if key == "" {
		return nil, ErrEmptyLockKey
	}

	path := l.PathFor(key)
	deadline := time.Now().Add(l.config.Wait)

	for {
		file, err := tryLock(path)
		if err == nil {
			writeHolder(file, key)
			return releaseFunc(file), nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		timer := time.NewTimer(l.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrLockHeld, key, ctx.Err())
		case <-timer.C:
		}
	}
}

// IsHeld reports whether key is currently locked by anyone.
func (l *FileLocker) IsHeld(key string) (bool, error) {
	path := l.PathFor(key)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	file, err := tryLock(path)
	if errors.Is(err, ErrLockHeld) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	_ = releaseFunc(file)()
	return false, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PathFor returns the lock file used for key. The name keeps a readable
// form of the key plus a hash so distinct keys never share a file.
func (l *FileLocker) PathFor(key string) string {
	readable := unsafeKeyChars.ReplaceAllString(key, "_")
	if len(readable) > 64 {
		readable = readable[len(readable)-64:]
	}
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.config.Dir, readable+"."+hex.EncodeToString(sum[:6])+".lock")
}

func tryLock(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lock file: %v", ErrLockAcquireFailed, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("%w: flock: %v", ErrLockAcquireFailed, err)
	}
	return file, nil
}

func writeHolder(file *os.File, key string) {
	// Non-fatal: the lock is held either way.
	if err := file.Truncate(0); err != nil {
		return
	}
	if _, err := file.Seek(0, 0); err != nil {
		return
	}
	_, _ = fmt.Fprintf(file, "pid=%d\nkey=%s\ntime=%s\n", os.Getpid(), key, time.Now().Format(time.RFC3339))
}

func releaseFunc(file *os.File) func() error {
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
			err = file.Close()
		})
		return err
	}
}

var _ configurator.Locker = (*FileLocker)(nil)
