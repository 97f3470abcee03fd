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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BackupInfo contains information about a backup.
type BackupInfo struct {
	// Path is the full path to the backup.
	Path string `json:"path"`

	// OriginalPath is the path that was backed up.
	OriginalPath string `json:"original_path"`

	// CreatedAt is when the backup was created.
	CreatedAt time.Time `json:"created_at"`

	// Size is the size in bytes.
	Size int64 `json:"size"`
}

// BackupConfig configures backup behavior.
//
// # Example
//
//	config := BackupConfig{
//	    MaxBackups:   5,
//	    BackupSuffix: ".backup",
//	    BackupDir:    "~/.cfgadmin/backups",
//	}
type BackupConfig struct {
	// MaxBackups is the maximum number of backups to retain per path.
	// Default: 5
	MaxBackups int

	// BackupSuffix is appended before the timestamp.
	// Default: ".backup"
	BackupSuffix string

	// TimeFormat is the timestamp format. It must sort lexically in time
	// order and should carry sub-second precision.
	// Default: "20060102T150405.000000000"
	TimeFormat string

	// BackupDir overrides the backup location. When empty, backups are
	// written next to the original.
	BackupDir string
}

// DefaultBackupConfig returns the defaults: 5 backups per file, ".backup"
// suffix, nanosecond timestamps, backups alongside the original.
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		MaxBackups:   5,
		BackupSuffix: ".backup",
		TimeFormat:   "20060102T150405.000000000",
	}
}

// BackupManager takes and restores timestamped file backups.
//
// # Description
//
// BackupBeforeOverwrite copies a file aside before a handler changes it;
// RestoreBackup moves the copy back over the original. Old backups are
// rotated so at most MaxBackups exist per original path.
//
// Every backup handed out by BackupBeforeOverwrite is pinned: rotation and
// CleanOldBackups leave it alone until RestoreBackup consumes it or
// ReleaseBackup hands it back. Pins live in memory; across processes the
// per-target lock keeps two transactions from backing up the same file at
// once.
//
// # Thread Safety
//
// BackupManager is safe for concurrent use.
//
// # Limitations
//
//   - Regular files only; directories return ErrNotRegularFile
//   - Restore uses rename, so BackupDir should be on the same filesystem
//     as the originals; a copy is used as a fallback
//
// # Assumptions
//
//   - Write permission in the backup location
type BackupManager struct {
	mu     sync.Mutex
	config BackupConfig
	now    func() time.Time
	pinned map[string]struct{}
}

// NewBackupManager creates a backup manager. Zero-value config fields take
// their defaults.
func NewBackupManager(config BackupConfig) *BackupManager {
	defaults := DefaultBackupConfig()
	if config.MaxBackups <= 0 {
		config.MaxBackups = defaults.MaxBackups
	}
	if config.BackupSuffix == "" {
		config.BackupSuffix = defaults.BackupSuffix
	}
	if config.TimeFormat == "" {
		config.TimeFormat = defaults.TimeFormat
	}
	config.BackupDir = expandHome(config.BackupDir)

	return &BackupManager{
		config: config,
		now:    time.Now,
		pinned: make(map[string]struct{}),
	}
}

// BackupBeforeOverwrite copies path aside.
//
// # Description
//
// Creates a timestamped copy of path and pins it. If path does not exist,
// returns "" and nil. After the copy, rotates old unpinned backups beyond
// MaxBackups; rotation errors do not fail the backup.
//
// # Inputs
//
//   - path: File to back up.
//
// # Outputs
//
//   - string: Backup path, or "" when there was nothing to back up.
//   - error: ErrNotRegularFile for directories, or an I/O error.
func (m *BackupManager) BackupBeforeOverwrite(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	dir := m.backupDirFor(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	backupPath, err := m.copyToNewBackup(path, info.Mode().Perm())
	if err != nil {
		return "", err
	}
	m.pinned[backupPath] = struct{}{}

	_ = m.rotateLocked(path)
	return backupPath, nil
}

// copyToNewBackup copies src to a fresh backup path, adding a counter when
// the timestamped name is already taken.
func (m *BackupManager) copyToNewBackup(src string, perm fs.FileMode) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	base := m.prefixFor(src) + m.now().UTC().Format(m.config.TimeFormat)
	dir := m.backupDirFor(src)

	for attempt := 0; attempt < 100; attempt++ {
		name := base
		if attempt > 0 {
			name = base + "-" + strconv.Itoa(attempt)
		}
		dst := filepath.Join(dir, name)

		out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create backup: %w", err)
		}

		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			os.Remove(dst)
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
		if err := out.Sync(); err != nil {
			out.Close()
			os.Remove(dst)
			return "", fmt.Errorf("failed to sync backup: %w", err)
		}
		if err := out.Close(); err != nil {
			return "", fmt.Errorf("failed to close backup: %w", err)
		}
		return dst, nil
	}
	return "", fmt.Errorf("failed to create backup: too many backups named %s", base)
}

// ListBackups returns all backups of originalPath, newest first.
func (m *BackupManager) ListBackups(originalPath string) ([]BackupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(originalPath)
}

func (m *BackupManager) listLocked(originalPath string) ([]BackupInfo, error) {
	dir := m.backupDirFor(originalPath)
	prefix := m.prefixFor(originalPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		stamp := strings.TrimPrefix(name, prefix)
		if i := strings.LastIndex(stamp, "-"); i > 0 {
			if _, err := strconv.Atoi(stamp[i+1:]); err == nil {
				stamp = stamp[:i]
			}
		}
		createdAt, err := time.Parse(m.config.TimeFormat, stamp)
		if err != nil {
			createdAt = info.ModTime()
		}

		backups = append(backups, BackupInfo{
			Path:         filepath.Join(dir, name),
			OriginalPath: originalPath,
			CreatedAt:    createdAt,
			Size:         info.Size(),
		})
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Path > backups[j].Path
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// RestoreBackup moves a backup over originalPath.
//
// # Description
//
// Replaces originalPath with the backup. The backup is consumed and its
// pin dropped. The original location is passed explicitly because backups in BackupDir
// cannot be mapped back from their name alone.
//
// # Outputs
//
//   - error: ErrBackupNotFound if backupPath does not exist.
func (m *BackupManager) RestoreBackup(backupPath, originalPath string) error {
	if originalPath == "" {
		return ErrEmptyOriginPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(backupPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, backupPath)
	}
	if err != nil {
		return fmt.Errorf("failed to stat backup: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(originalPath), 0750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(originalPath), err)
	}

	if err := os.Rename(backupPath, originalPath); err == nil {
		delete(m.pinned, backupPath)
		return nil
	}

	// Cross-device fallback.
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if err := os.WriteFile(originalPath, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	delete(m.pinned, backupPath)
	return os.Remove(backupPath)
}

// ReleaseBackup unpins a backup that is no longer needed for a restore and
// rotates the backups of originalPath. The backup file itself is kept
// until rotation or CleanOldBackups removes it.
func (m *BackupManager) ReleaseBackup(backupPath, originalPath string) error {
	if originalPath == "" {
		return ErrEmptyOriginPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pinned, backupPath)
	return m.rotateLocked(originalPath)
}

// CleanOldBackups removes unpinned backups of originalPath older than
// maxAge and returns how many were removed.
func (m *BackupManager) CleanOldBackups(originalPath string, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backups, err := m.listLocked(originalPath)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, backup := range backups {
		if _, ok := m.pinned[backup.Path]; ok {
			continue
		}
		if backup.CreatedAt.Before(cutoff) {
			if err := os.Remove(backup.Path); err != nil {
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// rotateLocked removes the oldest backups beyond MaxBackups. Pinned
// backups are never removed but still count towards the limit.
func (m *BackupManager) rotateLocked(originalPath string) error {
	backups, err := m.listLocked(originalPath)
	if err != nil {
		return err
	}
	var errs []error
	for i := m.config.MaxBackups; i < len(backups); i++ {
		if _, ok := m.pinned[backups[i].Path]; ok {
			continue
		}
		if err := os.Remove(backups[i].Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *BackupManager) backupDirFor(originalPath string) string {
	if m.config.BackupDir != "" {
		return m.config.BackupDir
	}
	return filepath.Dir(originalPath)
}

// prefixFor returns the backup name prefix for originalPath. In a shared
// BackupDir the prefix carries a hash of the absolute path so files with
// the same base name do not mix.
func (m *BackupManager) prefixFor(originalPath string) string {
	base := filepath.Base(originalPath)
	if m.config.BackupDir == "" {
		return base + m.config.BackupSuffix + "."
	}
	abs, err := filepath.Abs(originalPath)
	if err != nil {
		abs = originalPath
	}
	sum := sha256.Sum256([]byte(abs))
	return base + "." + hex.EncodeToString(sum[:4]) + m.config.BackupSuffix + "."
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
