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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewBackupManager_Defaults(t *testing.T) {
	mgr := NewBackupManager(BackupConfig{})
	defaults := DefaultBackupConfig()

	assert.Equal(t, defaults.MaxBackups, mgr.config.MaxBackups)
	assert.Equal(t, defaults.BackupSuffix, mgr.config.BackupSuffix)
	assert.Equal(t, defaults.TimeFormat, mgr.config.TimeFormat)
}

func TestBackupBeforeOverwrite_NonExistent(t *testing.T) {
	mgr := NewBackupManager(DefaultBackupConfig())

	backupPath, err := mgr.BackupBeforeOverwrite(filepath.Join(t.TempDir(), "missing.properties"))
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupBeforeOverwrite_Directory(t *testing.T) {
	mgr := NewBackupManager(DefaultBackupConfig())

	_, err := mgr.BackupBeforeOverwrite(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestBackupBeforeOverwrite_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.properties")
	writeFile(t, path, "a=1\n")

	mgr := NewBackupManager(DefaultBackupConfig())
	backupPath, err := mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	assert.Equal(t, dir, filepath.Dir(backupPath))
	got, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "a=1\n", string(got))

	_, err = os.Stat(path)
	assert.NoError(t, err, "original is kept")
}

func TestBackupBeforeOverwrite_SameInstant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.properties")
	writeFile(t, path, "x=1\n")

	mgr := NewBackupManager(DefaultBackupConfig())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	mgr.now = func() time.Time { return fixed }

	first, err := mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)
	second, err := mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	backups, err := mgr.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	for _, b := range backups {
		assert.True(t, b.CreatedAt.Equal(fixed))
	}
}

func TestBackupManager_RestoreBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.properties")
	writeFile(t, path, "a=1\n")

	mgr := NewBackupManager(DefaultBackupConfig())
	backupPath, err := mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)

	writeFile(t, path, "a=2\n")
	require.NoError(t, mgr.RestoreBackup(backupPath, path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a=1\n", string(got))

	_, err = os.Stat(backupPath)
	assert.True(t, os.IsNotExist(err), "backup is consumed")
}

func TestBackupManager_RestoreBackup_AfterDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.properties")
	writeFile(t, path, "k=v\n")

	mgr := NewBackupManager(DefaultBackupConfig())
	backupPath, err := mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	require.NoError(t, mgr.RestoreBackup(backupPath, path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "k=v\n", string(got))
}

func TestBackupManager_RestoreBackup_Errors(t *testing.T) {
	mgr := NewBackupManager(DefaultBackupConfig())

	err := mgr.RestoreBackup(filepath.Join(t.TempDir(), "nope"), "x")
	assert.ErrorIs(t, err, ErrBackupNotFound)

	err = mgr.RestoreBackup("whatever", "")
	assert.ErrorIs(t, err, ErrEmptyOriginPath)
}

func TestBackupManager_BackupDir(t *testing.T) {
	root := t.TempDir()
	backupDir := filepath.Join(root, "backups")
	first := filepath.Join(root, "one", "app.properties")
	second := filepath.Join(root, "two", "app.properties")
	require.NoError(t, os.MkdirAll(filepath.Dir(first), 0755))
	require.NoError(t, os.MkdirAll(filepath.Dir(second), 0755))
	writeFile(t, first, "from=one\n")
	writeFile(t, second, "from=two\n")

	mgr := NewBackupManager(BackupConfig{BackupDir: backupDir})

	b1, err := mgr.BackupBeforeOverwrite(first)
	require.NoError(t, err)
	_, err = mgr.BackupBeforeOverwrite(second)
	require.NoError(t, err)
	assert.Equal(t, backupDir, filepath.Dir(b1))

	list, err := mgr.ListBackups(first)
	require.NoError(t, err)
	require.Len(t, list, 1, "same base name in another dir is not listed")

	writeFile(t, first, "changed\n")
	require.NoError(t, mgr.RestoreBackup(b1, first))
	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "from=one\n", string(got))
}

func TestBackupManager_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.properties")
	writeFile(t, path, "x\n")

	mgr := NewBackupManager(BackupConfig{MaxBackups: 2})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		mgr.now = func() time.Time { return at }
		b, err := mgr.BackupBeforeOverwrite(path)
		require.NoError(t, err)
		require.NoError(t, mgr.ReleaseBackup(b, path))
	}

	backups, err := mgr.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].CreatedAt.Equal(base.Add(3*time.Second)), "newest first")
	assert.True(t, backups[1].CreatedAt.Equal(base.Add(2*time.Second)))
}

func TestBackupManager_RotationKeepsPinned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.properties")
	writeFile(t, path, "v=original\n")

	mgr := NewBackupManager(BackupConfig{MaxBackups: 2})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var taken []string
	for i, content := range []string{"v=one\n", "v=two\n", "v=three\n"} {
		at := base.Add(time.Duration(i) * time.Second)
		mgr.now = func() time.Time { return at }
		b, err := mgr.BackupBeforeOverwrite(path)
		require.NoError(t, err)
		taken = append(taken, b)
		writeFile(t, path, content)
	}

	backups, err := mgr.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 3, "pinned backups survive rotation")

	for i := len(taken) - 1; i >= 0; i-- {
		require.NoError(t, mgr.RestoreBackup(taken[i], path))
	}
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v=original\n", string(got))
}

func TestBackupManager_ReleaseBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.properties")
	writeFile(t, path, "v=1\n")

	mgr := NewBackupManager(BackupConfig{MaxBackups: 1})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var taken []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		mgr.now = func() time.Time { return at }
		b, err := mgr.BackupBeforeOverwrite(path)
		require.NoError(t, err)
		taken = append(taken, b)
	}

	require.NoError(t, mgr.ReleaseBackup(taken[0], path))
	backups, err := mgr.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 2, "only the released backup is rotated away")
	assert.NoFileExists(t, taken[0])

	require.NoError(t, mgr.ReleaseBackup(taken[1], path))
	require.NoError(t, mgr.ReleaseBackup(taken[2], path))
	backups, err = mgr.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, taken[2], backups[0].Path)

	assert.ErrorIs(t, mgr.ReleaseBackup(taken[2], ""), ErrEmptyOriginPath)
}

func TestBackupManager_CleanOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.properties")
	writeFile(t, path, "x\n")

	mgr := NewBackupManager(BackupConfig{MaxBackups: 10})
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	mgr.now = func() time.Time { return now.Add(-48 * time.Hour) }
	old, err := mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)
	mgr.now = func() time.Time { return now.Add(-time.Hour) }
	_, err = mgr.BackupBeforeOverwrite(path)
	require.NoError(t, err)

	mgr.now = func() time.Time { return now }
	removed, err := mgr.CleanOldBackups(path, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "pinned backups are not cleaned")

	require.NoError(t, mgr.ReleaseBackup(old, path))
	removed, err = mgr.CleanOldBackups(path, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	backups, err := mgr.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackupManager_ListBackups_MissingDir(t *testing.T) {
	mgr := NewBackupManager(BackupConfig{BackupDir: filepath.Join(t.TempDir(), "none")})
	backups, err := mgr.ListBackups("/etc/whatever.properties")
	require.NoError(t, err)
	assert.Empty(t, backups)
}
