// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

func TestMain(m *testing.M) {
	configurator.SetMetricsEnabled(false)
	m.Run()
}

// =============================================================================
// Bundle Handler
// =============================================================================

func TestBundleHandler_StartAndRollback(t *testing.T) {
	ctx := context.Background()
	bundles := newMemBundles()
	bundles.install("catalog")

	h := NewStartBundle(bundles, "catalog")
	assert.Equal(t, configurator.KindBundle, h.Kind())
	assert.Equal(t, "catalog", h.Target())

	_, err := h.Commit(ctx)
	require.NoError(t, err)
	state, _ := bundles.BundleState(ctx, "catalog")
	assert.Equal(t, BundleActive, state)

	require.NoError(t, h.Rollback(ctx))
	state, _ = bundles.BundleState(ctx, "catalog")
	assert.Equal(t, BundleResolved, state)
}

func TestBundleHandler_StopAlreadyStopped(t *testing.T) {
	ctx := context.Background()
	bundles := newMemBundles()
	bundles.install("catalog")

	h := NewStopBundle(bundles, "catalog")
	_, err := h.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Rollback(ctx))

	state, _ := bundles.BundleState(ctx, "catalog")
	assert.Equal(t, BundleResolved, state, "rollback restores prior state, not the inverse op")
}

func TestBundleHandler_UnknownBundle(t *testing.T) {
	h := NewStartBundle(newMemBundles(), "missing")

	_, err := h.Commit(context.Background())
	var cfgErr *configurator.ConfiguratorError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "start bundle", cfgErr.Op)
	assert.ErrorIs(t, err, ErrNotFound)

	state, err := h.ReadState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Exists)
}

func TestBundleHandler_ReadState(t *testing.T) {
	h := NewStopBundle(newMemBundles("web"), "web")
	state, err := h.ReadState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.True(t, state.Active)
}

// =============================================================================
// Rollback Precondition
// =============================================================================

func TestRollbackWithoutCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		handler configurator.ConfigHandler
	}{
		{"bundle", NewStartBundle(newMemBundles("b"), "b")},
		{"feature", NewStartFeature(newMemFeatures("f"), "f")},
		{"managed service", NewCreateManagedService(newMemConfigs(), "factory", nil)},
		{"property file", NewCreatePropertyFile(nil, filepath.Join(dir, "x.properties"), nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.handler.Rollback(ctx)
			assert.ErrorIs(t, err, configurator.ErrNotCommitted)
		})
	}
}

func TestRollbackAtMostOnce(t *testing.T) {
	ctx := context.Background()
	bundles := newMemBundles()
	bundles.install("b")
	h := NewStartBundle(bundles, "b")

	_, err := h.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Rollback(ctx))
	assert.ErrorIs(t, h.Rollback(ctx), configurator.ErrNotCommitted)
}

func TestRollbackAfterFailedCommit(t *testing.T) {
	bundles := newMemBundles()
	bundles.install("b")
	bundles.failing["b"] = true
	h := NewStartBundle(bundles, "b")

	_, err := h.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, h.Rollback(context.Background()), configurator.ErrNotCommitted)
}

// =============================================================================
// Feature Handler
// =============================================================================

func TestFeatureHandler(t *testing.T) {
	ctx := context.Background()
	features := newMemFeatures("catalog-app")

	start := NewStartFeature(features, "catalog-app")
	_, err := start.Commit(ctx)
	require.NoError(t, err)

	state, err := start.ReadState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Active)

	stop := NewStopFeature(features, "catalog-app")
	_, err = stop.Commit(ctx)
	require.NoError(t, err)
	installed, _ := features.FeatureInstalled(ctx, "catalog-app")
	assert.False(t, installed)

	require.NoError(t, stop.Rollback(ctx))
	installed, _ = features.FeatureInstalled(ctx, "catalog-app")
	assert.True(t, installed)

	require.NoError(t, start.Rollback(ctx))
	installed, _ = features.FeatureInstalled(ctx, "catalog-app")
	assert.False(t, installed)
}

func TestFeatureHandler_Unknown(t *testing.T) {
	h := NewStartFeature(newMemFeatures(), "nope")
	_, err := h.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Managed Service Handler
// =============================================================================

func TestManagedService_Create(t *testing.T) {
	ctx := context.Background()
	configs := newMemConfigs()

	h := NewCreateManagedService(configs, "org.example.Source", map[string]string{"url": "http://a"})
	assert.Equal(t, "org.example.Source", h.Target())

	state, err := h.ReadState(ctx)
	require.NoError(t, err)
	assert.False(t, state.Exists)

	outcome, err := h.Commit(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, outcome.ConfigID)

	state, err = h.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "http://a"}, state.Properties)

	require.NoError(t, h.Rollback(ctx))
	_, err = configs.Get(ctx, outcome.ConfigID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagedService_CreateRollbackFails(t *testing.T) {
	ctx := context.Background()
	configs := newMemConfigs()

	h := NewCreateManagedService(configs, "factory", nil)
	_, err := h.Commit(ctx)
	require.NoError(t, err)

	configs.failOn["delete"] = errors.New("service bundle vanished")
	err = h.Rollback(ctx)
	var cfgErr *configurator.ConfiguratorError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "roll back create managed service", cfgErr.Op)
}

func TestManagedService_Update(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		keepIgnored bool
		want        map[string]string
	}{
		{"replace", false, map[string]string{"b": "new"}},
		{"merge", true, map[string]string{"a": "1", "b": "new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configs := newMemConfigs()
			require.NoError(t, configs.Update(ctx, "ddf.platform", map[string]string{"a": "1", "b": "2"}))

			h := NewUpdateManagedService(configs, "ddf.platform", map[string]string{"b": "new"}, tt.keepIgnored)
			_, err := h.Commit(ctx)
			require.NoError(t, err)

			got, _ := configs.Get(ctx, "ddf.platform")
			assert.Equal(t, tt.want, got)

			require.NoError(t, h.Rollback(ctx))
			got, _ = configs.Get(ctx, "ddf.platform")
			assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
		})
	}
}

func TestManagedService_UpdateNewPid(t *testing.T) {
	ctx := context.Background()
	configs := newMemConfigs()

	h := NewUpdateManagedService(configs, "fresh", map[string]string{"k": "v"}, true)
	_, err := h.Commit(ctx)
	require.NoError(t, err)

	got, err := configs.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got)

	require.NoError(t, h.Rollback(ctx))
	_, err = configs.Get(ctx, "fresh")
	assert.ErrorIs(t, err, ErrNotFound, "rollback removes a pid that did not exist")
}

func TestManagedService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("singleton restored under same pid", func(t *testing.T) {
		configs := newMemConfigs()
		require.NoError(t, configs.Update(ctx, "ddf.security", map[string]string{"x": "1"}))

		h := NewDeleteManagedService(configs, "ddf.security")
		_, err := h.Commit(ctx)
		require.NoError(t, err)
		_, err = configs.Get(ctx, "ddf.security")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, h.Rollback(ctx))
		got, err := configs.Get(ctx, "ddf.security")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"x": "1"}, got)
		assert.Empty(t, h.RestoredConfigID())
	})

	t.Run("factory config recreated", func(t *testing.T) {
		configs := newMemConfigs()
		pid, err := configs.Create(ctx, "org.example.Factory", map[string]string{"y": "2"})
		require.NoError(t, err)

		h := NewDeleteManagedService(configs, pid)
		_, err = h.Commit(ctx)
		require.NoError(t, err)
		require.NoError(t, h.Rollback(ctx))

		assert.Len(t, configs.props, 1)
		for newPid, props := range configs.props {
			assert.NotEqual(t, pid, newPid)
			assert.Equal(t, newPid, h.RestoredConfigID())
			assert.Equal(t, "org.example.Factory", configs.factories[newPid])
			assert.Equal(t, map[string]string{"y": "2"}, props)
		}
	})

	t.Run("missing pid fails", func(t *testing.T) {
		h := NewDeleteManagedService(newMemConfigs(), "nope")
		_, err := h.Commit(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// =============================================================================
// Property File Handler
// =============================================================================

func TestPropertyFile_Create(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "etc", "new.properties")

	h := NewCreatePropertyFile(nil, path, map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, configurator.KindPropertyFile, h.Kind())

	_, err := h.Commit(ctx)
	require.NoError(t, err)

	state, err := h.ReadState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, state.Properties)

	require.NoError(t, h.Rollback(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPropertyFile_CreateExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.properties")
	require.NoError(t, os.WriteFile(path, []byte("a=1\n"), 0644))

	h := NewCreatePropertyFile(nil, path, map[string]string{"a": "2"})
	_, err := h.Commit(context.Background())
	assert.ErrorIs(t, err, ErrFileExists)
	assert.Equal(t, "a=1", readFile(path))
}

func TestPropertyFile_Update(t *testing.T) {
	ctx := context.Background()
	original := "# comment\na=1\nb=2\n"

	tests := []struct {
		name        string
		keepIgnored bool
		backups     bool
		want        map[string]string
	}{
		{"replace in memory", false, false, map[string]string{"b": "new"}},
		{"merge in memory", true, false, map[string]string{"a": "1", "b": "new"}},
		{"replace with backups", false, true, map[string]string{"b": "new"}},
		{"merge with backups", true, true, map[string]string{"a": "1", "b": "new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "system.properties")
			require.NoError(t, os.WriteFile(path, []byte(original), 0600))

			var backups Backups
			var db *dirBackups
			if tt.backups {
				db = &dirBackups{dir: t.TempDir()}
				backups = db
			}

			h := NewUpdatePropertyFile(backups, path, map[string]string{"b": "new"}, tt.keepIgnored)
			_, err := h.Commit(ctx)
			require.NoError(t, err)

			got, err := loadProperties(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "permissions preserved")

			require.NoError(t, h.Rollback(ctx))
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, original, string(data), "rollback restores exact bytes")
			if db != nil {
				assert.Len(t, db.restored, 1)
			}
		})
	}
}

func TestPropertyFile_UpdateWriteFailureDropsBackup(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "etc")
	require.NoError(t, os.MkdirAll(dataDir, 0750))
	path := filepath.Join(dataDir, "system.properties")
	require.NoError(t, os.WriteFile(path, []byte("a=1\n"), 0644))

	db := &dirBackups{dir: t.TempDir()}
	db.afterBackup = func() { require.NoError(t, os.RemoveAll(dataDir)) }

	h := NewUpdatePropertyFile(db, path, map[string]string{"a": "2"}, false)
	_, err := h.Commit(context.Background())
	require.Error(t, err)

	backup := filepath.Join(db.dir, "system.properties.1")
	assert.Equal(t, 1, db.n)
	assert.NoFileExists(t, backup)
	assert.Equal(t, []string{backup}, db.released)

	h.Finish()
	assert.Len(t, db.released, 1, "nothing left to release")
	assert.ErrorIs(t, h.Rollback(context.Background()), configurator.ErrNotCommitted)
}

func TestPropertyFile_DeleteFailureDropsBackup(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "etc")
	require.NoError(t, os.MkdirAll(dataDir, 0750))
	path := filepath.Join(dataDir, "old.properties")
	require.NoError(t, os.WriteFile(path, []byte("k=v\n"), 0644))

	db := &dirBackups{dir: t.TempDir()}
	db.afterBackup = func() {
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.Mkdir(path, 0750))
		require.NoError(t, os.WriteFile(filepath.Join(path, "child"), nil, 0644))
	}

	h := NewDeletePropertyFile(db, path)
	_, err := h.Commit(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(db.dir, "old.properties.1"))
	assert.Len(t, db.released, 1)
}

func TestPropertyFile_FinishReleasesBackup(t *testing.T) {
	ctx := context.Background()

	t.Run("committed backup is released", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "system.properties")
		require.NoError(t, os.WriteFile(path, []byte("a=1\n"), 0644))
		db := &dirBackups{dir: t.TempDir()}

		h := NewUpdatePropertyFile(db, path, map[string]string{"a": "2"}, false)
		_, err := h.Commit(ctx)
		require.NoError(t, err)

		h.Finish()
		backup := filepath.Join(db.dir, "system.properties.1")
		assert.Equal(t, []string{backup}, db.released)
		assert.FileExists(t, backup, "released backups stay on disk")

		h.Finish()
		assert.Len(t, db.released, 1)
	})

	t.Run("restored backup is not released", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "system.properties")
		require.NoError(t, os.WriteFile(path, []byte("a=1\n"), 0644))
		db := &dirBackups{dir: t.TempDir()}

		h := NewUpdatePropertyFile(db, path, map[string]string{"a": "2"}, false)
		_, err := h.Commit(ctx)
		require.NoError(t, err)
		require.NoError(t, h.Rollback(ctx))

		h.Finish()
		assert.Empty(t, db.released)
		assert.Len(t, db.restored, 1)
	})
}

func TestPropertyFile_UpdateMissing(t *testing.T) {
	h := NewUpdatePropertyFile(nil, filepath.Join(t.TempDir(), "none.properties"), nil, true)
	_, err := h.Commit(context.Background())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestPropertyFile_Delete(t *testing.T) {
	ctx := context.Background()
	for _, withBackups := range []bool{false, true} {
		dir := t.TempDir()
		path := filepath.Join(dir, "old.properties")
		require.NoError(t, os.WriteFile(path, []byte("k=v\n"), 0644))

		var backups Backups
		if withBackups {
			backups = &dirBackups{dir: t.TempDir()}
		}

		h := NewDeletePropertyFile(backups, path)
		_, err := h.Commit(ctx)
		require.NoError(t, err)
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))

		require.NoError(t, h.Rollback(ctx))
		assert.Equal(t, "k=v", readFile(path))
	}
}

func TestPropertyFile_DeleteMissing(t *testing.T) {
	h := NewDeletePropertyFile(nil, filepath.Join(t.TempDir(), "none.properties"))
	_, err := h.Commit(context.Background())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestEncodeProperties_RoundTrip(t *testing.T) {
	props := map[string]string{
		"url":      "https://host:8993/services",
		"unicode":  "café",
		"spaces":   "a value with spaces",
		"template": "${not.expanded}",
	}
	path := filepath.Join(t.TempDir(), "rt.properties")

	require.NoError(t, writeProperties(path, props, 0))
	got, err := loadProperties(path)
	require.NoError(t, err)
	assert.Equal(t, props, got)
}
