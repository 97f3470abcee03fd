// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *collector) handle(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, paths)
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func startWatcher(t *testing.T, dir string, c *collector) (context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(dir, c.handle, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return cancel, done
}

func TestWatcher_ReportsPropertyFiles(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	cancel, done := startWatcher(t, dir, c)
	defer cancel()

	target := filepath.Join(dir, "ddf.properties")
	require.NoError(t, os.WriteFile(target, []byte("a=1\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	require.Eventually(t, func() bool {
		return len(c.all()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	for _, p := range c.all() {
		assert.Equal(t, target, p)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	cancel, done := startWatcher(t, dir, c)
	defer cancel()

	target := filepath.Join(dir, "burst.properties")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("a=1\n"), 0600))
	}

	require.Eventually(t, func() bool {
		return len(c.all()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, batch := range c.batches {
		assert.Len(t, batch, 1, "paths are de-duplicated within a batch")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), nil, Options{})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/a/x.properties", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/a/x.properties", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/a/x.properties", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/a/x.txt", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relevant(tt.event), tt.event.String())
	}
}
