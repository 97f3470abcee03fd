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
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// memConfigs is an in-memory ConfigStore.
type memConfigs struct {
	mu        sync.Mutex
	seq       int
	props     map[string]map[string]string
	factories map[string]string
	failOn    map[string]error
}

func newMemConfigs() *memConfigs {
	return &memConfigs{
		props:     make(map[string]map[string]string),
		factories: make(map[string]string),
		failOn:    make(map[string]error),
	}
}

func (m *memConfigs) fail(op string) error {
	return m.failOn[op]
}

func (m *memConfigs) Create(ctx context.Context, factoryPid string, props map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create"); err != nil {
		return "", err
	}
	m.seq++
	pid := fmt.Sprintf("%s.%d", factoryPid, m.seq)
	m.props[pid] = maps.Clone(props)
	m.factories[pid] = factoryPid
	return pid, nil
}

func (m *memConfigs) Get(ctx context.Context, pid string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.props[pid]
	if !ok {
		return nil, fmt.Errorf("config %s: %w", pid, ErrNotFound)
	}
	return maps.Clone(p), nil
}

func (m *memConfigs) Update(ctx context.Context, pid string, props map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update"); err != nil {
		return err
	}
	m.props[pid] = maps.Clone(props)
	return nil
}

func (m *memConfigs) Delete(ctx context.Context, pid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete"); err != nil {
		return err
	}
	if _, ok := m.props[pid]; !ok {
		return fmt.Errorf("config %s: %w", pid, ErrNotFound)
	}
	delete(m.props, pid)
	delete(m.factories, pid)
	return nil
}

func (m *memConfigs) FactoryPid(ctx context.Context, pid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.props[pid]; !ok {
		return "", fmt.Errorf("config %s: %w", pid, ErrNotFound)
	}
	return m.factories[pid], nil
}

// memBundles is an in-memory BundleLifecycle.
type memBundles struct {
	mu      sync.Mutex
	states  map[string]BundleState
	failing map[string]bool
}

func newMemBundles(active ...string) *memBundles {
	b := &memBundles{states: make(map[string]BundleState), failing: make(map[string]bool)}
	for _, name := range active {
		b.states[name] = BundleActive
	}
	return b
}

func (b *memBundles) install(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[name] = BundleResolved
}

func (b *memBundles) BundleState(ctx context.Context, name string) (BundleState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[name]
	if !ok {
		return "", fmt.Errorf("bundle %s: %w", name, ErrNotFound)
	}
	return s, nil
}

func (b *memBundles) set(name string, state BundleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.states[name]; !ok {
		return fmt.Errorf("bundle %s: %w", name, ErrNotFound)
	}
	if b.failing[name] {
		return errors.New("bundle " + name + " refused to change state")
	}
	b.states[name] = state
	return nil
}

func (b *memBundles) StartBundle(ctx context.Context, name string) error {
	return b.set(name, BundleActive)
}

func (b *memBundles) StopBundle(ctx context.Context, name string) error {
	return b.set(name, BundleResolved)
}

// memFeatures is an in-memory FeatureLifecycle.
type memFeatures struct {
	mu        sync.Mutex
	installed map[string]bool
}

func newMemFeatures(known ...string) *memFeatures {
	f := &memFeatures{installed: make(map[string]bool)}
	for _, name := range known {
		f.installed[name] = false
	}
	return f
}

func (f *memFeatures) FeatureInstalled(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	installed, ok := f.installed[name]
	if !ok {
		return false, fmt.Errorf("feature %s: %w", name, ErrNotFound)
	}
	return installed, nil
}

func (f *memFeatures) InstallFeature(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.installed[name]; !ok {
		return fmt.Errorf("feature %s: %w", name, ErrNotFound)
	}
	f.installed[name] = true
	return nil
}

func (f *memFeatures) UninstallFeature(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.installed[name]; !ok {
		return fmt.Errorf("feature %s: %w", name, ErrNotFound)
	}
	f.installed[name] = false
	return nil
}

// dirBackups is a minimal Backups that copies files into a directory.
type dirBackups struct {
	dir      string
	n        int
	restored []string
	released []string

	// afterBackup runs once a backup has been written.
	afterBackup func()
}

func (d *dirBackups) BackupBeforeOverwrite(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	d.n++
	dst := filepath.Join(d.dir, fmt.Sprintf("%s.%d", filepath.Base(path), d.n))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", err
	}
	if d.afterBackup != nil {
		d.afterBackup()
	}
	return dst, nil
}

func (d *dirBackups) RestoreBackup(backupPath, originalPath string) error {
	d.restored = append(d.restored, backupPath)
	return os.Rename(backupPath, originalPath)
}

func (d *dirBackups) ReleaseBackup(backupPath, originalPath string) error {
	d.released = append(d.released, backupPath)
	return nil
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return strings.TrimSpace(string(data))
}
