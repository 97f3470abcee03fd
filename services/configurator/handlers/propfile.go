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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/magiconair/properties"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

type fileOp int

const (
	fileCreate fileOp = iota
	fileUpdate
	fileDelete
)

func (op fileOp) String() string {
	switch op {
	case fileCreate:
		return "create property file"
	case fileUpdate:
		return "update property file"
	default:
		return "delete property file"
	}
}

// defaultFileMode is used for newly created property files.
const defaultFileMode fs.FileMode = 0644

// PropertyFileHandler creates, updates or deletes a Java .properties file.
//
// # Description
//
// Before changing an existing file the handler snapshots it, through
// Backups when configured and in memory otherwise. Rollback restores the
// snapshot, or removes the file for create. Writes go to a temp file that
// is renamed into place. A backup whose change was never written is
// deleted; one that is kept but not restored is released in Finish.
//
// # Limitations
//
//   - Comments and key order of the original file are not preserved by
//     update; keys are written sorted.
//   - ${} expansion is disabled on read and write.
type PropertyFileHandler struct {
	op          fileOp
	path        string
	props       map[string]string
	keepIgnored bool
	backups     Backups

	snap fileSnapshot
	commitTracker
}

// NewCreatePropertyFile returns a handler that creates path with props.
// Commit fails if the file exists.
func NewCreatePropertyFile(backups Backups, path string, props map[string]string) *PropertyFileHandler {
	return &PropertyFileHandler{op: fileCreate, path: path, props: maps.Clone(props), backups: backups}
}

// NewUpdatePropertyFile returns a handler that rewrites path with props.
// With keepIgnored, keys present in the file but absent from props are
// kept; otherwise the file holds exactly props. Commit fails if the file
// does not exist.
func NewUpdatePropertyFile(backups Backups, path string, props map[string]string, keepIgnored bool) *PropertyFileHandler {
	return &PropertyFileHandler{op: fileUpdate, path: path, props: maps.Clone(props), keepIgnored: keepIgnored, backups: backups}
}

// NewDeletePropertyFile returns a handler that deletes path.
func NewDeletePropertyFile(backups Backups, path string) *PropertyFileHandler {
	return &PropertyFileHandler{op: fileDelete, path: path, backups: backups}
}

// Kind implements configurator.ConfigHandler.
func (h *PropertyFileHandler) Kind() configurator.Kind { return configurator.KindPropertyFile }

// Target implements configurator.ConfigHandler.
func (h *PropertyFileHandler) Target() string { return h.path }

// Commit implements configurator.ConfigHandler.
func (h *PropertyFileHandler) Commit(ctx context.Context) (configurator.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return configurator.Outcome{}, configurator.NewConfiguratorError(h.op.String(), h.path, err)
	}

	var err error
	switch h.op {
	case fileCreate:
		err = h.commitCreate()
	case fileUpdate:
		err = h.commitUpdate()
	case fileDelete:
		err = h.commitDelete()
	}
	if err != nil {
		return configurator.Outcome{}, configurator.NewConfiguratorError(h.op.String(), h.path, err)
	}
	h.markCommitted()
	return configurator.Outcome{}, nil
}

func (h *PropertyFileHandler) commitCreate() error {
	if _, err := os.Stat(h.path); err == nil {
		return ErrFileExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	h.snap = fileSnapshot{}
	if err := os.MkdirAll(filepath.Dir(h.path), 0750); err != nil {
		return err
	}
	return writeProperties(h.path, h.props, defaultFileMode)
}

func (h *PropertyFileHandler) commitUpdate() error {
	current, err := loadProperties(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrFileNotFound
	}
	if err != nil {
		return err
	}

	snap, err := takeSnapshot(h.path, h.backups)
	if err != nil {
		return err
	}
	h.snap = snap

	next := h.props
	if h.keepIgnored {
		next = make(map[string]string, len(current)+len(h.props))
		maps.Copy(next, current)
		maps.Copy(next, h.props)
	}
	if err := writeProperties(h.path, next, snap.perm); err != nil {
		h.discardSnapshot()
		return err
	}
	return nil
}

func (h *PropertyFileHandler) commitDelete() error {
	snap, err := takeSnapshot(h.path, h.backups)
	if err != nil {
		return err
	}
	if !snap.existed {
		return ErrFileNotFound
	}
	h.snap = snap
	if err := os.Remove(h.path); err != nil {
		h.discardSnapshot()
		return err
	}
	return nil
}

// discardSnapshot deletes the backup of a change that was never applied.
func (h *PropertyFileHandler) discardSnapshot() {
	if h.snap.backupPath != "" {
		if err := os.Remove(h.snap.backupPath); err == nil || errors.Is(err, fs.ErrNotExist) {
			h.releaseBackup()
		}
	}
	h.snap = fileSnapshot{}
}

func (h *PropertyFileHandler) releaseBackup() {
	if r, ok := h.backups.(BackupReleaser); ok {
		_ = r.ReleaseBackup(h.snap.backupPath, h.path)
	}
}

// Rollback implements configurator.ConfigHandler.
func (h *PropertyFileHandler) Rollback(ctx context.Context) error {
	op := "roll back " + h.op.String()
	if err := h.beginRollback(); err != nil {
		return configurator.NewConfiguratorError(op, h.path, err)
	}
	if err := h.snap.restore(h.path, h.backups); err != nil {
		return configurator.NewConfiguratorError(op, h.path, err)
	}
	// The backup was consumed by the restore.
	h.snap.backupPath = ""
	return nil
}

// Finish implements configurator.Finisher. It releases a backup that was
// kept but not restored.
func (h *PropertyFileHandler) Finish() {
	if h.snap.backupPath == "" {
		return
	}
	h.releaseBackup()
	h.snap.backupPath = ""
}

// ReadState loads the file's current properties.
func (h *PropertyFileHandler) ReadState(ctx context.Context) (configurator.State, error) {
	st := configurator.State{Kind: configurator.KindPropertyFile, Target: h.path}
	props, err := loadProperties(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, configurator.NewConfiguratorError("read property file", h.path, err)
	}
	st.Exists = true
	st.Properties = props
	return st, nil
}

var (
	_ configurator.ConfigHandler = (*PropertyFileHandler)(nil)
	_ configurator.Finisher      = (*PropertyFileHandler)(nil)
)

// =============================================================================
// Snapshots
// =============================================================================

// fileSnapshot is the pre-commit state of a file.
type fileSnapshot struct {
	existed    bool
	backupPath string
	data       []byte
	perm       fs.FileMode
}

func takeSnapshot(path string, backups Backups) (fileSnapshot, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileSnapshot{}, nil
	}
	if err != nil {
		return fileSnapshot{}, err
	}

	snap := fileSnapshot{existed: true, perm: info.Mode().Perm()}
	if backups != nil {
		snap.backupPath, err = backups.BackupBeforeOverwrite(path)
		if err != nil {
			return fileSnapshot{}, fmt.Errorf("backup: %w", err)
		}
		// The file vanished between Stat and the copy.
		snap.existed = snap.backupPath != ""
		return snap, nil
	}

	snap.data, err = os.ReadFile(path)
	if err != nil {
		return fileSnapshot{}, err
	}
	return snap, nil
}

func (s fileSnapshot) restore(path string, backups Backups) error {
	switch {
	case !s.existed:
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	case s.backupPath != "":
		if backups == nil {
			return fmt.Errorf("backup %s recorded without a backup manager", s.backupPath)
		}
		return backups.RestoreBackup(s.backupPath, path)
	default:
		return writeFileAtomic(path, s.data, s.perm)
	}
}

// =============================================================================
// Property File I/O
// =============================================================================

var propertiesLoader = properties.Loader{
	Encoding:         properties.UTF8,
	DisableExpansion: true,
}

// loadProperties reads path into a map. Missing files return an error
// wrapping fs.ErrNotExist.
func loadProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := propertiesLoader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return p.Map(), nil
}

// encodeProperties renders props in .properties format with sorted keys.
func encodeProperties(props map[string]string) ([]byte, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if _, _, err := p.Set(k, props[k]); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}

	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeProperties(path string, props map[string]string, perm fs.FileMode) error {
	data, err := encodeProperties(props)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, perm)
}

// writeFileAtomic writes data to a temp file in path's directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	if perm == 0 {
		perm = defaultFileMode
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
