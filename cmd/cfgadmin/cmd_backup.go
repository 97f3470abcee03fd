// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ErrBackupsDisabled is returned by backup commands when backup.enabled is
// false in the config file.
var ErrBackupsDisabled = errors.New("backups are disabled in the config file")

func runBackupList(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	if a.backups == nil {
		return ErrBackupsDisabled
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	backups, err := a.backups.ListBackups(path)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), backups)
	}

	rows := make([][]string, 0, len(backups))
	for _, b := range backups {
		rows = append(rows, []string{b.Path, b.CreatedAt.Format(time.RFC3339), strconv.FormatInt(b.Size, 10)})
	}
	newPrinter(cmd).Table([]string{"BACKUP", "CREATED", "BYTES"}, rows)
	return nil
}

func runBackupClean(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	if a.backups == nil {
		return ErrBackupsDisabled
	}

	p := newPrinter(cmd)
	removed := make(map[string]int, len(args))
	var errs []error
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := a.backups.CleanOldBackups(path, backupMaxAge)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		removed[path] = n
		if !jsonOutput {
			p.Success(fmt.Sprintf("%s: removed %d backups", path, n))
		}
	}
	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), removed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
