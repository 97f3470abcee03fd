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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/cfgadmin/cmd/cfgadmin/internal/watch"
	"github.com/AleutianAI/cfgadmin/pkg/logging"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
)

// runWatch prints the state of property files in a directory each time
// they change, until interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "cfgadmin",
		Output:  cmd.ErrOrStderr(),
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPrinter(cmd)
	onChange := func(paths []string) {
		for _, path := range paths {
			st, err := handlers.NewUpdatePropertyFile(nil, path, nil, true).ReadState(ctx)
			if err != nil {
				logger.Warn("reading property file failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
					logger.Warn("writing output failed", slog.String("error", err.Error()))
				}
				continue
			}
			p.State(st)
		}
	}

	w, err := watch.New(args[0], onChange, watch.Options{
		Debounce: watchDebounce,
		Logger:   logger.Slog(),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Info("watching property files", slog.String("dir", w.Dir()))
	return w.Run(ctx)
}
