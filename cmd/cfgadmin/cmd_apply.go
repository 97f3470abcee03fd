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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
	"github.com/AleutianAI/cfgadmin/services/configurator/plan"
)

// ErrTransactionFailed is returned by apply when the report contains
// failed results, so the process exits non-zero.
var ErrTransactionFailed = errors.New("transaction did not commit")

// runApply parses a plan file, commits it as one transaction, stores the
// report and prints it.
func runApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading plan: %w", err)
	}
	p, err := plan.Parse(data)
	if err != nil {
		return err
	}

	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	tracing := a.config.Tracing
	if traceStdout {
		tracing.Enabled = true
		tracing.Exporter = "stdout"
	}
	if tracing.Enabled {
		shutdown, err := initTracing(ctx, tracing, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
			}
		}()
		a.tracing = true
	}

	cfg := configurator.New(a.options())
	reg := handlers.NewRegistrar(cfg, a.collaborators()).WithLogger(a.logger.Slog())
	if _, err := plan.Build(p, reg); err != nil {
		return err
	}

	report := cfg.Commit(ctx, p.Name, "source", "cli", "plan_file", args[0])
	if err := a.reports.Save(ctx, report); err != nil {
		a.logger.Warn("failed to store transaction report",
			slog.String("transaction_id", report.ID()),
			slog.String("error", err.Error()),
		)
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), report.Record()); err != nil {
			return err
		}
	} else {
		newPrinter(cmd).Report(report.Record())
	}

	if report.ContainsFailedResults() {
		return fmt.Errorf("%w: %s is %s", ErrTransactionFailed, report.ID(), report.Status())
	}
	return nil
}
