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
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath    string
	jsonOutput    bool
	traceStdout   bool
	reportLimit   int
	watchDebounce time.Duration
	backupMaxAge  time.Duration

	rootCmd = &cobra.Command{
		Use:   "cfgadmin",
		Short: "Apply configuration changes as all-or-nothing transactions",
		Long: `cfgadmin applies a plan of configuration changes (property files,
managed-service configurations, bundles and features) in order. If any
change fails, the changes already made are rolled back in reverse order
and the report says exactly what happened to each one.`,
		SilenceUsage: true,
	}

	// --- Transactions ---
	applyCmd = &cobra.Command{
		Use:   "apply [plan.yaml]",
		Short: "Apply a plan and print its report",
		Args:  cobra.ExactArgs(1),
		RunE:  runApply, // Defined in cmd_apply.go
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Inspect stored transaction reports",
	}
	reportListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent reports, newest first",
		Args:  cobra.NoArgs,
		RunE:  runReportList, // Defined in cmd_report.go
	}
	reportShowCmd = &cobra.Command{
		Use:   "show [transaction_id]",
		Short: "Show one report in full",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportShow, // Defined in cmd_report.go
	}

	// --- State ---
	stateCmd = &cobra.Command{
		Use:       "state [bundle|feature|config|file] [target]",
		Short:     "Show the current state of a configuration target",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"bundle", "feature", "config", "file"},
		RunE:      runState, // Defined in cmd_state.go
	}

	// --- Definitions ---
	bundleCmd = &cobra.Command{
		Use:   "bundle",
		Short: "Manage known bundles",
	}
	bundleDefineCmd = &cobra.Command{
		Use:   "define [name...]",
		Short: "Install bundles in the resolved state",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBundleDefine, // Defined in cmd_define.go
	}
	bundleListCmd = &cobra.Command{
		Use:   "list",
		Short: "List bundles and their state",
		Args:  cobra.NoArgs,
		RunE:  runBundleList, // Defined in cmd_define.go
	}
	featureCmd = &cobra.Command{
		Use:   "feature",
		Short: "Manage features",
	}
	featureDefineCmd = &cobra.Command{
		Use:   "define [name] [bundle...]",
		Short: "Define a feature as a group of bundles",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFeatureDefine, // Defined in cmd_define.go
	}
	featureListCmd = &cobra.Command{
		Use:   "list",
		Short: "List features and whether they are installed",
		Args:  cobra.NoArgs,
		RunE:  runFeatureList, // Defined in cmd_define.go
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Inspect property file backups",
	}
	backupListCmd = &cobra.Command{
		Use:   "list [file]",
		Short: "List backups of a property file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupList, // Defined in cmd_backup.go
	}
	backupCleanCmd = &cobra.Command{
		Use:   "clean [file...]",
		Short: "Remove backups older than --older-than",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBackupClean, // Defined in cmd_backup.go
	}

	// --- Services ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the transaction API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Print property file state whenever a file in dir changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.cfgadmin/cfgadmin.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolVar(&traceStdout, "trace", false, "Print OpenTelemetry spans to stdout")

	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportListCmd.Flags().IntVar(&reportLimit, "limit", 20, "Maximum number of reports")

	rootCmd.AddCommand(stateCmd)

	rootCmd.AddCommand(bundleCmd)
	bundleCmd.AddCommand(bundleDefineCmd)
	bundleCmd.AddCommand(bundleListCmd)
	rootCmd.AddCommand(featureCmd)
	featureCmd.AddCommand(featureDefineCmd)
	featureCmd.AddCommand(featureListCmd)

	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupCleanCmd)
	backupCleanCmd.Flags().DurationVar(&backupMaxAge, "older-than", 30*24*time.Hour, "Age beyond which backups are removed")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond, "Quiet period before a change is reported")
}
