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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/cfgadmin/services/configurator"
	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
)

// stateReader probes a target without changing it.
type stateReader interface {
	ReadState(ctx context.Context) (configurator.State, error)
}

// runState prints the state of a bundle, feature, managed-service
// configuration or property file using the same probe the handlers use.
func runState(cmd *cobra.Command, args []string) error {
	kind, target := args[0], args[1]

	if kind == "file" {
		path, err := filepath.Abs(target)
		if err != nil {
			return err
		}
		return printState(cmd, handlers.NewUpdatePropertyFile(nil, path, nil, true))
	}

	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	switch kind {
	case "bundle":
		return printState(cmd, handlers.NewStartBundle(a.registry, target))
	case "feature":
		return printState(cmd, handlers.NewStartFeature(a.registry, target))
	case "config":
		return printState(cmd, handlers.NewUpdateManagedService(a.configs, target, nil, true))
	default:
		return fmt.Errorf("unknown target kind %q (want bundle, feature, config or file)", kind)
	}
}

func printState(cmd *cobra.Command, reader stateReader) error {
	st, err := reader.ReadState(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	newPrinter(cmd).State(st)
	return nil
}
