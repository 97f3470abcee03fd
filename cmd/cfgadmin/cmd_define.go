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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func runBundleDefine(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	p := newPrinter(cmd)
	for _, name := range args {
		if err := a.registry.DefineBundle(cmd.Context(), name); err != nil {
			return fmt.Errorf("define bundle %s: %w", name, err)
		}
		if !jsonOutput {
			p.Success("bundle " + name + " defined")
		}
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), args)
	}
	return nil
}

func runBundleList(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	bundles, err := a.registry.Bundles(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), bundles)
	}

	rows := make([][]string, 0, len(bundles))
	for _, b := range bundles {
		rows = append(rows, []string{b.Name, string(b.State), b.UpdatedAt.Format(time.RFC3339)})
	}
	newPrinter(cmd).Table([]string{"BUNDLE", "STATE", "UPDATED"}, rows)
	return nil
}

func runFeatureDefine(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	name, bundles := args[0], args[1:]
	if err := a.registry.DefineFeature(cmd.Context(), name, bundles); err != nil {
		return fmt.Errorf("define feature %s: %w", name, err)
	}
	feature, err := a.registry.Feature(cmd.Context(), name)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), feature)
	}
	newPrinter(cmd).Success(fmt.Sprintf("feature %s defined with %d bundles", name, len(feature.Bundles)))
	return nil
}

func runFeatureList(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	features, err := a.registry.Features(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), features)
	}

	rows := make([][]string, 0, len(features))
	for _, f := range features {
		rows = append(rows, []string{f.Name, strconv.FormatBool(f.Installed), strings.Join(f.Bundles, ",")})
	}
	newPrinter(cmd).Table([]string{"FEATURE", "INSTALLED", "BUNDLES"}, rows)
	return nil
}
