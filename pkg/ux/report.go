// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/cfgadmin/services/configurator"
)

// ResultIcon maps a result kind to its status icon.
func ResultIcon(kind configurator.ResultKind) Icon {
	switch kind {
	case configurator.ResultPass, configurator.ResultPassManagedService:
		return IconSuccess
	case configurator.ResultRollback:
		return IconRollback
	case configurator.ResultSkip:
		return IconPending
	default:
		return IconError
	}
}

func styleForStatus(status string) string {
	switch status {
	case configurator.StatusCommitted:
		return Styles.Success.Render(status)
	case configurator.StatusRolledBack:
		return Styles.Warning.Render(status)
	case configurator.StatusInterventionRequired:
		return Styles.Error.Bold(true).Render(status)
	default:
		return Styles.Muted.Render(status)
	}
}

// Report prints one transaction report.
//
// # Description
//
// Machine output is one header line, one tab-separated line per entry and
// a SUMMARY line:
//
//	REPORT	<id>	<status>	<audit message>
//	<entry id>	<kind>	<target>	<result>
//	SUMMARY: pass=2 rollback=1
//
// Richer levels print the same data with icons, and list entries that
// need manual intervention in a warning box.
func (p *Printer) Report(rec configurator.ReportRecord) {
	summary := configurator.FromRecord(rec).SummaryString()

	if p.machine() {
		fmt.Fprintf(p.w, "REPORT\t%s\t%s\t%s\n", rec.ID, rec.Status, rec.AuditMessage)
		for _, e := range rec.Entries {
			fmt.Fprintf(p.w, "%s\t%s\t%s\t%s\n", e.ID, e.Kind, e.Target, e.Result)
		}
		fmt.Fprintf(p.w, "SUMMARY: %s\n", summary)
		return
	}

	fmt.Fprintf(p.w, "%s %s  %s\n", Styles.Title.Render("Transaction"), rec.ID, styleForStatus(rec.Status))
	if rec.AuditMessage != "" {
		fmt.Fprintln(p.w, Styles.Muted.Render(rec.AuditMessage))
	}

	var intervention []string
	for _, e := range rec.Entries {
		fmt.Fprintf(p.w, "  %s %s %s %s\n",
			ResultIcon(e.Result.Kind).Render(),
			column(string(e.Kind), 16),
			column(e.Target, 36),
			Styles.Muted.Render(e.Result.String()),
		)
		if e.Result.RequiresIntervention() {
			intervention = append(intervention, interventionLine(e))
		}
	}
	fmt.Fprintln(p.w, Styles.Subtitle.Render(summary))

	if len(intervention) > 0 {
		p.WarningBox("Manual intervention required", intervention...)
	}
}

func interventionLine(e configurator.Entry) string {
	line := fmt.Sprintf("%s %s %s", IconBullet, e.Kind, e.Target)
	if e.Result.ConfigID != "" {
		line += " (left behind: " + e.Result.ConfigID + ")"
	}
	if e.Result.Cause != nil {
		line += ": " + e.Result.Cause.Error()
	}
	return line
}

// Reports prints a list of transaction reports, one per line.
func (p *Printer) Reports(recs []configurator.ReportRecord) {
	if len(recs) == 0 {
		p.Info("no transactions recorded")
		return
	}
	for _, rec := range recs {
		completed := rec.CompletedAt.Format(time.RFC3339)
		if p.machine() {
			fmt.Fprintf(p.w, "%s\t%s\t%s\t%d\t%s\n", rec.ID, rec.Status, completed, len(rec.Entries), rec.AuditMessage)
			continue
		}
		fmt.Fprintf(p.w, "%s %s %s %s\n",
			column(rec.ID, 38),
			column(styleForStatus(rec.Status), 22),
			Styles.Muted.Render(completed),
			rec.AuditMessage,
		)
	}
}

// State prints the current state of one configuration target.
func (p *Printer) State(st configurator.State) {
	keys := make([]string, 0, len(st.Properties))
	for k := range st.Properties {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	if p.machine() {
		fmt.Fprintf(p.w, "%s\t%s\texists=%t\tactive=%t\n", st.Kind, st.Target, st.Exists, st.Active)
		for _, k := range keys {
			fmt.Fprintf(p.w, "%s=%s\n", k, st.Properties[k])
		}
		return
	}

	fmt.Fprintf(p.w, "%s %s\n", Styles.Title.Render(string(st.Kind)), st.Target)
	switch {
	case !st.Exists:
		fmt.Fprintf(p.w, "  %s %s\n", IconPending.Render(), Styles.Muted.Render("does not exist"))
		return
	case st.Kind == configurator.KindBundle || st.Kind == configurator.KindFeature:
		if st.Active {
			fmt.Fprintf(p.w, "  %s %s\n", IconSuccess.Render(), Styles.Success.Render("active"))
		} else {
			fmt.Fprintf(p.w, "  %s %s\n", IconPending.Render(), Styles.Muted.Render("inactive"))
		}
	}
	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}
	for _, k := range keys {
		fmt.Fprintf(p.w, "  %s %s %s\n", Styles.Bold.Render(column(k, width)), Styles.Muted.Render("="), st.Properties[k])
	}
}

// Table prints rows under headers. Machine output omits the headers and
// separates columns with tabs.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.machine() {
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], len(cell))
			}
		}
	}

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = Styles.Subtitle.Render(column(h, widths[i]))
	}
	fmt.Fprintln(p.w, strings.Join(cells, "  "))
	for _, row := range rows {
		cells = cells[:0]
		for i, cell := range row {
			if i < len(widths) {
				cell = column(cell, widths[i])
			}
			cells = append(cells, cell)
		}
		fmt.Fprintln(p.w, strings.Join(cells, "  "))
	}
}
