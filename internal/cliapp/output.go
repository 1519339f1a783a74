package cliapp

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"provenance/internal/core/ports"
)

// printer renders command results as plain text or, with -json, one JSON
// document per result.
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) encode(v any) int {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitUsage
	}
	return exitOK
}

func (p *printer) status(s ports.UpdateStatus) int {
	if p.json {
		return p.encode(s)
	}
	fmt.Fprintf(p.w, "baseline:        %s\n", s.Baseline)
	fmt.Fprintf(p.w, "update required: %s\n", yesNo(s.UpdateRequired))
	if s.LedgerLocked {
		fmt.Fprintln(p.w, "ledger locked:   yes")
	}
	if len(s.PendingFiles) > 0 {
		fmt.Fprintf(p.w, "pending files (%d, %d changesets):\n", len(s.PendingFiles), s.PendingChangeSets)
		for _, f := range s.PendingFiles {
			fmt.Fprintf(p.w, "  %s\n", f)
		}
	}
	return exitOK
}

func (p *printer) baseline(v string) int {
	if p.json {
		return p.encode(map[string]string{"baseline": v})
	}
	fmt.Fprintln(p.w, v)
	return exitOK
}

func (p *printer) pending(baseline string, files []string) int {
	if p.json {
		return p.encode(struct {
			Baseline     string   `json:"baseline"`
			PendingFiles []string `json:"pending_files"`
		}{baseline, files})
	}
	for _, f := range files {
		fmt.Fprintln(p.w, f)
	}
	return exitOK
}

func (p *printer) catalog(s ports.CatalogSummary) int {
	if p.json {
		return p.encode(s)
	}
	fmt.Fprintf(p.w, "layout:    %s\n", s.Layout)
	fmt.Fprintf(p.w, "snapshots: %s\n", strings.Join(s.SnapshotVersions, ", "))
	fmt.Fprintf(p.w, "updates:   %s\n", strings.Join(s.UpdateVersions, ", "))
	for _, c := range s.Combinations {
		fmt.Fprintf(p.w, "\n%s:\n", c.Version)
		for _, f := range c.Files {
			fmt.Fprintf(p.w, "  %s\n", f)
		}
	}
	return exitOK
}

func (p *printer) seeded(added int) int {
	if p.json {
		return p.encode(map[string]int{"recorded": added})
	}
	fmt.Fprintf(p.w, "recorded %d changesets\n", added)
	return exitOK
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
