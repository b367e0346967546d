package main

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"snapwatch/internal/copr"
	"snapwatch/internal/format"
	"snapwatch/internal/matrix"
	"snapwatch/internal/runner"
)

var statusFlags struct {
	strategy string
	day      string
	markdown bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the package-by-chroot build grid for a snapshot",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusFlags.strategy, "strategy", "", "Strategy to inspect (required)")
	f.StringVar(&statusFlags.day, "day", "", "Snapshot day as YYYYMMDD (default: today, UTC)")
	f.BoolVar(&statusFlags.markdown, "markdown", false, "Render the grid as a Markdown table")

	_ = statusCmd.MarkFlagRequired("strategy")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	r, _, err := buildRunner()
	if err != nil {
		return err
	}
	day := statusFlags.day
	if day == "" {
		day = r.Today()
	}
	report, err := r.Status(cmd.Context(), statusFlags.strategy, day)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Project: %s\n", report.Project)
	fmt.Fprintf(out, "Health:  %s\n\n", report.Result.Summary())

	mode := format.ASCII
	if statusFlags.markdown {
		mode = format.Markdown
	}
	fmt.Fprintln(out, buildGrid(report, mode))

	if len(report.Result.Failing) > 0 {
		fmt.Fprintln(out, "Failing builds:")
		now := time.Now()
		for _, rec := range report.Result.Failing {
			line := fmt.Sprintf("  %s on %s", rec.Package, rec.Chroot)
			if !rec.EndedOn.IsZero() {
				line += fmt.Sprintf(" (ended %s)", format.Age(rec.EndedOn, now))
			}
			if rec.WebURL != "" {
				line += ": " + rec.WebURL
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

// buildGrid renders one row per package and one column per chroot, with
// the build state in each cell. Expected pairs without a build record
// show as "missing".
func buildGrid(report runner.StatusReport, mode format.Mode) string {
	chroots := lo.Uniq(lo.Map(report.Expected, func(p matrix.Pair, _ int) string {
		return string(p.Chroot)
	}))
	packages := lo.Uniq(lo.Map(report.Expected, func(p matrix.Pair, _ int) string {
		return string(p.Package)
	}))

	cells := make(map[string]copr.State, len(report.Records))
	for _, rec := range report.Records {
		cells[rec.Package+"/"+rec.Chroot] = rec.State
	}

	tbl := format.NewTable(mode)
	tbl.Header(append([]string{"package"}, chroots...)...)
	centered := make([]int, len(chroots))
	for i := range chroots {
		centered[i] = i + 2
	}
	tbl.Center(centered...)
	for _, pkg := range packages {
		row := []string{pkg}
		for _, ch := range chroots {
			if state, ok := cells[pkg+"/"+ch]; ok {
				row = append(row, format.StateMark(state))
			} else {
				row = append(row, "missing")
			}
		}
		tbl.Row(row...)
	}
	return tbl.String()
}
