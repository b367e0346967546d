package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"snapwatch/internal/runner"
)

var checkFlags struct {
	strategy string
	day      string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate snapshot health and reconcile tracking issues",
	RunE:  runCheck,
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkFlags.strategy, "strategy", "", "Strategy to check (default: all configured)")
	f.StringVar(&checkFlags.day, "day", "", "Snapshot day as YYYYMMDD (default: today, UTC)")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	r, _, err := buildRunner()
	if err != nil {
		return err
	}
	day := checkFlags.day
	if day == "" {
		day = r.Today()
	}
	out := cmd.OutOrStdout()
	if checkFlags.strategy != "" {
		summary, err := r.CheckStrategy(cmd.Context(), checkFlags.strategy, day)
		if err != nil {
			return err
		}
		printCheckSummary(out, summary)
		return nil
	}
	summaries, err := r.CheckAll(cmd.Context(), day)
	for _, s := range summaries {
		printCheckSummary(out, s)
	}
	return err
}

func printCheckSummary(out io.Writer, s runner.CheckSummary) {
	fmt.Fprintf(out, "%s: %s\n", s.Project, s.Result.Summary())
	if s.IssueURL != "" {
		fmt.Fprintf(out, "  tracking issue: %s\n", s.IssueURL)
	}
}
