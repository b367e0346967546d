package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snapwatch/internal/rebuild"
)

var rebuildFlags struct {
	dryRun bool
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Check the mass-rebuild campaign and publish regression reports",
	RunE:  runRebuild,
}

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildFlags.dryRun, "dry-run", false, "Check the campaign without publishing a report")
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	r, _, err := buildRunner()
	if err != nil {
		return err
	}
	var res rebuild.Result
	if rebuildFlags.dryRun {
		res, err = r.RebuildCheck(cmd.Context())
	} else {
		res, err = r.RebuildRun(cmd.Context())
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Campaign: %s\n", res.Outcome)
	if res.Outcome == rebuild.NewReport {
		fmt.Fprintf(out, "Snapshot: %s\n", res.Report.SnapshotTime.UTC().Format(time.RFC3339))
		for _, reg := range res.Report.Regressions {
			fmt.Fprintf(out, "  %s: %s\n", reg.Package, strings.Join(reg.Chroots, ", "))
		}
	}
	return nil
}
