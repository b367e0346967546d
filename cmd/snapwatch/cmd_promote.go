package main

import (
	"github.com/spf13/cobra"
)

var promoteFlags struct {
	strategy string
	day      string
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Fork the previous day's healthy snapshot into the target project",
	RunE:  runPromote,
}

func init() {
	f := promoteCmd.Flags()
	f.StringVar(&promoteFlags.strategy, "strategy", "", "Strategy to promote (default: all configured)")
	f.StringVar(&promoteFlags.day, "day", "", "Day to promote from, as the day after the snapshot (default: today, UTC)")
}

func runPromote(cmd *cobra.Command, _ []string) error {
	r, _, err := buildRunner()
	if err != nil {
		return err
	}
	day := promoteFlags.day
	if day == "" {
		day = r.Today()
	}
	if promoteFlags.strategy != "" {
		return r.Promote(cmd.Context(), promoteFlags.strategy, day)
	}
	return r.PromoteAll(cmd.Context(), day)
}
