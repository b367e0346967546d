package main

import (
	"github.com/spf13/cobra"
)

var rotateFlags struct {
	strategy string
	day      string
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the day's snapshot projects and kick off fresh builds",
	RunE:  runRotate,
}

func init() {
	f := rotateCmd.Flags()
	f.StringVar(&rotateFlags.strategy, "strategy", "", "Strategy to rotate (default: all configured)")
	f.StringVar(&rotateFlags.day, "day", "", "Snapshot day as YYYYMMDD (default: today, UTC)")
}

func runRotate(cmd *cobra.Command, _ []string) error {
	r, _, err := buildRunner()
	if err != nil {
		return err
	}
	day := rotateFlags.day
	if day == "" {
		day = r.Today()
	}
	if rotateFlags.strategy != "" {
		return r.Rotate(cmd.Context(), rotateFlags.strategy, day)
	}
	return r.RotateAll(cmd.Context(), day)
}
