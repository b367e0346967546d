// snapwatch is the snapshot farm watchdog CLI: rotate, check, promote,
// status, rebuild, watch, serve.
//
// Usage:
//
//	snapwatch rotate [--strategy=<name>] [--day=YYYYMMDD]
//	snapwatch check [--strategy=<name>] [--day=YYYYMMDD]
//	snapwatch promote [--strategy=<name>] [--day=YYYYMMDD]
//	snapwatch status --strategy=<name> [--day=YYYYMMDD] [--markdown]
//	snapwatch rebuild [--dry-run]
//	snapwatch watch
//	snapwatch serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config    string
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "snapwatch",
	Short: "Health monitoring and incident tracking for daily package snapshots",
	Long: "Snapwatch drives daily snapshot projects on a Copr build farm:\n" +
		"it rotates them, evaluates their build health, promotes healthy days\n" +
		"and keeps one tracking issue per broken day reconciled on GitHub.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", "snapwatch.yaml", "Path to the configuration file (YAML or JSON)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
