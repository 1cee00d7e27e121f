// Package commands implements the sspctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// metricsAddr is the sspd metrics endpoint host:port, set via --addr.
	metricsAddr string

	// metricsPath is the sspd metrics endpoint path, set via --path.
	metricsPath string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for sspctl.
var rootCmd = &cobra.Command{
	Use:   "sspctl",
	Short: "Inspection CLI for a running sspd process",
	Long: "sspctl reads the Prometheus metrics endpoint a sspd process exposes " +
		"and renders it for a human, since sspd manages one session per process " +
		"and has no session-mutation control plane to dial.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "addr", "localhost:9100",
		"sspd metrics endpoint address (host:port)")
	rootCmd.PersistentFlags().StringVar(&metricsPath, "path", "/metrics",
		"sspd metrics endpoint path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
