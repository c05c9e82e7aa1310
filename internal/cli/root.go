// Package cli implements the hearth command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "hearth — Home Assistant from your terminal",
	Long: `hearth — Home Assistant from your terminal

Talk to a Home Assistant server over its WebSocket API: query states,
call services, watch the live event stream, and run a local bridge that
re-exposes the session to other tools.

Distributed as a single static binary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hearth %s\n", version)
		fmt.Printf("  build:  %s\n", buildDate)
		fmt.Printf("  commit: %s\n", gitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statesCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(restCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the CLI logger; --verbose switches to debug level.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}
