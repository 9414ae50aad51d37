// Package cli implements the cab command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var (
	flagDataDir string
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "cab",
	Short: "Supervise coding-agent CLI sessions running in tmux",
	Long: `cab bridges interactive coding agents (Claude Code, Codex) running in
tmux sessions to an HTTP + WebSocket API. It reconciles spawned processes,
hook callbacks, and transcript files into one session model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "bridge data directory (default ~/.coding-agent-bridge)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.Version = version
}

// newLogger builds the process logger honoring --debug.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
