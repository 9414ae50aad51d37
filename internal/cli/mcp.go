package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/bridge"
	"github.com/sploithunter/coding-agent-bridge/internal/config"
	"github.com/sploithunter/coding-agent-bridge/internal/mcpserver"
	"github.com/sploithunter/coding-agent-bridge/internal/tmux"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve bridge tools over MCP stdio",
	Long: `Expose list_sessions, send_prompt, and capture_pane as MCP tools so an
assistant can drive the bridge. Reads the shared session state from the
data dir; run the bridge server separately for hooks and the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagDataDir)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Debug || flagDebug)

		registry := adapter.NewRegistry()
		sup := bridge.New(bridge.Config{
			DataDir:       cfg.DataDir,
			DefaultAgent:  cfg.DefaultAgent,
			LinkingWindow: time.Duration(cfg.LinkingWindowMs) * time.Millisecond,
			TrackExternal: cfg.TrackExternal,
		}, tmux.New(logger), registry, logger)
		if err := sup.Load(); err != nil {
			return err
		}
		return mcpserver.Serve(sup, version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
