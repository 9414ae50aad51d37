package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/config"
)

var setupAgent string

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install the bridge hook into agent settings",
	Long: `Write the hook script into the data dir and register it in each
available agent's settings file. Running setup again is safe; each agent
ends up with exactly one bridge hook entry.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().StringVar(&setupAgent, "agent", "", "only install for this agent")
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagDataDir)
	if err != nil {
		return err
	}

	for _, dir := range []string{filepath.Join(cfg.DataDir, "data"), filepath.Join(cfg.DataDir, "hooks")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	script := cfg.HookScript()
	if err := os.WriteFile(script, []byte(hookScript(cfg)), 0o755); err != nil {
		return fmt.Errorf("writing hook script: %w", err)
	}
	fmt.Println("wrote", script)

	registry := adapter.NewRegistry()
	for _, ad := range registry.All() {
		if setupAgent != "" && ad.Name() != setupAgent {
			continue
		}
		if !ad.IsAvailable() {
			fmt.Printf("skipping %s: binary not found\n", ad.DisplayName())
			continue
		}
		hookCommand := script
		if ad.Name() != "codex" {
			// Claude-style hooks run through a shell; tag the agent so
			// the decoder never has to guess.
			hookCommand = "CAB_AGENT=" + ad.Name() + " " + script
		}
		if err := ad.InstallHooks(hookCommand); err != nil {
			return fmt.Errorf("installing hooks for %s: %w", ad.Name(), err)
		}
		path, _ := ad.SettingsPath()
		fmt.Printf("installed hooks for %s (%s)\n", ad.DisplayName(), path)
	}
	return nil
}

// hookScript renders the shell hook. It appends the enriched payload to the
// events file (the source of truth) and nudges the bridge over HTTP with a
// 2s cap; a failed nudge is ignored. The bridge tails the file from its end
// when it starts, so lines appended while it was down are not replayed.
func hookScript(cfg config.Config) string {
	return fmt.Sprintf(`#!/usr/bin/env sh
# coding-agent-hook: forward agent hook payloads to the bridge.
# Installed by "cab setup"; safe to delete, reinstall with setup.

EVENTS_FILE=%q
BRIDGE_URL="${CAB_URL:-http://%s:%d}"

if [ -n "$1" ]; then
  payload="$1"
else
  payload=$(cat)
fi
[ -n "$payload" ] || exit 0

tty_name=$(tty 2>/dev/null) || tty_name=""

enriched=$(printf '%%s' "$payload" | jq -c \
  --arg agent "${CAB_AGENT:-}" \
  --arg tmux_pane "${TMUX_PANE:-}" \
  --arg tmux_socket "${TMUX%%%%,*}" \
  --arg tty "$tty_name" \
  --argjson received_at "$(($(date +%%s) * 1000))" \
  '. + {
    hook_type: (.hook_event_name // .type // .event_type),
    tmux_pane: $tmux_pane,
    tmux_socket: $tmux_socket,
    tty: $tty,
    received_at: $received_at
  } + (if $agent != "" then {agent: $agent} else {} end)') || exit 0

printf '%%s\n' "$enriched" >> "$EVENTS_FILE"

curl -s -m 2 -X POST -H 'Content-Type: application/json' \
  -d "$enriched" "$BRIDGE_URL/event" >/dev/null 2>&1 || true
`, cfg.EventsFile(), cfg.Host, cfg.Port)
}
