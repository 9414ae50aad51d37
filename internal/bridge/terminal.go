package bridge

import (
	"log/slog"
	"os/exec"
	"runtime"
)

// spawnTerminal opens a visible terminal emulator attached to the tmux
// session. Fire-and-forget: failures are logged and never propagate.
func spawnTerminal(tmuxSession string, logger *slog.Logger) {
	attach := "tmux attach-session -t " + tmuxSession

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("osascript", "-e",
			`tell application "Terminal" to do script "`+attach+`"`)
	case "linux":
		cmd = exec.Command("x-terminal-emulator", "-e", "tmux", "attach-session", "-t", tmuxSession)
	default:
		logger.Debug("terminal spawning not supported", "os", runtime.GOOS)
		return
	}

	if err := cmd.Start(); err != nil {
		logger.Debug("failed to spawn terminal", "tmux", tmuxSession, "err", err)
		return
	}
	go cmd.Wait()
}
