package adapter

import (
	"os"
	"path/filepath"

	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

// Codex adapts the OpenAI Codex CLI. Codex reports lifecycle notifications
// keyed by thread_id and has no transcript the bridge can tail.
type Codex struct{}

// NewCodex creates the Codex adapter.
func NewCodex() *Codex { return &Codex{} }

func (c *Codex) Name() string        { return "codex" }
func (c *Codex) DisplayName() string { return "Codex" }

func (c *Codex) BuildCommand(flags map[string]string) (string, error) {
	return buildCommand("codex", flags)
}

var codexHooks = []string{
	"session_start",
	"session_end",
	"turn_start",
	"turn_complete",
	"tool_start",
	"tool_end",
	"notification",
	"agent-turn-complete",
}

func (c *Codex) HookNames() []string { return codexHooks }

func (c *Codex) HasSignatureKeys(payload map[string]any) bool {
	return has(payload, "thread_id")
}

// MatchesToolShape recognizes Codex's tool/input field pair.
func (c *Codex) MatchesToolShape(payload map[string]any) bool {
	return has(payload, "tool") && has(payload, "input")
}

func (c *Codex) ParseHookEvent(hookName string, payload map[string]any) *event.Event {
	ev := &event.Event{Agent: c.Name()}
	switch hookName {
	case "session_start":
		ev.Type = event.KindSessionStart
		ev.Source = str(payload, "source")
	case "session_end":
		ev.Type = event.KindSessionEnd
	case "turn_start":
		ev.Type = event.KindUserPromptSubmit
		ev.Prompt = str(payload, "prompt")
	case "turn_complete", "agent-turn-complete":
		ev.Type = event.KindStop
		ev.Response = str(payload, "last-assistant-message")
		if ev.Response == "" {
			ev.Response = str(payload, "last_assistant_message")
		}
	case "tool_start":
		ev.Type = event.KindPreToolUse
		ev.Tool = str(payload, "tool")
		ev.ToolInput = payload["input"]
		ev.ToolUseID = str(payload, "call_id")
	case "tool_end":
		ev.Type = event.KindPostToolUse
		ev.Tool = str(payload, "tool")
		ev.ToolInput = payload["input"]
		ev.ToolResponse = payload["output"]
		ev.ToolUseID = str(payload, "call_id")
		success := str(payload, "status") != "failed"
		ev.Success = &success
	case "notification":
		ev.Type = event.KindNotification
		ev.Message = str(payload, "message")
		ev.Level = str(payload, "level")
	default:
		return nil
	}
	return ev
}

func (c *Codex) ExtractSessionID(payload map[string]any) string {
	if id := str(payload, "thread_id"); id != "" {
		return id
	}
	return str(payload, "session_id")
}

// ParseTranscriptEntry always returns nil: Codex keeps no transcript the
// bridge can follow.
func (c *Codex) ParseTranscriptEntry(entry map[string]any) *event.Event {
	return nil
}

func (c *Codex) SettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".codex", "config.toml"), nil
}

func (c *Codex) InstallHooks(hookCommand string) error {
	path, err := c.SettingsPath()
	if err != nil {
		return err
	}
	return installCodexNotify(path, hookCommand)
}

func (c *Codex) UninstallHooks() error {
	path, err := c.SettingsPath()
	if err != nil {
		return err
	}
	return uninstallCodexNotify(path)
}

func (c *Codex) IsAvailable() bool { return binaryOnPath("codex") }
