package adapter

import (
	"os"
	"path/filepath"

	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

// Claude adapts the Claude Code CLI. Hooks are configured in
// ~/.claude/settings.json; the transcript is an append-only JSONL file the
// CLI reports via transcript_path.
type Claude struct{}

// NewClaude creates the Claude Code adapter.
func NewClaude() *Claude { return &Claude{} }

func (c *Claude) Name() string        { return "claude" }
func (c *Claude) DisplayName() string { return "Claude Code" }

func (c *Claude) BuildCommand(flags map[string]string) (string, error) {
	return buildCommand("claude", flags)
}

// claudeHooks is the native hook vocabulary, mapped below onto canonical
// event kinds.
var claudeHooks = []string{
	"SessionStart",
	"SessionEnd",
	"UserPromptSubmit",
	"PreToolUse",
	"PostToolUse",
	"Stop",
	"SubagentStop",
	"Notification",
	"PreCompact",
}

func (c *Claude) HookNames() []string { return claudeHooks }

func (c *Claude) HasSignatureKeys(payload map[string]any) bool {
	return has(payload, "claude_session_id")
}

// MatchesToolShape recognizes Claude's tool_name/tool_input field pair.
func (c *Claude) MatchesToolShape(payload map[string]any) bool {
	return has(payload, "tool_name") && has(payload, "tool_input")
}

func (c *Claude) ParseHookEvent(hookName string, payload map[string]any) *event.Event {
	ev := &event.Event{Agent: c.Name()}
	switch hookName {
	case "SessionStart":
		ev.Type = event.KindSessionStart
		ev.Source = str(payload, "source")
	case "SessionEnd":
		ev.Type = event.KindSessionEnd
	case "UserPromptSubmit":
		ev.Type = event.KindUserPromptSubmit
		ev.Prompt = str(payload, "prompt")
	case "PreToolUse":
		ev.Type = event.KindPreToolUse
		ev.Tool = str(payload, "tool_name")
		ev.ToolInput = payload["tool_input"]
		ev.ToolUseID = str(payload, "tool_use_id")
	case "PostToolUse":
		ev.Type = event.KindPostToolUse
		ev.Tool = str(payload, "tool_name")
		ev.ToolInput = payload["tool_input"]
		ev.ToolResponse = payload["tool_response"]
		ev.ToolUseID = str(payload, "tool_use_id")
		success := !has(payload, "error")
		ev.Success = &success
	case "Stop":
		ev.Type = event.KindStop
		ev.StopHookActive = boolean(payload, "stop_hook_active")
	case "SubagentStop":
		ev.Type = event.KindSubagentStop
	case "Notification":
		ev.Type = event.KindNotification
		ev.Message = str(payload, "message")
		ev.Level = str(payload, "notification_type")
	default:
		// PreCompact and anything newer carry no state we track.
		return nil
	}
	return ev
}

func (c *Claude) ExtractSessionID(payload map[string]any) string {
	if id := str(payload, "claude_session_id"); id != "" {
		return id
	}
	return str(payload, "session_id")
}

// ParseTranscriptEntry selects assistant turns from the Claude Code JSONL
// transcript and flattens their content blocks.
func (c *Claude) ParseTranscriptEntry(entry map[string]any) *event.Event {
	if str(entry, "type") != "assistant" {
		return nil
	}
	msg, ok := entry["message"].(map[string]any)
	if !ok {
		return nil
	}

	ev := &event.Event{
		Type:      event.KindAssistantMessage,
		Agent:     c.Name(),
		RequestID: str(entry, "requestId"),
		CWD:       str(entry, "cwd"),
	}
	if ev.RequestID == "" {
		ev.RequestID = str(msg, "id")
	}

	blocks, _ := msg["content"].([]any)
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch str(block, "type") {
		case "text":
			ev.Content = append(ev.Content, event.ContentBlock{Type: "text", Text: str(block, "text")})
		case "thinking":
			ev.Content = append(ev.Content, event.ContentBlock{Type: "thinking", Text: str(block, "thinking")})
		case "tool_use":
			ev.Content = append(ev.Content, event.ContentBlock{
				Type:      "tool_use",
				ToolName:  str(block, "name"),
				ToolInput: block["input"],
				ToolUseID: str(block, "id"),
			})
		}
	}
	return ev
}

func (c *Claude) SettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

func (c *Claude) InstallHooks(hookCommand string) error {
	path, err := c.SettingsPath()
	if err != nil {
		return err
	}
	return installClaudeHooks(path, hookCommand)
}

func (c *Claude) UninstallHooks() error {
	path, err := c.SettingsPath()
	if err != nil {
		return err
	}
	return uninstallClaudeHooks(path)
}

func (c *Claude) IsAvailable() bool { return binaryOnPath("claude") }
