package adapter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const hookCommand = "CAB_AGENT=claude /data/hooks/coding-agent-hook.sh"

func readHooks(t *testing.T, path string) map[string][]hookEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parsing settings: %v", err)
	}
	hooks := make(map[string][]hookEntry)
	if h, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(h, &hooks); err != nil {
			t.Fatalf("parsing hooks: %v", err)
		}
	}
	return hooks
}

func countBridgeCommands(entries []hookEntry) int {
	n := 0
	for _, entry := range entries {
		for _, cmd := range entry.Hooks {
			if strings.Contains(cmd.Command, hookMarker) {
				n++
			}
		}
	}
	return n
}

func TestInstallClaudeHooksIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	for i := 0; i < 3; i++ {
		if err := installClaudeHooks(path, hookCommand); err != nil {
			t.Fatalf("install %d: %v", i, err)
		}
	}

	hooks := readHooks(t, path)
	for _, name := range claudeHooks {
		if got := countBridgeCommands(hooks[name]); got != 1 {
			t.Errorf("%s: expected exactly 1 bridge entry, got %d", name, got)
		}
	}
}

func TestInstallClaudeHooksPreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	existing := `{
		"model": "opus",
		"permissions": {"allow": ["Bash(ls:*)"]},
		"hooks": {
			"PreToolUse": [
				{"matcher": "Bash", "hooks": [{"type": "command", "command": "my-linter"}]}
			]
		}
	}`
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := installClaudeHooks(path, hookCommand); err != nil {
		t.Fatalf("install: %v", err)
	}

	data, _ := os.ReadFile(path)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["model"]) != `"opus"` {
		t.Errorf("model field not preserved: %s", raw["model"])
	}
	if _, ok := raw["permissions"]; !ok {
		t.Error("permissions field lost")
	}

	hooks := readHooks(t, path)
	foundLinter := false
	for _, entry := range hooks["PreToolUse"] {
		for _, cmd := range entry.Hooks {
			if cmd.Command == "my-linter" {
				foundLinter = true
			}
		}
	}
	if !foundLinter {
		t.Error("pre-existing user hook was removed")
	}
	if countBridgeCommands(hooks["PreToolUse"]) != 1 {
		t.Error("bridge hook missing after install")
	}
}

func TestUninstallClaudeHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := installClaudeHooks(path, hookCommand); err != nil {
		t.Fatal(err)
	}
	if err := uninstallClaudeHooks(path); err != nil {
		t.Fatal(err)
	}

	hooks := readHooks(t, path)
	for name, entries := range hooks {
		if got := countBridgeCommands(entries); got != 0 {
			t.Errorf("%s: %d bridge entries left after uninstall", name, got)
		}
	}
}

func TestCodexNotifyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("model = \"o3\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	script := "/data/hooks/coding-agent-hook.sh"
	if err := installCodexNotify(path, script); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := installCodexNotify(path, script); err != nil {
		t.Fatalf("reinstall: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "coding-agent-hook.sh") {
		t.Fatalf("notify entry missing: %s", content)
	}
	if strings.Count(content, "coding-agent-hook.sh") != 1 {
		t.Fatalf("reinstall duplicated the notify entry: %s", content)
	}
	if !strings.Contains(content, `model = "o3"`) {
		t.Errorf("existing config key lost: %s", content)
	}

	if err := uninstallCodexNotify(path); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "coding-agent-hook.sh") {
		t.Errorf("notify entry left after uninstall: %s", data)
	}
}
