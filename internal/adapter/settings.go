package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// hookMarker identifies bridge-managed hook commands inside a settings file,
// so installs stay idempotent even when the data dir moves.
const hookMarker = "coding-agent-hook"

// hookCmd is one command entry in a Claude Code settings hook list.
type hookCmd struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// hookEntry is a matcher with its commands.
type hookEntry struct {
	Matcher string    `json:"matcher,omitempty"`
	Hooks   []hookCmd `json:"hooks"`
}

// loadSettings parses settings.json into a raw map so unknown fields
// round-trip untouched.
func loadSettings(path string) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return raw, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return raw, nil
}

func saveSettings(path string, raw map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// installClaudeHooks adds the bridge hook command to every hook event the
// bridge listens on. Existing bridge entries are replaced, so N installs
// leave exactly one bridge command per event.
func installClaudeHooks(path, hookCommand string) error {
	raw, err := loadSettings(path)
	if err != nil {
		return err
	}

	hooks := make(map[string][]hookEntry)
	if h, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(h, &hooks); err != nil {
			return fmt.Errorf("parsing hooks section: %w", err)
		}
	}

	for _, name := range claudeHooks {
		entries := stripBridgeCommands(hooks[name])
		entries = append(entries, hookEntry{
			Matcher: "*",
			Hooks:   []hookCmd{{Type: "command", Command: hookCommand}},
		})
		hooks[name] = entries
	}

	data, err := json.Marshal(hooks)
	if err != nil {
		return err
	}
	raw["hooks"] = data
	return saveSettings(path, raw)
}

func uninstallClaudeHooks(path string) error {
	raw, err := loadSettings(path)
	if err != nil {
		return err
	}
	h, ok := raw["hooks"]
	if !ok {
		return nil
	}
	hooks := make(map[string][]hookEntry)
	if err := json.Unmarshal(h, &hooks); err != nil {
		return fmt.Errorf("parsing hooks section: %w", err)
	}

	for name, entries := range hooks {
		kept := stripBridgeCommands(entries)
		if len(kept) == 0 {
			delete(hooks, name)
		} else {
			hooks[name] = kept
		}
	}

	data, err := json.Marshal(hooks)
	if err != nil {
		return err
	}
	raw["hooks"] = data
	return saveSettings(path, raw)
}

// stripBridgeCommands removes bridge-managed commands from a hook entry
// list, dropping entries left empty.
func stripBridgeCommands(entries []hookEntry) []hookEntry {
	var out []hookEntry
	for _, entry := range entries {
		var cmds []hookCmd
		for _, cmd := range entry.Hooks {
			if !strings.Contains(cmd.Command, hookMarker) {
				cmds = append(cmds, cmd)
			}
		}
		if len(cmds) > 0 {
			out = append(out, hookEntry{Matcher: entry.Matcher, Hooks: cmds})
		}
	}
	return out
}

// installCodexNotify points the Codex notify program at the bridge hook
// script. Other config keys are preserved; comments are not.
func installCodexNotify(path, hookCommand string) error {
	cfg := make(map[string]any)
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg["notify"] = []string{hookCommand}
	return saveCodexConfig(path, cfg)
}

func uninstallCodexNotify(path string) error {
	cfg := make(map[string]any)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	notify, ok := cfg["notify"].([]any)
	if !ok {
		return nil
	}
	ours := false
	for _, v := range notify {
		if s, ok := v.(string); ok && strings.Contains(s, hookMarker) {
			ours = true
		}
	}
	if !ours {
		return nil
	}
	delete(cfg, "notify")
	return saveCodexConfig(path, cfg)
}

func saveCodexConfig(path string, cfg map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
