package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.Host == "" {
		t.Fatalf("incomplete defaults: %+v", cfg)
	}
	if cfg.LinkingWindowMs != 5*60*1000 {
		t.Errorf("linking window default: %d", cfg.LinkingWindowMs)
	}
	if len(cfg.AllowedOrigins) == 0 {
		t.Error("expected default origins")
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("missing bridge.toml must not error: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("data dir: %q", cfg.DataDir)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
port = 9999
default_agent = "codex"
track_external = false
slack_webhook_url = "https://hooks.slack.com/services/x"
`
	if err := os.WriteFile(filepath.Join(dir, "bridge.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9999 || cfg.DefaultAgent != "codex" || cfg.TrackExternal {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host default lost: %q", cfg.Host)
	}
	if cfg.SlackWebhookURL == "" {
		t.Error("slack webhook not read")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	if cfg.EventsFile() != "/data/data/events.jsonl" {
		t.Errorf("events file: %q", cfg.EventsFile())
	}
	if cfg.SessionsFile() != "/data/data/sessions.json" {
		t.Errorf("sessions file: %q", cfg.SessionsFile())
	}
	if cfg.HookScript() != "/data/hooks/coding-agent-hook.sh" {
		t.Errorf("hook script: %q", cfg.HookScript())
	}
}
