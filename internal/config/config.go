// Package config loads bridge settings from an optional bridge.toml and
// fills in defaults. Command-line flags override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full bridge configuration.
type Config struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	DataDir string `toml:"data_dir"`
	Debug   bool   `toml:"debug"`

	DefaultAgent  string `toml:"default_agent"`
	TrackExternal bool   `toml:"track_external"`

	AllowedOrigins []string `toml:"allowed_origins"`

	LinkingWindowMs  int `toml:"linking_window_ms"`
	WorkingTimeoutMs int `toml:"working_timeout_ms"`
	OfflineCleanupMs int `toml:"offline_cleanup_ms"`
	StaleCleanupMs   int `toml:"stale_cleanup_ms"`

	SlackWebhookURL string `toml:"slack_webhook_url"`

	Tailscale         bool   `toml:"tailscale"`
	TailscaleHostname string `toml:"tailscale_hostname"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Host:    "127.0.0.1",
		Port:    4820,
		DataDir: filepath.Join(home, ".coding-agent-bridge"),
		AllowedOrigins: []string{
			"http://localhost:*",
			"https://localhost:*",
			"http://127.0.0.1:*",
			"https://127.0.0.1:*",
		},
		DefaultAgent:      "claude",
		TrackExternal:     true,
		LinkingWindowMs:   5 * 60 * 1000,
		WorkingTimeoutMs:  5 * 60 * 1000,
		OfflineCleanupMs:  30 * 60 * 1000,
		StaleCleanupMs:    24 * 60 * 60 * 1000,
		TailscaleHostname: "cab",
	}
}

// Load reads bridge.toml from the data dir if present, layered over the
// defaults. A missing file is not an error.
func Load(dataDir string) (Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	path := filepath.Join(cfg.DataDir, "bridge.toml")
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if dataDir != "" {
		// The file never relocates the dir it was loaded from.
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// EventsFile is the append-only hook payload log.
func (c Config) EventsFile() string {
	return filepath.Join(c.DataDir, "data", "events.jsonl")
}

// SessionsFile is the persisted session snapshot.
func (c Config) SessionsFile() string {
	return filepath.Join(c.DataDir, "data", "sessions.json")
}

// HookScript is the installed hook entry point.
func (c Config) HookScript() string {
	return filepath.Join(c.DataDir, "hooks", "coding-agent-hook.sh")
}

// LockFile guards the data dir against concurrent bridge instances.
func (c Config) LockFile() string {
	return filepath.Join(c.DataDir, "cab.lock")
}
