// Package adapter holds per-assistant strategies: how to launch each CLI,
// how to recognize and normalize its hook payloads, and how to read its
// transcript.
package adapter

import (
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

var flagKeyRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?$`)

// ErrInvalidFlagKey is returned by BuildCommand for keys outside
// [A-Za-z0-9-] or with a leading/trailing dash.
type ErrInvalidFlagKey struct {
	Key string
}

func (e *ErrInvalidFlagKey) Error() string {
	return fmt.Sprintf("invalid flag key: %q", e.Key)
}

// Adapter is the per-assistant strategy consulted by the hook decoder, the
// transcript readers, and the supervisor.
type Adapter interface {
	// Name is the registered identifier ("claude", "codex").
	Name() string
	DisplayName() string

	// BuildCommand returns a shell-quoted command line to type into tmux.
	BuildCommand(flags map[string]string) (string, error)

	// ParseHookEvent maps a native hook payload to a canonical event, or
	// nil when the hook is not one this adapter reports on.
	ParseHookEvent(hookName string, payload map[string]any) *event.Event

	// ExtractSessionID pulls the assistant's own session identifier out of
	// a payload. Empty when the payload carries none.
	ExtractSessionID(payload map[string]any) string

	// ParseTranscriptEntry turns one transcript record into an
	// assistant_message event, or nil for agents without transcripts or
	// records that are not assistant turns.
	ParseTranscriptEntry(entry map[string]any) *event.Event

	// HookNames is the adapter's native hook vocabulary.
	HookNames() []string

	// HasSignatureKeys reports whether the payload carries this adapter's
	// identifying keys (e.g. Claude's claude_session_id).
	HasSignatureKeys(payload map[string]any) bool

	// MatchesToolShape reports whether the payload's tool fields follow
	// this adapter's shape. The decoder consults this only after
	// signature keys and hook vocabulary have failed to name an owner.
	MatchesToolShape(payload map[string]any) bool

	// SettingsPath names the on-disk settings file hooks are installed to.
	SettingsPath() (string, error)
	InstallHooks(hookCommand string) error
	UninstallHooks() error

	// IsAvailable reports whether the underlying binary is on PATH.
	IsAvailable() bool
}

// Registry holds the known adapters in registration order.
type Registry struct {
	byName map[string]Adapter
	order  []string
}

// NewRegistry creates a registry with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Adapter)}
	r.Register(NewClaude())
	r.Register(NewCodex())
	return r
}

// Register adds an adapter. Re-registering a name replaces it.
func (r *Registry) Register(a Adapter) {
	if _, ok := r.byName[a.Name()]; !ok {
		r.order = append(r.order, a.Name())
	}
	r.byName[a.Name()] = a
}

// Get returns the adapter with the given name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// All returns the adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// shellQuote wraps a string in single quotes, escaping any embedded single
// quotes. e.g. "it's" → "'it'\''s'"
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildCommand renders "<binary> --key='value' ..." with keys sorted for a
// stable command line. Values are always single-quoted so shell
// metacharacters ride along as literal text.
func buildCommand(binary string, flags map[string]string) (string, error) {
	parts := []string{binary}
	keys := make([]string, 0, len(flags))
	for k := range flags {
		if !flagKeyRe.MatchString(k) {
			return "", &ErrInvalidFlagKey{Key: k}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, "--"+k+"="+shellQuote(flags[k]))
	}
	return strings.Join(parts, " "), nil
}

func binaryOnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// payload field helpers; hook payloads arrive as loosely typed maps.

func str(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func boolean(payload map[string]any, key string) bool {
	v, _ := payload[key].(bool)
	return v
}

func has(payload map[string]any, key string) bool {
	_, ok := payload[key]
	return ok
}
