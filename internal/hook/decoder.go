// Package hook normalizes raw hook payloads into canonical events and works
// out which agent and session they belong to.
package hook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

// ProcessedEvent carries a canonical event plus the routing metadata needed
// to attach it to a session.
type ProcessedEvent struct {
	Event          *event.Event
	AgentSessionID string
	Agent          string
	Terminal       *event.Terminal
	CWD            string
	TranscriptPath string
}

// Decoder is stateless except for the adapter registry.
type Decoder struct {
	registry *adapter.Registry
	logger   *slog.Logger
}

// NewDecoder creates a decoder over the given registry.
func NewDecoder(registry *adapter.Registry, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{registry: registry, logger: logger}
}

// DecodeLine parses a JSON line (from the events file or an HTTP body) and
// normalizes it. A nil result with nil error means the record was dropped.
func (d *Decoder) DecodeLine(line []byte) (*ProcessedEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(line, &payload); err != nil {
		return nil, fmt.Errorf("parsing hook payload: %w", err)
	}
	return d.Decode(payload), nil
}

// Decode runs the full normalization pipeline on one payload.
func (d *Decoder) Decode(payload map[string]any) *ProcessedEvent {
	ad := d.detectAgent(payload)
	if ad == nil {
		d.logger.Debug("hook payload matches no adapter, dropping")
		return nil
	}

	hookName := resolveHookName(payload)
	ev := ad.ParseHookEvent(hookName, payload)
	if ev == nil {
		d.logger.Debug("adapter ignored hook", "agent", ad.Name(), "hook", hookName)
		return nil
	}
	if ev.Type == "" || ev.Agent == "" {
		d.logger.Debug("adapter returned incomplete event", "agent", ad.Name(), "hook", hookName)
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	agentSessionID := ad.ExtractSessionID(payload)
	if agentSessionID == "" {
		agentSessionID = fallbackSessionID(ad.Name(), payload)
	}
	if agentSessionID == "" {
		d.logger.Debug("hook payload has no session identity, dropping", "agent", ad.Name(), "hook", hookName)
		return nil
	}
	ev.AgentSessionID = agentSessionID

	pe := &ProcessedEvent{
		Event:          ev,
		AgentSessionID: agentSessionID,
		Agent:          ad.Name(),
		TranscriptPath: stringField(payload, "transcript_path"),
	}

	if term := terminalInfo(payload); term != nil {
		pe.Terminal = term
		if ev.Type == event.KindSessionStart {
			ev.Terminal = term
		}
	}

	pe.CWD = stringField(payload, "cwd")
	if pe.CWD == "" {
		pe.CWD = stringField(payload, "working_directory")
	}
	ev.CWD = pe.CWD

	return pe
}

// detectAgent applies the detection ladder in order: explicit agent field,
// adapter signature keys, hook-name vocabulary membership, and finally the
// shape of the tool fields.
func (d *Decoder) detectAgent(payload map[string]any) adapter.Adapter {
	if name := stringField(payload, "agent"); name != "" {
		if ad, ok := d.registry.Get(name); ok {
			return ad
		}
	}
	for _, ad := range d.registry.All() {
		if ad.HasSignatureKeys(payload) {
			return ad
		}
	}
	if hookName := resolveHookName(payload); hookName != "" {
		for _, ad := range d.registry.All() {
			for _, known := range ad.HookNames() {
				if known == hookName {
					return ad
				}
			}
		}
	}
	for _, ad := range d.registry.All() {
		if ad.MatchesToolShape(payload) {
			return ad
		}
	}
	return nil
}

// resolveHookName consults the known hook-name fields in priority order.
func resolveHookName(payload map[string]any) string {
	for _, key := range []string{"hook_event_name", "hook_type", "type", "event_type"} {
		if v := stringField(payload, key); v != "" {
			return v
		}
	}
	return ""
}

// fallbackSessionID is consulted when the adapter extracted no identity. It
// tries the generic claude_session_id and session_id keys, then synthesizes
// an identity from terminal metadata (tmux pane for codex, then tty).
func fallbackSessionID(agent string, payload map[string]any) string {
	if id := stringField(payload, "claude_session_id"); id != "" {
		return id
	}
	if id := stringField(payload, "session_id"); id != "" {
		return id
	}
	if agent == "codex" {
		if pane := stringField(payload, "tmux_pane"); pane != "" {
			return agent + "-" + pane
		}
	}
	if tty := stringField(payload, "tty"); tty != "" {
		return agent + "-" + tty
	}
	return ""
}

func terminalInfo(payload map[string]any) *event.Terminal {
	term := &event.Terminal{
		PaneID: stringField(payload, "tmux_pane"),
		Socket: stringField(payload, "tmux_socket"),
		TTY:    stringField(payload, "tty"),
	}
	if term.PaneID == "" && term.Socket == "" && term.TTY == "" {
		return nil
	}
	return term
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}
