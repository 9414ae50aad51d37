package bridge

import (
	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

// Kind says who owns the underlying process.
type Kind string

const (
	// KindInternal sessions were spawned by the bridge inside a tmux
	// session it controls.
	KindInternal Kind = "internal"
	// KindExternal sessions were discovered from hook traffic.
	KindExternal Kind = "external"
)

// Status is the session's activity state.
type Status string

const (
	StatusWorking Status = "working"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Session is the unit of supervision. ID is the bridge identity;
// AgentSessionID is whatever the assistant reports about itself.
type Session struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Kind           Kind            `json:"type"`
	Agent          string          `json:"agent"`
	Status         Status          `json:"status"`
	CWD            string          `json:"cwd"`
	CreatedAt      int64           `json:"createdAt"`    // epoch ms
	LastActivity   int64           `json:"lastActivity"` // epoch ms
	TmuxSession    string          `json:"tmuxSession,omitempty"`
	AgentSessionID string          `json:"agentSessionId,omitempty"`
	CurrentTool    string          `json:"currentTool,omitempty"`
	Terminal       *event.Terminal `json:"terminal,omitempty"`
	TranscriptPath string          `json:"transcriptPath,omitempty"`
}

// clone returns a copy safe to hand to broadcast consumers.
func (s *Session) clone() *Session {
	cp := *s
	if s.Terminal != nil {
		term := *s.Terminal
		cp.Terminal = &term
	}
	return &cp
}

// persistRecord is the stable on-disk layout of sessions.json.
type persistRecord struct {
	Sessions          []*Session  `json:"sessions"`
	AgentToManagedMap [][2]string `json:"agentToManagedMap"`
	SessionCounter    int         `json:"sessionCounter"`
}
