// Package event defines the canonical, agent-agnostic event model shared by
// the hook pipeline, transcript readers, and the API layer.
package event

// Canonical event kinds. Adapters map their native hook vocabulary onto these.
const (
	KindPreToolUse       = "pre_tool_use"
	KindPostToolUse      = "post_tool_use"
	KindStop             = "stop"
	KindSubagentStop     = "subagent_stop"
	KindSessionStart     = "session_start"
	KindSessionEnd       = "session_end"
	KindUserPromptSubmit = "user_prompt_submit"
	KindNotification     = "notification"
	KindAssistantMessage = "assistant_message"
)

// Terminal describes where an agent process is reachable, as far as a hook
// payload revealed it.
type Terminal struct {
	PaneID string `json:"paneId,omitempty"`
	Socket string `json:"socket,omitempty"`
	TTY    string `json:"tty,omitempty"`
}

// ContentBlock is one block of an assistant message.
type ContentBlock struct {
	Type      string `json:"type"` // "text", "thinking" or "tool_use"
	Text      string `json:"text,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	ToolInput any    `json:"toolInput,omitempty"`
	ToolUseID string `json:"toolUseId,omitempty"`
}

// Event is an immutable value describing one thing an agent did. SessionID is
// the bridge UUID and is injected just before broadcast; everything else is
// filled by the adapter and the decoder.
type Event struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"timestamp"` // epoch ms
	Type           string `json:"type"`
	SessionID      string `json:"sessionId,omitempty"`
	AgentSessionID string `json:"agentSessionId,omitempty"`
	Agent          string `json:"agent"`
	CWD            string `json:"cwd,omitempty"`

	// pre_tool_use / post_tool_use
	Tool         string `json:"tool,omitempty"`
	ToolInput    any    `json:"toolInput,omitempty"`
	ToolResponse any    `json:"toolResponse,omitempty"`
	ToolUseID    string `json:"toolUseId,omitempty"`
	Success      *bool  `json:"success,omitempty"`
	Duration     int64  `json:"duration,omitempty"`

	// stop
	StopHookActive bool   `json:"stopHookActive,omitempty"`
	Response       string `json:"response,omitempty"`

	// session_start
	Source   string    `json:"source,omitempty"`
	Terminal *Terminal `json:"terminal,omitempty"`

	// user_prompt_submit
	Prompt string `json:"prompt,omitempty"`

	// notification
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// assistant_message
	Content    []ContentBlock `json:"content,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	IsPreamble bool           `json:"isPreamble,omitempty"`
}
