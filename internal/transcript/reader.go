// Package transcript follows an assistant's JSONL transcript and emits
// structured assistant messages.
package transcript

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/event"
	"github.com/sploithunter/coding-agent-bridge/internal/tailer"
)

// Reader tails one session's transcript from end-of-file. Messages are
// deduplicated by request identifier; repeats of a streamed response
// collapse to one emission.
type Reader struct {
	path    string
	adapter adapter.Adapter
	logger  *slog.Logger
	tail    *tailer.Tailer

	OnMessage func(ev *event.Event)

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewReader creates a reader for path using the session's adapter.
func NewReader(path string, ad adapter.Adapter, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{
		path:    path,
		adapter: ad,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
	r.tail = tailer.New(path, logger)
	r.tail.OnLine = r.handleLine
	return r
}

// Start begins tailing the transcript.
func (r *Reader) Start() error {
	return r.tail.Start()
}

// Stop waits for the tailer to finish.
func (r *Reader) Stop() {
	r.tail.Stop()
}

// Path returns the transcript path this reader follows.
func (r *Reader) Path() string { return r.path }

func (r *Reader) handleLine(line string) {
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		// Transcripts interleave non-JSON; skip quietly.
		return
	}
	if t, _ := entry["type"].(string); t != "assistant" {
		return
	}

	ev := r.adapter.ParseTranscriptEntry(entry)
	if ev == nil {
		return
	}

	if ev.RequestID != "" {
		r.mu.Lock()
		if _, dup := r.seen[ev.RequestID]; dup {
			r.mu.Unlock()
			return
		}
		r.seen[ev.RequestID] = struct{}{}
		r.mu.Unlock()
	}

	ev.IsPreamble = isPreamble(ev.Content)
	if r.OnMessage != nil {
		r.OnMessage(ev)
	}
}

// isPreamble reports whether a message contains no tool invocations and no
// visible text. Such messages are still emitted but flagged so consumers can
// hide them.
func isPreamble(blocks []event.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == "tool_use" {
			return false
		}
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return false
		}
	}
	return true
}
