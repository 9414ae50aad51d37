package server

import (
	"io"
	"log/slog"
	"testing"

	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubHistory(t *testing.T) {
	h := NewHub(nil, nil, discardLogger())

	for i := 0; i < 5; i++ {
		h.BroadcastEvent(&event.Event{ID: string(rune('a' + i)), SessionID: "s1", Type: event.KindStop})
	}
	h.BroadcastEvent(&event.Event{ID: "z", SessionID: "s2", Type: event.KindStop})

	all := h.history(0, "")
	if len(all) != 6 {
		t.Fatalf("expected 6 events, got %d", len(all))
	}
	if all[0].ID != "a" || all[len(all)-1].ID != "z" {
		t.Fatalf("history not oldest-first: %v ... %v", all[0].ID, all[len(all)-1].ID)
	}

	limited := h.history(2, "")
	if len(limited) != 2 || limited[1].ID != "z" {
		t.Fatalf("limit not applied from the newest end: %+v", limited)
	}

	filtered := h.history(0, "s2")
	if len(filtered) != 1 || filtered[0].SessionID != "s2" {
		t.Fatalf("session filter: %+v", filtered)
	}
}

func TestHubHistoryBounded(t *testing.T) {
	h := NewHub(nil, nil, discardLogger())
	for i := 0; i < historySize+50; i++ {
		h.BroadcastEvent(&event.Event{ID: "e", SessionID: "s", Type: event.KindStop})
	}
	if got := len(h.history(0, "")); got != historySize {
		t.Fatalf("ring must cap at %d, got %d", historySize, got)
	}
}

func TestClientFilters(t *testing.T) {
	c := &client{}
	ev := &event.Event{SessionID: "s1", Type: event.KindPreToolUse}

	if !c.wants(ev) {
		t.Fatal("no filters means everything passes")
	}

	c.sessions = toSet([]string{"s2"})
	if c.wants(ev) {
		t.Fatal("session filter should exclude s1")
	}

	c.sessions = toSet([]string{"s1"})
	c.eventTypes = toSet([]string{event.KindStop})
	if c.wants(ev) {
		t.Fatal("event-type filter should exclude pre_tool_use")
	}

	c.eventTypes = toSet([]string{event.KindPreToolUse})
	if !c.wants(ev) {
		t.Fatal("matching filters should pass")
	}
}
