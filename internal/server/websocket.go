package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sploithunter/coding-agent-bridge/internal/bridge"
	"github.com/sploithunter/coding-agent-bridge/internal/event"
)

// closeOriginRejected is the close code sent when an upgrade arrives from an
// unlisted origin.
const closeOriginRejected = websocket.StatusCode(4003)

// historySize bounds the in-memory ring of recent events served to
// get_history. Event history is not persisted.
const historySize = 256

// envelope is the wire format for every server→client message.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// clientMessage is the union of client→server messages.
type clientMessage struct {
	Type       string   `json:"type"`
	Limit      int      `json:"limit,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	Sessions   []string `json:"sessions,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// client is one WebSocket connection with optional subscription filters.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	sessions   map[string]struct{}
	eventTypes map[string]struct{}
}

// wants reports whether an event passes the client's filters. Filters only
// narrow agent events; session lifecycle messages always go through.
func (c *client) wants(ev *event.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions != nil {
		if _, ok := c.sessions[ev.SessionID]; !ok {
			return false
		}
	}
	if c.eventTypes != nil {
		if _, ok := c.eventTypes[ev.Type]; !ok {
			return false
		}
	}
	return true
}

// Hub tracks connected clients and fans out broadcasts.
type Hub struct {
	supervisor *bridge.Supervisor
	origins    []string
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  []*event.Event
}

// NewHub creates an empty hub.
func NewHub(supervisor *bridge.Supervisor, origins []string, logger *slog.Logger) *Hub {
	return &Hub{
		supervisor: supervisor,
		origins:    origins,
		logger:     logger,
		clients:    make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection, enforces the origin list, sends
// the init snapshot, and runs the read/write pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allowed := origin == "" || originAllowed(origin, h.origins)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checked below so we control the close code
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", "err", err)
		return
	}
	if !allowed {
		conn.Close(closeOriginRejected, "origin not allowed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("websocket connected", "clients", h.ClientCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.CloseNow()
		h.logger.Info("websocket disconnected", "clients", h.ClientCount())
	}()

	h.sendTo(c, envelope{Type: "init", Data: map[string]any{
		"sessions": h.supervisor.List(bridge.Filter{}),
	}})

	go h.writeLoop(ctx, cancel, c)
	h.readLoop(ctx, c)
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid ws message", "err", err)
			continue
		}

		switch msg.Type {
		case "ping":
			h.sendTo(c, envelope{Type: "pong"})

		case "get_history":
			h.sendTo(c, envelope{Type: "history", Data: h.history(msg.Limit, msg.SessionID)})

		case "subscribe":
			c.mu.Lock()
			c.sessions = toSet(msg.Sessions)
			c.eventTypes = toSet(msg.EventTypes)
			c.mu.Unlock()

		default:
			h.logger.Debug("unknown ws message type", "type", msg.Type)
		}
	}
}

func toSet(values []string) map[string]struct{} {
	if values == nil {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// sendTo queues a message for one client, dropping it if the client is slow.
func (h *Hub) sendTo(c *client, msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Debug("marshal ws message", "err", err)
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer; broadcasts are best effort.
	}
}

// BroadcastEvent fans an agent event out to every interested client and
// records it in the history ring.
func (h *Hub) BroadcastEvent(ev *event.Event) {
	h.mu.Lock()
	h.recent = append(h.recent, ev)
	if len(h.recent) > historySize {
		h.recent = h.recent[len(h.recent)-historySize:]
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if c.wants(ev) {
			h.sendTo(c, envelope{Type: "event", Data: ev})
		}
	}
}

// BroadcastRaw passes an undecoded payload through as a best-effort event.
func (h *Hub) BroadcastRaw(payload map[string]any) {
	h.broadcast(envelope{Type: "event", Data: payload})
}

// BroadcastSession sends a session lifecycle message to every client.
func (h *Hub) BroadcastSession(kind string, data any) {
	h.broadcast(envelope{Type: kind, Data: data})
}

func (h *Hub) broadcast(msg envelope) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.sendTo(c, msg)
	}
}

func (h *Hub) history(limit int, sessionID string) []*event.Event {
	if limit <= 0 || limit > historySize {
		limit = historySize
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*event.Event, 0, limit)
	for i := len(h.recent) - 1; i >= 0 && len(out) < limit; i-- {
		ev := h.recent[i]
		if sessionID != "" && ev.SessionID != sessionID {
			continue
		}
		out = append(out, ev)
	}
	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CloseAll disconnects every client, e.g. during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range targets {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
