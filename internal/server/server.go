// Package server exposes the supervisor over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/sploithunter/coding-agent-bridge/internal/bridge"
	"github.com/sploithunter/coding-agent-bridge/internal/event"
	"github.com/sploithunter/coding-agent-bridge/internal/hook"
	"github.com/sploithunter/coding-agent-bridge/internal/notify"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 10 << 20 // 10 MiB

// Server binds the REST surface and the WebSocket hub to one HTTP server.
type Server struct {
	supervisor *bridge.Supervisor
	decoder    *hook.Decoder
	notify     *notify.Manager
	hub        *Hub
	logger     *slog.Logger
	httpSrv    *http.Server
	origins    []string
}

// Config wires the server's collaborators.
type Config struct {
	Supervisor     *bridge.Supervisor
	Decoder        *hook.Decoder
	Notify         *notify.Manager
	Logger         *slog.Logger
	AllowedOrigins []string
}

// New builds the router and hub. Supervisor signals are wired to WebSocket
// broadcasts here.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		supervisor: cfg.Supervisor,
		decoder:    cfg.Decoder,
		notify:     cfg.Notify,
		logger:     logger,
		origins:    cfg.AllowedOrigins,
	}
	s.hub = NewHub(s.supervisor, s.origins, logger)

	sup := s.supervisor
	sup.OnSessionCreated = func(sess *bridge.Session) { s.hub.BroadcastSession("session:created", sess) }
	sup.OnSessionUpdated = func(sess *bridge.Session) { s.hub.BroadcastSession("session:updated", sess) }
	sup.OnSessionDeleted = func(sess *bridge.Session) { s.hub.BroadcastSession("session:deleted", sess) }
	sup.OnSessionStatus = func(sess *bridge.Session, old, new bridge.Status) {
		s.hub.BroadcastSession("session:status", map[string]any{
			"session": sess,
			"from":    old,
			"to":      new,
		})
		if s.notify != nil && old == bridge.StatusWorking && new == bridge.StatusIdle {
			s.notify.SessionIdle(sess.ID, sess.Name, sess.Agent)
		}
	}
	sup.OnMessage = func(ev *event.Event) { s.hub.BroadcastEvent(ev) }

	r := chi.NewRouter()
	r.Use(s.corsMiddleware())

	r.Get("/health", s.handleHealth)
	r.Get("/sessions", s.handleListSessions)
	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Patch("/sessions/{id}", s.handlePatchSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Post("/sessions/{id}/prompt", s.handlePrompt)
	r.Post("/sessions/{id}/cancel", s.handleCancel)
	r.Post("/sessions/{id}/restart", s.handleRestart)
	r.Get("/sessions/{id}/output", s.handleOutput)
	r.Post("/event", s.handleEvent)

	r.Get("/push/vapid", s.handleVAPIDKey)
	r.Post("/push/subscribe", s.handlePushSubscribe)
	r.Post("/push/unsubscribe", s.handlePushUnsubscribe)

	// WebSocket upgrades happen on the root path; plain GETs there fall
	// through to the hub, which rejects non-upgrade requests.
	r.Get("/", s.hub.HandleWebSocket)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	s.httpSrv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Serve runs the HTTP server on the listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String())
	return s.httpSrv.Serve(ln)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Shutdown closes WebSocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}

// corsMiddleware mirrors matching origins and answers OPTIONS with 204.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	corsH := cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return originAllowed(origin, s.origins)
		},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return func(next http.Handler) http.Handler {
		h := corsH(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				if r.Header.Get("Access-Control-Request-Method") == "" {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				h.ServeHTTP(&preflightWriter{ResponseWriter: w}, r)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// preflightWriter downgrades the cors library's preflight 200 to 204.
type preflightWriter struct {
	http.ResponseWriter
}

func (w *preflightWriter) WriteHeader(code int) {
	if code == http.StatusOK {
		code = http.StatusNoContent
	}
	w.ResponseWriter.WriteHeader(code)
}

// originAllowed matches an origin against the configured globs.
func originAllowed(origin string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"clients":  s.hub.ClientCount(),
		"sessions": s.supervisor.Counts(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions := s.supervisor.List(bridge.Filter{
		Kind:   bridge.Kind(q.Get("type")),
		Agent:  q.Get("agent"),
		Status: bridge.Status(q.Get("status")),
	})
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var opts bridge.CreateOptions
	if err := decodeBody(w, r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.supervisor.Create(opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.supervisor.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.supervisor.Update(chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Delete(chi.URLParam(r, "id")); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err := s.supervisor.SendPrompt(chi.URLParam(r, "id"), req.Prompt); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Cancel(chi.URLParam(r, "id")); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.supervisor.Restart(chi.URLParam(r, "id"))
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	out, err := s.supervisor.CapturePane(chi.URLParam(r, "id"), lines)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

// handleEvent is the HTTP leg of the hook pipeline: the same decoding,
// linking, and broadcast as lines arriving through the events file.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if s.decoder == nil {
		s.hub.BroadcastRaw(payload)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	if pe := s.decoder.Decode(payload); pe != nil {
		s.supervisor.HandleEvent(pe)
		s.hub.BroadcastEvent(pe.Event)
		if s.notify != nil && pe.Event.Type == event.KindNotification {
			s.notify.AgentNotification(pe.Event.SessionID, pe.Event.Message, pe.Event.Level)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleHookLine feeds one events-file line through the same pipeline as
// POST /event: decode, link, apply status, broadcast.
func (s *Server) HandleHookLine(line string) {
	if s.decoder == nil {
		return
	}
	pe, err := s.decoder.DecodeLine([]byte(line))
	if err != nil {
		s.logger.Debug("undecodable hook line", "err", err)
		return
	}
	if pe == nil {
		return
	}
	s.supervisor.HandleEvent(pe)
	s.hub.BroadcastEvent(pe.Event)
	if s.notify != nil && pe.Event.Type == event.KindNotification {
		s.notify.AgentNotification(pe.Event.SessionID, pe.Event.Message, pe.Event.Level)
	}
}

// --- push notification handlers ---

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.notify.VAPIDPublicKey()})
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	sub, err := notify.DecodeSubscription(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	s.notify.Subscribe(sub)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications not configured")
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.notify.Unsubscribe(req.Endpoint)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeSupervisorError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridge.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
