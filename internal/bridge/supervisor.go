// Package bridge owns the session model: creating and destroying supervised
// sessions, linking hook-derived identities to bridge-owned sessions,
// applying status transitions, and persisting the result.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/event"
	"github.com/sploithunter/coding-agent-bridge/internal/hook"
	"github.com/sploithunter/coding-agent-bridge/internal/tmux"
	"github.com/sploithunter/coding-agent-bridge/internal/transcript"
)

// Operation errors, mapped to HTTP 400/404 by the API layer.
var (
	ErrNoAdapter  = errors.New("no such adapter")
	ErrNotFound   = errors.New("session not found")
	ErrNoTerminal = errors.New("session has no known terminal")
	ErrOffline    = errors.New("session is offline")
	ErrNotOffline = errors.New("session is not offline")
	ErrExternal   = errors.New("operation requires an internal session")
)

// TmuxDriver is the subset of the tmux driver the supervisor uses.
type TmuxDriver interface {
	CreateSession(name string, opts tmux.CreateOptions) error
	KillSession(name string) (bool, error)
	SessionExists(name string) bool
	ListSessions() ([]tmux.SessionInfo, error)
	PasteBuffer(opts tmux.PasteOptions) error
	SendInterrupt(target string) error
	CapturePane(target string, opts tmux.CaptureOptions) (string, error)
}

// Config tunes the supervisor's loops and linking behavior.
type Config struct {
	DataDir        string
	DefaultAgent   string
	LinkingWindow  time.Duration
	WorkingTimeout time.Duration
	OfflineCleanup time.Duration
	StaleCleanup   time.Duration
	TrackExternal  bool
}

// Supervisor is the single shared-mutable structure of the bridge. All map
// mutations happen under mu; signals fire after the lock is released.
type Supervisor struct {
	mu       sync.Mutex
	logger   *slog.Logger
	tmux     TmuxDriver
	registry *adapter.Registry
	cfg      Config
	store    *Store

	byID      map[string]*Session
	byAgentID map[string]string
	readers   map[string]*transcript.Reader
	counter   int
	dirty     bool

	cron *cron.Cron

	OnSessionCreated func(s *Session)
	OnSessionUpdated func(s *Session)
	OnSessionDeleted func(s *Session)
	OnSessionStatus  func(s *Session, old, new Status)
	// OnMessage receives transcript assistant messages with SessionID set.
	OnMessage func(ev *event.Event)
}

// New creates a supervisor. Call Load then Start before serving traffic.
func New(cfg Config, driver TmuxDriver, registry *adapter.Registry, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LinkingWindow <= 0 {
		cfg.LinkingWindow = 5 * time.Minute
	}
	if cfg.WorkingTimeout <= 0 {
		cfg.WorkingTimeout = 5 * time.Minute
	}
	if cfg.OfflineCleanup <= 0 {
		cfg.OfflineCleanup = 30 * time.Minute
	}
	if cfg.StaleCleanup <= 0 {
		cfg.StaleCleanup = 24 * time.Hour
	}
	return &Supervisor{
		logger:    logger,
		tmux:      driver,
		registry:  registry,
		cfg:       cfg,
		store:     NewStore(filepath.Join(cfg.DataDir, "data", "sessions.json"), logger),
		byID:      make(map[string]*Session),
		byAgentID: make(map[string]string),
		readers:   make(map[string]*transcript.Reader),
	}
}

// CreateOptions configures Create.
type CreateOptions struct {
	Name          string            `json:"name,omitempty"`
	CWD           string            `json:"cwd,omitempty"`
	Agent         string            `json:"agent,omitempty"`
	Flags         map[string]string `json:"flags,omitempty"`
	SpawnTerminal bool              `json:"spawnTerminal,omitempty"`
}

// Create spawns a new internal session inside a bridge-owned tmux session.
func (sup *Supervisor) Create(opts CreateOptions) (*Session, error) {
	agentName := opts.Agent
	if agentName == "" {
		agentName = sup.cfg.DefaultAgent
	}
	ad, ok := sup.registry.Get(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoAdapter, agentName)
	}

	id := uuid.New().String()
	tmuxName := "cab-" + id[:8]
	cwd := resolveCwd(opts.CWD)

	command, err := ad.BuildCommand(opts.Flags)
	if err != nil {
		return nil, err
	}
	if err := sup.tmux.CreateSession(tmuxName, tmux.CreateOptions{Dir: cwd, Command: command}); err != nil {
		return nil, err
	}

	if opts.SpawnTerminal {
		// Best effort only; a missing terminal emulator never fails creation.
		go spawnTerminal(tmuxName, sup.logger)
	}

	now := time.Now().UnixMilli()
	sup.mu.Lock()
	name := opts.Name
	if name == "" {
		name = filepath.Base(cwd)
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		sup.counter++
		name = fmt.Sprintf("session-%d", sup.counter)
	}
	s := &Session{
		ID:           id,
		Name:         name,
		Kind:         KindInternal,
		Agent:        agentName,
		Status:       StatusWorking,
		CWD:          cwd,
		CreatedAt:    now,
		LastActivity: now,
		TmuxSession:  tmuxName,
	}
	sup.byID[id] = s
	sup.dirty = true
	out := s.clone()
	sup.mu.Unlock()

	sup.logger.Info("session created", "id", id, "agent", agentName, "cwd", cwd, "tmux", tmuxName)
	sup.emitCreated(out)
	return out, nil
}

// Get returns a copy of the session with the given id.
func (sup *Supervisor) Get(id string) (*Session, bool) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	s, ok := sup.byID[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Filter narrows List results; empty fields match everything.
type Filter struct {
	Kind   Kind
	Agent  string
	Status Status
}

// List returns copies of all sessions matching the filter, newest first.
func (sup *Supervisor) List(f Filter) []*Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	out := make([]*Session, 0, len(sup.byID))
	for _, s := range sup.byID {
		if f.Kind != "" && s.Kind != f.Kind {
			continue
		}
		if f.Agent != "" && s.Agent != f.Agent {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// Update renames a session.
func (sup *Supervisor) Update(id, name string) (*Session, error) {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return nil, ErrNotFound
	}
	if name != "" {
		s.Name = name
		sup.dirty = true
	}
	out := s.clone()
	sup.mu.Unlock()

	sup.emitUpdated(out)
	return out, nil
}

// Delete removes a session, killing its tmux session when internal.
func (sup *Supervisor) Delete(id string) error {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return ErrNotFound
	}
	sup.removeLocked(s)
	out := s.clone()
	sup.mu.Unlock()

	if s.Kind == KindInternal && s.TmuxSession != "" {
		if _, err := sup.tmux.KillSession(s.TmuxSession); err != nil {
			sup.logger.Warn("failed to kill tmux session", "tmux", s.TmuxSession, "err", err)
		}
	}
	sup.emitDeleted(out)
	return nil
}

// removeLocked drops a session from all maps and stops its reader.
// Callers hold mu.
func (sup *Supervisor) removeLocked(s *Session) {
	delete(sup.byID, s.ID)
	if s.AgentSessionID != "" {
		delete(sup.byAgentID, s.AgentSessionID)
	}
	if r, ok := sup.readers[s.ID]; ok {
		delete(sup.readers, s.ID)
		go r.Stop()
	}
	sup.dirty = true
}

// SendPrompt pastes text into the session's terminal.
func (sup *Supervisor) SendPrompt(id, text string) error {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return ErrNotFound
	}
	snapshot := s.clone()
	sup.mu.Unlock()

	if snapshot.Kind == KindExternal {
		if snapshot.Terminal == nil || snapshot.Terminal.PaneID == "" || snapshot.Terminal.Socket == "" {
			return ErrNoTerminal
		}
		return sup.tmux.PasteBuffer(tmux.PasteOptions{
			Target:    snapshot.Terminal.PaneID,
			Text:      text,
			IsPaneID:  true,
			Socket:    snapshot.Terminal.Socket,
			SendEnter: true,
		})
	}

	if snapshot.TmuxSession == "" {
		return ErrNoTerminal
	}
	if snapshot.Status == StatusOffline {
		return ErrOffline
	}
	if err := sup.tmux.PasteBuffer(tmux.PasteOptions{
		Target:    snapshot.TmuxSession,
		Text:      text,
		SendEnter: true,
	}); err != nil {
		return err
	}
	sup.ApplyStatus(id, StatusWorking)
	return nil
}

// Cancel sends an interrupt to an internal session.
func (sup *Supervisor) Cancel(id string) error {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return ErrNotFound
	}
	kind, target := s.Kind, s.TmuxSession
	sup.mu.Unlock()

	if kind != KindInternal || target == "" {
		return ErrExternal
	}
	return sup.tmux.SendInterrupt(target)
}

// Restart recreates an offline internal session under a fresh tmux name and
// clears its agent identity so the next hook can re-link it.
func (sup *Supervisor) Restart(id string) (*Session, error) {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Kind != KindInternal {
		sup.mu.Unlock()
		return nil, ErrExternal
	}
	if s.Status != StatusOffline {
		sup.mu.Unlock()
		return nil, ErrNotOffline
	}
	oldTmux := s.TmuxSession
	agentName := s.Agent
	cwd := s.CWD
	sup.counter++
	newTmux := fmt.Sprintf("cab-%s-r%d", s.ID[:8], sup.counter)
	sup.mu.Unlock()

	ad, ok := sup.registry.Get(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoAdapter, agentName)
	}
	command, err := ad.BuildCommand(nil)
	if err != nil {
		return nil, err
	}

	if oldTmux != "" && sup.tmux.SessionExists(oldTmux) {
		if _, err := sup.tmux.KillSession(oldTmux); err != nil {
			sup.logger.Warn("failed to kill lingering tmux session", "tmux", oldTmux, "err", err)
		}
	}
	if err := sup.tmux.CreateSession(newTmux, tmux.CreateOptions{Dir: cwd, Command: command}); err != nil {
		return nil, err
	}

	sup.mu.Lock()
	s, ok = sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return nil, ErrNotFound
	}
	old := s.Status
	if s.AgentSessionID != "" {
		delete(sup.byAgentID, s.AgentSessionID)
		s.AgentSessionID = ""
	}
	s.TmuxSession = newTmux
	s.Status = StatusWorking
	s.CurrentTool = ""
	s.LastActivity = time.Now().UnixMilli()
	sup.dirty = true
	out := s.clone()
	sup.mu.Unlock()

	sup.logger.Info("session restarted", "id", id, "tmux", newTmux)
	sup.emitStatus(out, old, StatusWorking)
	sup.emitUpdated(out)
	return out, nil
}

// CapturePane returns recent pane output for an internal session.
func (sup *Supervisor) CapturePane(id string, lines int) (string, error) {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return "", ErrNotFound
	}
	kind, target := s.Kind, s.TmuxSession
	sup.mu.Unlock()

	if kind != KindInternal || target == "" {
		return "", ErrExternal
	}
	start := -lines
	if lines <= 0 {
		start = 0
	}
	return sup.tmux.CapturePane(target, tmux.CaptureOptions{StartLine: start})
}

// resolveCwd canonicalizes a working directory, falling back to the home
// directory and then /tmp.
func resolveCwd(cwd string) string {
	if cwd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			return canonicalize(home)
		}
		return "/tmp"
	}
	return canonicalize(cwd)
}

// canonicalize resolves symlinks so linking compares real paths. Paths that
// do not exist are returned cleaned.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// --- signal helpers; always called without mu held ---

func (sup *Supervisor) emitCreated(s *Session) {
	if sup.OnSessionCreated != nil {
		sup.OnSessionCreated(s)
	}
}

func (sup *Supervisor) emitUpdated(s *Session) {
	if sup.OnSessionUpdated != nil {
		sup.OnSessionUpdated(s)
	}
}

func (sup *Supervisor) emitDeleted(s *Session) {
	if sup.OnSessionDeleted != nil {
		sup.OnSessionDeleted(s)
	}
}

func (sup *Supervisor) emitStatus(s *Session, old, new Status) {
	if sup.OnSessionStatus != nil {
		sup.OnSessionStatus(s, old, new)
	}
}

// --- event pipeline ---

// HandleEvent links a processed hook event to a session, applies the status
// transition, and returns the session the event now belongs to. The event's
// SessionID is filled in for broadcast.
func (sup *Supervisor) HandleEvent(pe *hook.ProcessedEvent) *Session {
	s := sup.FindOrCreate(pe.AgentSessionID, pe.Agent, pe.CWD, pe.Terminal, pe.TranscriptPath)
	if s == nil {
		return nil
	}
	pe.Event.SessionID = s.ID

	switch pe.Event.Type {
	case event.KindSessionStart, event.KindUserPromptSubmit:
		sup.ApplyStatus(s.ID, StatusWorking)
	case event.KindPreToolUse:
		sup.ApplyStatus(s.ID, StatusWorking)
		sup.ApplyTool(s.ID, pe.Event.Tool)
	case event.KindPostToolUse:
		sup.ApplyStatus(s.ID, StatusWorking)
		sup.ApplyTool(s.ID, "")
	case event.KindStop, event.KindSubagentStop:
		sup.ApplyStatus(s.ID, StatusIdle)
	case event.KindSessionEnd:
		sup.ApplyStatus(s.ID, StatusOffline)
	default:
		sup.touch(s.ID)
	}

	updated, _ := sup.Get(s.ID)
	if updated == nil {
		return s
	}
	return updated
}

// FindOrCreate is the session-linking routine. It adopts an unlinked
// internal session created recently in the same canonical cwd by the same
// agent, or falls back to an external session.
func (sup *Supervisor) FindOrCreate(agentSessionID, agentName, cwd string, term *event.Terminal, transcriptPath string) *Session {
	canonCwd := ""
	if cwd != "" {
		canonCwd = canonicalize(cwd)
	}
	now := time.Now().UnixMilli()

	var created, updated *Session
	var startReader *transcript.Reader

	sup.mu.Lock()
	if id, ok := sup.byAgentID[agentSessionID]; ok {
		if s, live := sup.byID[id]; live {
			if term != nil {
				s.Terminal = term
				sup.dirty = true
			}
			if transcriptPath != "" && s.TranscriptPath == "" {
				s.TranscriptPath = transcriptPath
				sup.dirty = true
				startReader = sup.startReaderLocked(s)
			}
			out := s.clone()
			sup.mu.Unlock()
			if startReader != nil {
				sup.startReader(startReader)
			}
			return out
		}
		delete(sup.byAgentID, agentSessionID)
	}

	// Adopt a recent, unlinked internal session. Never link across agents:
	// a codex hook must not hijack an unlinked claude session in the same
	// directory.
	windowStart := now - sup.cfg.LinkingWindow.Milliseconds()
	var candidate *Session
	for _, s := range sup.byID {
		if s.Kind != KindInternal || s.AgentSessionID != "" {
			continue
		}
		if s.Agent != agentName {
			continue
		}
		if canonCwd == "" || canonicalize(s.CWD) != canonCwd {
			continue
		}
		if s.CreatedAt < windowStart {
			continue
		}
		if candidate == nil || s.CreatedAt > candidate.CreatedAt {
			candidate = s
		}
	}
	if candidate != nil {
		candidate.AgentSessionID = agentSessionID
		sup.byAgentID[agentSessionID] = candidate.ID
		if term != nil {
			candidate.Terminal = term
		}
		if transcriptPath != "" && candidate.TranscriptPath == "" {
			candidate.TranscriptPath = transcriptPath
			startReader = sup.startReaderLocked(candidate)
		}
		sup.dirty = true
		updated = candidate.clone()
		sup.mu.Unlock()

		sup.logger.Info("linked hook session", "id", updated.ID, "agentSessionId", agentSessionID)
		if startReader != nil {
			sup.startReader(startReader)
		}
		sup.emitUpdated(updated)
		return updated
	}

	// Unknown identity: track it as an external session.
	s := &Session{
		ID:             uuid.New().String(),
		Name:           filepath.Base(canonCwd),
		Kind:           KindExternal,
		Agent:          agentName,
		Status:         StatusWorking,
		CWD:            canonCwd,
		CreatedAt:      now,
		LastActivity:   now,
		AgentSessionID: agentSessionID,
		Terminal:       term,
		TranscriptPath: transcriptPath,
	}
	if s.Name == "" || s.Name == "." {
		s.Name = agentName
	}
	if sup.cfg.TrackExternal {
		sup.byID[s.ID] = s
		sup.byAgentID[agentSessionID] = s.ID
		sup.dirty = true
		created = s.clone()
	}
	if transcriptPath != "" {
		startReader = sup.startReaderLocked(s)
	}
	out := s.clone()
	sup.mu.Unlock()

	if startReader != nil {
		sup.startReader(startReader)
	}
	if created != nil {
		sup.logger.Info("external session discovered", "id", created.ID, "agent", agentName, "agentSessionId", agentSessionID)
		sup.emitCreated(created)
	}
	return out
}

// startReaderLocked registers a transcript reader for s. The caller must
// start it after releasing mu.
func (sup *Supervisor) startReaderLocked(s *Session) *transcript.Reader {
	if s.TranscriptPath == "" {
		return nil
	}
	if _, exists := sup.readers[s.ID]; exists {
		return nil
	}
	ad, ok := sup.registry.Get(s.Agent)
	if !ok {
		return nil
	}
	sessionID := s.ID
	r := transcript.NewReader(s.TranscriptPath, ad, sup.logger)
	r.OnMessage = func(ev *event.Event) {
		ev.SessionID = sessionID
		sup.touch(sessionID)
		if sup.OnMessage != nil {
			sup.OnMessage(ev)
		}
	}
	sup.readers[sessionID] = r
	return r
}

func (sup *Supervisor) startReader(r *transcript.Reader) {
	if err := r.Start(); err != nil {
		sup.logger.Warn("transcript reader failed to start", "path", r.Path(), "err", err)
	}
}

// ApplyStatus transitions a session. Equal statuses only bump activity.
func (sup *Supervisor) ApplyStatus(id string, status Status) {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return
	}
	s.LastActivity = time.Now().UnixMilli()
	if s.Status == status {
		sup.mu.Unlock()
		return
	}
	old := s.Status
	s.Status = status
	if status != StatusWorking {
		s.CurrentTool = ""
	}
	sup.dirty = true
	out := s.clone()
	sup.mu.Unlock()

	sup.emitStatus(out, old, status)
}

// ApplyTool records (or clears) the tool currently executing.
func (sup *Supervisor) ApplyTool(id, tool string) {
	sup.mu.Lock()
	s, ok := sup.byID[id]
	if !ok {
		sup.mu.Unlock()
		return
	}
	if s.Status != StatusWorking {
		// currentTool is only meaningful while working.
		tool = ""
	}
	s.CurrentTool = tool
	s.LastActivity = time.Now().UnixMilli()
	sup.dirty = true
	sup.mu.Unlock()
}

// touch bumps a session's activity clock.
func (sup *Supervisor) touch(id string) {
	sup.mu.Lock()
	if s, ok := sup.byID[id]; ok {
		s.LastActivity = time.Now().UnixMilli()
	}
	sup.mu.Unlock()
}

// --- lifecycle ---

// Load restores persisted state. Internal sessions come back offline with
// their terminals cleared; tmux state does not survive restarts.
func (sup *Supervisor) Load() error {
	rec, err := sup.store.Load()
	if err != nil {
		return err
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.byID = make(map[string]*Session)
	sup.byAgentID = make(map[string]string)
	sup.counter = rec.SessionCounter

	for _, s := range rec.Sessions {
		if s.Kind == KindInternal {
			s.Status = StatusOffline
			s.Terminal = nil
		}
		sup.byID[s.ID] = s
	}
	for _, pair := range rec.AgentToManagedMap {
		agentID, sessionID := pair[0], pair[1]
		if s, ok := sup.byID[sessionID]; ok && s.AgentSessionID == agentID {
			sup.byAgentID[agentID] = sessionID
		}
	}
	// Sessions persisted with an identity but missing from the map.
	for _, s := range sup.byID {
		if s.AgentSessionID != "" {
			sup.byAgentID[s.AgentSessionID] = s.ID
		}
	}
	if len(rec.Sessions) > 0 {
		sup.logger.Info("restored persisted sessions", "count", len(rec.Sessions))
	}
	return nil
}

// Start begins the health, timeout, cleanup, and persistence loops.
func (sup *Supervisor) Start() {
	c := cron.New()
	c.AddFunc("@every 10s", sup.checkTmuxHealth)
	c.AddFunc("@every 10s", sup.checkWorkingTimeouts)
	c.AddFunc("@every 60s", sup.cleanupStale)
	c.AddFunc("@every 5s", func() {
		if err := sup.Save(); err != nil {
			sup.logger.Error("failed to persist sessions", "err", err)
		}
	})
	c.Start()

	sup.mu.Lock()
	sup.cron = c
	sup.mu.Unlock()
}

// Stop halts the loops, stops all transcript readers, and saves.
func (sup *Supervisor) Stop() {
	sup.mu.Lock()
	c := sup.cron
	sup.cron = nil
	readers := make([]*transcript.Reader, 0, len(sup.readers))
	for id, r := range sup.readers {
		readers = append(readers, r)
		delete(sup.readers, id)
	}
	sup.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, r := range readers {
		r.Stop()
	}
	if err := sup.ForceSave(); err != nil {
		sup.logger.Error("failed to save on shutdown", "err", err)
	}
}

// Save writes to disk iff there are unsaved mutations.
func (sup *Supervisor) Save() error {
	sup.mu.Lock()
	if !sup.dirty {
		sup.mu.Unlock()
		return nil
	}
	rec := sup.snapshotLocked()
	sup.dirty = false
	sup.mu.Unlock()

	if err := sup.store.Save(rec); err != nil {
		sup.mu.Lock()
		sup.dirty = true
		sup.mu.Unlock()
		return err
	}
	return nil
}

// ForceSave writes to disk unconditionally.
func (sup *Supervisor) ForceSave() error {
	sup.mu.Lock()
	rec := sup.snapshotLocked()
	sup.dirty = false
	sup.mu.Unlock()
	return sup.store.Save(rec)
}

func (sup *Supervisor) snapshotLocked() *persistRecord {
	rec := &persistRecord{SessionCounter: sup.counter}
	for _, s := range sup.byID {
		rec.Sessions = append(rec.Sessions, s.clone())
	}
	for agentID, sessionID := range sup.byAgentID {
		rec.AgentToManagedMap = append(rec.AgentToManagedMap, [2]string{agentID, sessionID})
	}
	return rec
}

// --- health loops ---

// checkTmuxHealth marks internal sessions offline when their tmux session
// disappears, and back to idle when it reappears.
func (sup *Supervisor) checkTmuxHealth() {
	infos, err := sup.tmux.ListSessions()
	if err != nil {
		sup.logger.Debug("tmux health check failed", "err", err)
		return
	}
	live := make(map[string]bool, len(infos))
	for _, info := range infos {
		live[info.Name] = true
	}

	type transition struct {
		id     string
		status Status
	}
	var transitions []transition

	sup.mu.Lock()
	for _, s := range sup.byID {
		if s.Kind != KindInternal || s.TmuxSession == "" {
			continue
		}
		if !live[s.TmuxSession] && s.Status != StatusOffline {
			transitions = append(transitions, transition{s.ID, StatusOffline})
		} else if live[s.TmuxSession] && s.Status == StatusOffline {
			transitions = append(transitions, transition{s.ID, StatusIdle})
		}
	}
	sup.mu.Unlock()

	for _, tr := range transitions {
		sup.ApplyStatus(tr.id, tr.status)
	}
}

// checkWorkingTimeouts demotes sessions that have been silently working for
// longer than the configured timeout.
func (sup *Supervisor) checkWorkingTimeouts() {
	cutoff := time.Now().UnixMilli() - sup.cfg.WorkingTimeout.Milliseconds()

	var ids []string
	sup.mu.Lock()
	for _, s := range sup.byID {
		if s.Status == StatusWorking && s.LastActivity < cutoff {
			ids = append(ids, s.ID)
		}
	}
	sup.mu.Unlock()

	for _, id := range ids {
		sup.ApplyStatus(id, StatusIdle)
	}
}

// cleanupStale deletes internal sessions that stayed offline past the
// offline threshold and any session untouched past the stale threshold.
func (sup *Supervisor) cleanupStale() {
	now := time.Now().UnixMilli()
	offlineCutoff := now - sup.cfg.OfflineCleanup.Milliseconds()
	staleCutoff := now - sup.cfg.StaleCleanup.Milliseconds()

	var ids []string
	sup.mu.Lock()
	for _, s := range sup.byID {
		if s.Kind == KindInternal && s.Status == StatusOffline && s.LastActivity < offlineCutoff {
			ids = append(ids, s.ID)
			continue
		}
		if s.LastActivity < staleCutoff {
			ids = append(ids, s.ID)
		}
	}
	sup.mu.Unlock()

	for _, id := range ids {
		sup.logger.Info("cleaning up stale session", "id", id)
		if err := sup.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
			sup.logger.Warn("stale cleanup failed", "id", id, "err", err)
		}
	}
}

// RunHealthChecks triggers one pass of the tmux and timeout checks.
func (sup *Supervisor) RunHealthChecks() {
	sup.checkTmuxHealth()
	sup.checkWorkingTimeouts()
}

// Counts returns the session total for the health endpoint.
func (sup *Supervisor) Counts() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.byID)
}
