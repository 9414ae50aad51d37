package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/event"
	"github.com/sploithunter/coding-agent-bridge/internal/hook"
	"github.com/sploithunter/coding-agent-bridge/internal/tmux"
)

// fakeDriver simulates tmux without a server.
type fakeDriver struct {
	mu       sync.Mutex
	sessions map[string]bool
	pastes   []tmux.PasteOptions
	signals  []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{sessions: make(map[string]bool)}
}

func (d *fakeDriver) CreateSession(name string, opts tmux.CreateOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[name] = true
	return nil
}

func (d *fakeDriver) KillSession(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existed := d.sessions[name]
	delete(d.sessions, name)
	return existed, nil
}

func (d *fakeDriver) SessionExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[name]
}

func (d *fakeDriver) ListSessions() ([]tmux.SessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []tmux.SessionInfo
	for name := range d.sessions {
		out = append(out, tmux.SessionInfo{Name: name, Windows: 1})
	}
	return out, nil
}

func (d *fakeDriver) PasteBuffer(opts tmux.PasteOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pastes = append(d.pastes, opts)
	return nil
}

func (d *fakeDriver) SendInterrupt(target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals = append(d.signals, target)
	return nil
}

func (d *fakeDriver) CapturePane(target string, opts tmux.CaptureOptions) (string, error) {
	return "pane content", nil
}

func (d *fakeDriver) kill(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, name)
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *fakeDriver) {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	driver := newFakeDriver()
	sup := New(cfg, driver, adapter.NewRegistry(), nil)
	return sup, driver
}

func sessionStartEvent(agentSessionID, agentName, cwd string) *hook.ProcessedEvent {
	return &hook.ProcessedEvent{
		Event: &event.Event{
			ID:        "ev-" + agentSessionID,
			Timestamp: time.Now().UnixMilli(),
			Type:      event.KindSessionStart,
			Agent:     agentName,
			CWD:       cwd,
		},
		AgentSessionID: agentSessionID,
		Agent:          agentName,
		CWD:            cwd,
	}
}

func TestCreateInternalSession(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	s, err := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Kind != KindInternal || s.Status != StatusWorking {
		t.Fatalf("unexpected session: %+v", s)
	}
	if !strings.HasPrefix(s.TmuxSession, "cab-") {
		t.Errorf("tmux name: %q", s.TmuxSession)
	}
	if s.Name != filepath.Base(canonicalize(cwd)) {
		t.Errorf("name should default to cwd basename, got %q", s.Name)
	}
	if !driver.SessionExists(s.TmuxSession) {
		t.Error("tmux session was not created")
	}
}

func TestCreateUnknownAgent(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{})
	if _, err := sup.Create(CreateOptions{Agent: "gemini"}); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}

func TestLinkingByCwd(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	created, err := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	if err != nil {
		t.Fatal(err)
	}

	got := sup.HandleEvent(sessionStartEvent("A", "claude", cwd))
	if got == nil {
		t.Fatal("expected session")
	}
	if got.ID != created.ID {
		t.Fatalf("hook should adopt the internal session, got %q want %q", got.ID, created.ID)
	}
	if got.Kind != KindInternal || got.AgentSessionID != "A" || got.Status != StatusWorking {
		t.Fatalf("unexpected linked session: %+v", got)
	}
	if n := len(sup.List(Filter{})); n != 1 {
		t.Fatalf("expected exactly one session, got %d", n)
	}

	// Second event with the same identity resolves to the same session.
	again := sup.HandleEvent(sessionStartEvent("A", "claude", cwd))
	if again.ID != created.ID {
		t.Fatal("byAgentId lookup should win on the second event")
	}
}

func TestCrossAgentNonHijack(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	claude, err := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	if err != nil {
		t.Fatal(err)
	}

	got := sup.HandleEvent(sessionStartEvent("C", "codex", cwd))
	if got.ID == claude.ID {
		t.Fatal("codex hook must not hijack a claude session")
	}
	if got.Kind != KindExternal || got.AgentSessionID != "C" || got.Agent != "codex" {
		t.Fatalf("unexpected codex session: %+v", got)
	}

	sessions := sup.List(Filter{})
	if len(sessions) != 2 {
		t.Fatalf("expected two sessions, got %d", len(sessions))
	}
	unlinked, _ := sup.Get(claude.ID)
	if unlinked.AgentSessionID != "" {
		t.Error("claude session should remain unlinked")
	}
}

func TestLinkingWindowExpired(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true, LinkingWindow: time.Minute})
	cwd := t.TempDir()

	created, err := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	if err != nil {
		t.Fatal(err)
	}
	// Age the session past the window.
	sup.mu.Lock()
	sup.byID[created.ID].CreatedAt = time.Now().Add(-10 * time.Minute).UnixMilli()
	sup.mu.Unlock()

	got := sup.HandleEvent(sessionStartEvent("A", "claude", cwd))
	if got.ID == created.ID {
		t.Fatal("expired session must not be adopted")
	}
	if got.Kind != KindExternal {
		t.Fatalf("expected external fallback, got %+v", got)
	}
}

func TestExternalTrackingDisabled(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: false})

	var createdEmitted bool
	sup.OnSessionCreated = func(*Session) { createdEmitted = true }

	got := sup.FindOrCreate("X", "claude", t.TempDir(), nil, "")
	if got == nil {
		t.Fatal("expected ephemeral session object")
	}
	if len(sup.List(Filter{})) != 0 {
		t.Fatal("ephemeral session must not be inserted")
	}
	if createdEmitted {
		t.Fatal("session:created must not fire when tracking is disabled")
	}
}

func TestStatusTransitions(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	s := sup.HandleEvent(sessionStartEvent("A", "claude", cwd))

	pre := sessionStartEvent("A", "claude", cwd)
	pre.Event.Type = event.KindPreToolUse
	pre.Event.Tool = "Bash"
	got := sup.HandleEvent(pre)
	if got.Status != StatusWorking || got.CurrentTool != "Bash" {
		t.Fatalf("pre_tool_use: %+v", got)
	}

	post := sessionStartEvent("A", "claude", cwd)
	post.Event.Type = event.KindPostToolUse
	got = sup.HandleEvent(post)
	if got.Status != StatusWorking || got.CurrentTool != "" {
		t.Fatalf("post_tool_use should stay working and clear tool: %+v", got)
	}

	stop := sessionStartEvent("A", "claude", cwd)
	stop.Event.Type = event.KindStop
	got = sup.HandleEvent(stop)
	if got.Status != StatusIdle || got.CurrentTool != "" {
		t.Fatalf("stop: %+v", got)
	}

	end := sessionStartEvent("A", "claude", cwd)
	end.Event.Type = event.KindSessionEnd
	got = sup.HandleEvent(end)
	if got.Status != StatusOffline {
		t.Fatalf("session_end: %+v", got)
	}
	if got.ID != s.ID {
		t.Fatal("all events should land on the same session")
	}
}

func TestCurrentToolClearedOutsideWorking(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	pre := sessionStartEvent("A", "claude", cwd)
	pre.Event.Type = event.KindPreToolUse
	pre.Event.Tool = "Edit"
	s := sup.HandleEvent(pre)
	if s.CurrentTool != "Edit" {
		t.Fatalf("tool not set: %+v", s)
	}

	stop := sessionStartEvent("A", "claude", cwd)
	stop.Event.Type = event.KindStop
	s = sup.HandleEvent(stop)
	if s.Status != StatusWorking && s.CurrentTool != "" {
		// invariant: non-working sessions carry no current tool
		t.Fatalf("currentTool must be nil outside working: %+v", s)
	}
}

func TestWorkingTimeout(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true, WorkingTimeout: 200 * time.Millisecond})

	s := sup.HandleEvent(sessionStartEvent("A", "claude", t.TempDir()))
	if s.Status != StatusWorking {
		t.Fatalf("precondition: %+v", s)
	}

	time.Sleep(250 * time.Millisecond)
	sup.checkWorkingTimeouts()

	got, _ := sup.Get(s.ID)
	if got.Status != StatusIdle {
		t.Fatalf("expected idle after timeout, got %s", got.Status)
	}
}

func TestTmuxDeathAndRecovery(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})

	s, err := sup.Create(CreateOptions{Agent: "claude", CWD: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	driver.kill(s.TmuxSession)
	sup.checkTmuxHealth()
	got, _ := sup.Get(s.ID)
	if got.Status != StatusOffline {
		t.Fatalf("expected offline after tmux death, got %s", got.Status)
	}

	driver.CreateSession(s.TmuxSession, tmux.CreateOptions{})
	sup.checkTmuxHealth()
	got, _ = sup.Get(s.ID)
	if got.Status != StatusIdle {
		t.Fatalf("expected idle after tmux reappeared, got %s", got.Status)
	}
}

func TestRestart(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	s, err := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	if err != nil {
		t.Fatal(err)
	}
	sup.HandleEvent(sessionStartEvent("A", "claude", cwd))

	// Restart requires offline.
	if _, err := sup.Restart(s.ID); err == nil {
		t.Fatal("restart of a live session must fail")
	}

	driver.kill(s.TmuxSession)
	sup.checkTmuxHealth()
	oldTmux := s.TmuxSession

	restarted, err := sup.Restart(s.ID)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if restarted.TmuxSession == oldTmux {
		t.Error("restart must produce a fresh tmux name")
	}
	if restarted.AgentSessionID != "" {
		t.Error("restart must clear agentSessionId")
	}
	if restarted.Status != StatusWorking {
		t.Errorf("restart status: %s", restarted.Status)
	}

	// The old identity is free again: a new hook may re-link it.
	relinked := sup.HandleEvent(sessionStartEvent("A", "claude", cwd))
	if relinked.ID != s.ID {
		t.Error("cleared identity should re-link to the restarted session")
	}
}

func TestSendPrompt(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})

	s, err := sup.Create(CreateOptions{Agent: "claude", CWD: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := sup.SendPrompt(s.ID, "echo hello"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	driver.mu.Lock()
	if len(driver.pastes) != 1 || driver.pastes[0].Target != s.TmuxSession || !driver.pastes[0].SendEnter {
		t.Fatalf("unexpected paste: %+v", driver.pastes)
	}
	driver.mu.Unlock()

	// Offline sessions reject prompts.
	driver.kill(s.TmuxSession)
	sup.checkTmuxHealth()
	if err := sup.SendPrompt(s.ID, "more"); err != ErrOffline {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestSendPromptExternal(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})

	// External session without terminal info cannot receive prompts.
	bare := sup.FindOrCreate("X", "codex", t.TempDir(), nil, "")
	if err := sup.SendPrompt(bare.ID, "hi"); err != ErrNoTerminal {
		t.Fatalf("expected ErrNoTerminal, got %v", err)
	}

	term := &event.Terminal{PaneID: "%4", Socket: "/tmp/tmux-501/default"}
	s := sup.FindOrCreate("Y", "codex", t.TempDir(), term, "")
	if err := sup.SendPrompt(s.ID, "hello"); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	driver.mu.Lock()
	defer driver.mu.Unlock()
	paste := driver.pastes[len(driver.pastes)-1]
	if paste.Target != "%4" || !paste.IsPaneID || paste.Socket != "/tmp/tmux-501/default" {
		t.Fatalf("unexpected paste: %+v", paste)
	}
}

func TestCancelInternalOnly(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})

	s, _ := sup.Create(CreateOptions{Agent: "claude", CWD: t.TempDir()})
	if err := sup.Cancel(s.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	driver.mu.Lock()
	if len(driver.signals) != 1 || driver.signals[0] != s.TmuxSession {
		t.Fatalf("unexpected interrupts: %v", driver.signals)
	}
	driver.mu.Unlock()

	ext := sup.FindOrCreate("X", "codex", t.TempDir(), nil, "")
	if err := sup.Cancel(ext.ID); err != ErrExternal {
		t.Fatalf("expected ErrExternal, got %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true, DataDir: dataDir})
	cwd := t.TempDir()

	internal, err := sup.Create(CreateOptions{Agent: "claude", CWD: cwd, Name: "proj"})
	if err != nil {
		t.Fatal(err)
	}
	sup.HandleEvent(sessionStartEvent("A", "claude", cwd))
	external := sup.HandleEvent(sessionStartEvent("B", "codex", t.TempDir()))

	if err := sup.ForceSave(); err != nil {
		t.Fatalf("ForceSave: %v", err)
	}

	reloaded, _ := newTestSupervisor(t, Config{TrackExternal: true, DataDir: dataDir})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := reloaded.Get(internal.ID)
	if !ok {
		t.Fatal("internal session missing after reload")
	}
	if got.Status != StatusOffline {
		t.Errorf("internal sessions must reload offline, got %s", got.Status)
	}
	if got.Terminal != nil {
		t.Error("terminal info must be cleared on reload")
	}
	if got.AgentSessionID != "A" || got.Name != "proj" || got.TmuxSession != internal.TmuxSession {
		t.Errorf("fields lost on reload: %+v", got)
	}

	ext, ok := reloaded.Get(external.ID)
	if !ok {
		t.Fatal("external session missing after reload")
	}
	if ext.Status == StatusOffline {
		t.Error("external sessions keep their status across reload")
	}

	// byAgentId is rebuilt: the identity resolves without re-linking.
	again := reloaded.HandleEvent(sessionStartEvent("A", "claude", cwd))
	if again.ID != internal.ID {
		t.Error("agent identity mapping lost across reload")
	}
}

func TestSaveOnlyWhenDirty(t *testing.T) {
	dataDir := t.TempDir()
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true, DataDir: dataDir})

	if _, err := sup.Create(CreateOptions{Agent: "claude", CWD: t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	if err := sup.Save(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dataDir, "data", "sessions.json")
	before := mtime(t, path)
	time.Sleep(10 * time.Millisecond)
	if err := sup.Save(); err != nil {
		t.Fatal(err)
	}
	if !mtime(t, path).Equal(before) {
		t.Error("clean save must be a no-op")
	}
}

func mtime(t *testing.T, path string) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.ModTime()
}

func TestAgentIDUniqueness(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{TrackExternal: true})
	cwdA := t.TempDir()
	cwdB := t.TempDir()

	a := sup.HandleEvent(sessionStartEvent("A", "claude", cwdA))
	b := sup.HandleEvent(sessionStartEvent("A", "claude", cwdB))
	if a.ID != b.ID {
		t.Fatal("one agentSessionId must map to one session")
	}

	sup.mu.Lock()
	for agentID, sessionID := range sup.byAgentID {
		s, ok := sup.byID[sessionID]
		if !ok || s.AgentSessionID != agentID {
			t.Errorf("byAgentID invariant broken for %q", agentID)
		}
	}
	sup.mu.Unlock()
}

func TestDeleteRemovesMappings(t *testing.T) {
	sup, driver := newTestSupervisor(t, Config{TrackExternal: true})
	cwd := t.TempDir()

	s, _ := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	sup.HandleEvent(sessionStartEvent("A", "claude", cwd))

	if err := sup.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := sup.Get(s.ID); ok {
		t.Fatal("session still present after delete")
	}
	if driver.SessionExists(s.TmuxSession) {
		t.Error("tmux session should be killed on delete")
	}

	// Identity is free again; a new event makes a new session.
	fresh := sup.HandleEvent(sessionStartEvent("A", "claude", cwd))
	if fresh.ID == s.ID {
		t.Error("deleted session id must not be resurrected")
	}
}

func TestCleanupStale(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{
		TrackExternal:  true,
		OfflineCleanup: time.Minute,
		StaleCleanup:   time.Hour,
	})
	cwd := t.TempDir()

	s, _ := sup.Create(CreateOptions{Agent: "claude", CWD: cwd})
	ext := sup.HandleEvent(sessionStartEvent("B", "codex", t.TempDir()))

	sup.mu.Lock()
	sup.byID[s.ID].Status = StatusOffline
	sup.byID[s.ID].LastActivity = time.Now().Add(-5 * time.Minute).UnixMilli()
	sup.byID[ext.ID].LastActivity = time.Now().Add(-2 * time.Hour).UnixMilli()
	sup.mu.Unlock()

	sup.cleanupStale()

	if _, ok := sup.Get(s.ID); ok {
		t.Error("offline session past threshold should be deleted")
	}
	if _, ok := sup.Get(ext.ID); ok {
		t.Error("stale session should be deleted")
	}
}
