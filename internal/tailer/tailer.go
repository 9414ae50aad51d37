// Package tailer tails append-only text files and emits complete
// newline-terminated records. It survives truncation, rotation, and files
// that do not exist yet.
package tailer

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultPollInterval = time.Second
	rewatchDelay        = time.Second
)

// Tailer watches one file. Set the callbacks before calling Start. OnReady
// runs on the caller's goroutine inside Start; the others are invoked from
// the tailer's own goroutine, one at a time.
type Tailer struct {
	path   string
	logger *slog.Logger

	// FromStart reads the whole existing file instead of starting at EOF.
	FromStart    bool
	PollInterval time.Duration

	OnReady func()
	OnLine  func(line string)
	OnError func(err error)
	OnClose func()

	mu       sync.Mutex
	file     *os.File
	position int64
	carry    []byte
	inFlight bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates a tailer for path. The file need not exist yet.
func New(path string, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		path:         path,
		logger:       logger,
		PollInterval: defaultPollInterval,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start begins tailing. It records the current file size (unless FromStart)
// and runs both a filesystem watch and a periodic poll; both funnel into a
// single read routine.
func (t *Tailer) Start() error {
	if info, err := os.Stat(t.path); err == nil {
		if !t.FromStart {
			t.position = info.Size()
		}
		f, err := os.Open(t.path)
		if err == nil {
			t.file = f
		}
	}

	go t.loop()
	if t.OnReady != nil {
		t.OnReady()
	}
	return nil
}

// Stop terminates the tailer and closes its handles. Safe to call twice.
func (t *Tailer) Stop() {
	t.once.Do(func() {
		close(t.done)
	})
	<-t.stopped
	t.mu.Lock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.mu.Unlock()
}

// Poke schedules a read on the next loop turn. Used by tests and by callers
// that know a write just happened.
func (t *Tailer) Poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tailer) loop() {
	defer close(t.stopped)
	defer func() {
		if t.OnClose != nil {
			t.OnClose()
		}
	}()

	watcher := t.subscribe()
	defer func() {
		if watcher != nil {
			watcher.Close()
		}
	}()

	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var werrs chan error
	if watcher != nil {
		events = watcher.Events
		werrs = watcher.Errors
	}

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.read()
		case <-t.wake:
			t.read()
		case ev, ok := <-events:
			if !ok {
				events, werrs = nil, nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.read()
			}
		case err, ok := <-werrs:
			if !ok {
				events, werrs = nil, nil
				continue
			}
			// Drop the broken subscription and re-subscribe shortly;
			// polling keeps us alive in between.
			t.logger.Debug("watch error, resubscribing", "path", t.path, "err", err)
			watcher.Close()
			watcher = nil
			events, werrs = nil, nil
			select {
			case <-t.done:
				return
			case <-time.After(rewatchDelay):
			}
			if watcher = t.subscribe(); watcher != nil {
				events = watcher.Events
				werrs = watcher.Errors
			}
		}
	}
}

// subscribe watches the file's directory so creation events are seen even
// before the file exists.
func (t *Tailer) subscribe() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Debug("fsnotify unavailable, polling only", "err", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Debug("watch add failed, polling only", "path", t.path, "err", err)
		watcher.Close()
		return nil
	}
	return watcher
}

// read is the single read routine. The inFlight flag guards against
// re-entry when wake-ups pile up.
func (t *Tailer) read() {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File gone: reset and keep polling for recreation.
			t.mu.Lock()
			if t.file != nil {
				t.file.Close()
				t.file = nil
			}
			t.position = 0
			t.carry = nil
			t.mu.Unlock()
			return
		}
		t.emitError(err)
		return
	}

	size := info.Size()
	if size < t.position {
		// Truncation or rotation: start over, drop any partial line.
		t.position = 0
		t.carry = nil
	}
	if size == t.position {
		return
	}

	if t.file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			t.emitError(err)
			return
		}
		t.file = f
	}

	buf := make([]byte, size-t.position)
	n, err := t.file.ReadAt(buf, t.position)
	if err != nil && err != io.EOF {
		t.emitError(err)
		// The handle may be stale after rotation; reopen on the next turn.
		t.file.Close()
		t.file = nil
		return
	}
	t.position += int64(n)

	data := append(t.carry, buf[:n]...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(data[:idx]))
		data = data[idx+1:]
		if line == "" {
			continue
		}
		if t.OnLine != nil {
			t.OnLine(line)
		}
	}
	t.carry = data
}

func (t *Tailer) emitError(err error) {
	t.logger.Debug("tail read error", "path", t.path, "err", err)
	if t.OnError != nil {
		t.OnError(err)
	}
}
