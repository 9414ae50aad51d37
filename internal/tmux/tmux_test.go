package tmux

import (
	"errors"
	"os/exec"
	"testing"
)

func TestValidateSessionName(t *testing.T) {
	valid := []string{"cab-12345678", "work_1", "A"}
	for _, name := range valid {
		if err := ValidateSessionName(name); err != nil {
			t.Errorf("expected %q to be valid: %v", name, err)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "dollar$", "new\nline", "dot.name"}
	for _, name := range invalid {
		err := ValidateSessionName(name)
		if err == nil {
			t.Errorf("expected %q to be rejected", name)
			continue
		}
		if !IsKind(err, KindInvalidName) {
			t.Errorf("expected InvalidName for %q, got %v", name, err)
		}
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("/tmp/some-dir/sub_dir"); err != nil {
		t.Errorf("expected plain path to be valid: %v", err)
	}

	invalid := []string{
		"",
		"/tmp/x;rm -rf /",
		"/tmp/$(whoami)",
		"/tmp/`id`",
		"/tmp/a|b",
		"/tmp/a&b",
		"/tmp/a'b",
		"/tmp/a\"b",
		"/tmp/a\nb",
		"/tmp/a*b",
	}
	for _, path := range invalid {
		err := ValidatePath(path)
		if err == nil {
			t.Errorf("expected %q to be rejected", path)
			continue
		}
		if !IsKind(err, KindInvalidPath) {
			t.Errorf("expected InvalidPath for %q, got %v", path, err)
		}
	}
}

func TestValidatePaneID(t *testing.T) {
	if err := ValidatePaneID("%0"); err != nil {
		t.Errorf("expected %%0 to be valid: %v", err)
	}
	if err := ValidatePaneID("%123"); err != nil {
		t.Errorf("expected %%123 to be valid: %v", err)
	}
	for _, id := range []string{"", "0", "%", "%x", "%1a", "pane"} {
		if err := ValidatePaneID(id); !IsKind(err, KindInvalidPaneID) {
			t.Errorf("expected InvalidPaneId for %q, got %v", id, err)
		}
	}
}

func TestValidationRejectsBeforeSpawn(t *testing.T) {
	// Methods must fail on bad input without ever invoking tmux, so they
	// work the same whether or not tmux is installed.
	d := New(nil)

	if err := d.CreateSession("bad name", CreateOptions{}); !IsKind(err, KindInvalidName) {
		t.Errorf("CreateSession: expected InvalidName, got %v", err)
	}
	if err := d.CreateSession("ok", CreateOptions{Dir: "/tmp/$(x)"}); !IsKind(err, KindInvalidPath) {
		t.Errorf("CreateSession: expected InvalidPath, got %v", err)
	}
	if _, err := d.KillSession("bad;name"); !IsKind(err, KindInvalidName) {
		t.Errorf("KillSession: expected InvalidName, got %v", err)
	}
	if err := d.SendKeys(SendKeysOptions{Target: "nope", IsPaneID: true, Keys: "x"}); !IsKind(err, KindInvalidPaneID) {
		t.Errorf("SendKeys: expected InvalidPaneId, got %v", err)
	}
	if err := d.PasteBuffer(PasteOptions{Target: "bad name", Text: "x"}); !IsKind(err, KindInvalidName) {
		t.Errorf("PasteBuffer: expected InvalidName, got %v", err)
	}
}

func TestWrapErrorClassification(t *testing.T) {
	d := New(nil)
	exitErr := errors.New("exit status 1")

	err := d.wrapError(exitErr, "duplicate session: cab-x", []string{"new-session"})
	if !IsKind(err, KindAlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}

	err = d.wrapError(exitErr, "can't find session: cab-x", []string{"kill-session"})
	if !IsKind(err, KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	err = d.wrapError(&exec.Error{Name: "tmux", Err: exec.ErrNotFound}, "", []string{"new-session"})
	if !IsKind(err, KindNotAvailable) {
		t.Errorf("expected NotAvailable, got %v", err)
	}

	err = d.wrapError(exitErr, "some other failure", []string{"send-keys"})
	if !IsKind(err, KindSubprocessFailed) {
		t.Errorf("expected SubprocessFailed, got %v", err)
	}
}
