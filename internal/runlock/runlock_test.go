package runlock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireFileExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "mailbox.lock")

	first, err := AcquireFile(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := AcquireFile(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire err = %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := AcquireFile(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	defer again.Release()
	if again.Path() != path {
		t.Errorf("Path = %q", again.Path())
	}
}

func TestAcquireUsesIdentityPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	lock, err := Acquire("me@gmail.com@imap.gmail.com/INBOX")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	if !strings.HasPrefix(lock.Path(), filepath.Join(home, ".tldr", "locks")) {
		t.Errorf("lock path %q not under ~/.tldr/locks", lock.Path())
	}

	other, err := Acquire("someone@gmail.com@imap.gmail.com/INBOX")
	if err != nil {
		t.Fatalf("different mailbox should not be locked: %v", err)
	}
	other.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release = %v", err)
	}
}
