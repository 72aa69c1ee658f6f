// Package runlock ensures at most one run per mailbox across processes.
package runlock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/paths"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another run is already processing this mailbox")

// Lock is a held run lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock for a mailbox identity without blocking.
func Acquire(identity string) (*Lock, error) {
	path, err := paths.LockPath(identity)
	if err != nil {
		return nil, err
	}
	return AcquireFile(path)
}

// AcquireFile takes an exclusive lock on path without blocking, creating
// the parent directory as needed.
func AcquireFile(path string) (*Lock, error) {
	if err := paths.EnsureParentDir(path); err != nil {
		return nil, err
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	L_debug("runlock: acquired", "path", path)
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release drops the lock. The file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}
	L_debug("runlock: released", "path", l.fl.Path())
	return nil
}
