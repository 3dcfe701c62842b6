// Package lock implements the process-exclusive advisory lock on the
// install root described in spec.md 4.6/5. Unlike the teacher's
// AtomicLockManager (which locks a Kubernetes API object via optimistic
// concurrency — see DESIGN.md), this lock is a real advisory file lock,
// grounded on the rest-of-pack golang-dep's vendored theckman/go-flock and
// backed here by gofrs/flock, that library's maintained successor.
package lock

import (
	"github.com/gofrs/flock"

	"github.com/paktpm/pakt/internal/errs"
)

// Lock guards a single install root. At most one Lock may be held per root
// at any time (spec.md 5).
type Lock struct {
	fl *flock.Flock
}

// Path returns the well-known lock file path for an install root's pakt
// state directory, e.g. var/lib/pakt/lock.
func Path(stateDir string) string {
	return stateDir + "/lock"
}

// Acquire attempts to gain exclusive, non-blocking access to the lock file
// at path. It returns errs.ErrLockBusy if another process already holds it.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrLockBusy
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
