// Package lock wraps the process-wide pidfile lock used to serialize
// resolve+apply runs across concurrent invocations of this tool, per
// DESIGN NOTES §9 "Scoped acquisition". It is not wired into the teacher's
// original call sites (go-flock shipped in its go.mod/vendor but was never
// reachable from any of its commands in the retrieved snapshot) — here it
// guards every mutating CLI subcommand.
package lock

import (
	"github.com/james-antill/yum/yumerr"
	flock "github.com/theckman/go-flock"
)

// Guard holds an acquired lock for the duration of a scoped operation.
type Guard struct {
	fl *flock.Flock
}

// Acquire blocks-free-tries the lock at path and returns a Guard. The
// caller must defer Guard.Release(); release is safe to call even if the
// guarded operation panics, since the caller's defer runs during unwind.
func Acquire(path string) (*Guard, error) {
	fl := flock.NewFlock(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, &yumerr.LockError{Mode: "exclusive", Msg: err.Error()}
	}
	if !ok {
		return nil, &yumerr.LockError{Mode: "exclusive", Msg: "lock held by another process: " + path}
	}
	return &Guard{fl: fl}, nil
}

// Release unlocks the pidfile. Safe to call multiple times.
func (g *Guard) Release() error {
	if g == nil || g.fl == nil || !g.fl.Locked() {
		return nil
	}
	return g.fl.Unlock()
}

// WithLock acquires path, runs fn, and releases the lock on every exit
// path (normal return, error return, or panic), per DESIGN NOTES §9.
func WithLock(path string, fn func() error) (err error) {
	g, err := Acquire(path)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := g.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}
