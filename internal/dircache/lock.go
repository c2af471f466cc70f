package dircache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile holds a flock(2) advisory lock over a file for the lifetime of
// the handle. Downloads take a shared lock on the entry they're reading;
// uploads take the global exclusive lock, then the entry's exclusive
// lock, in that fixed order — the only rule needed to avoid deadlock
// between concurrent uploads and downloads (spec.md §4.7 "deadlock
// avoidance").
type lockFile struct {
	f *os.File
}

func lockPath(path string, exclusive bool) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dircache: open lock %s: %w", path, err)
	}
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("dircache: flock %s: %w", path, err)
	}
	return &lockFile{f: f}, nil
}

func lockShared(path string) (*lockFile, error) { return lockPath(path, false) }
func lockExclusive(path string) (*lockFile, error) { return lockPath(path, true) }

func (l *lockFile) unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
