// Package nodeengine implements the node state machine described by
// spec.md §4.5: buildability classification, content CRCs, up-to-date
// checks, and rule-target matching. It never runs a job itself — when a
// node needs a job's output, it delegates through the JobDriver interface
// so this package has no dependency on internal/jobengine (which instead
// depends on this package), avoiding an import cycle for the mutually
// recursive make() calls spec.md §9 describes.
package nodeengine

import (
	"os"
	"syscall"

	"github.com/bamsammich/forge/internal/store"
)

// statSig reads the on-disk signature (device, inode, mtime) for path —
// Node.date is defined by spec.md §3 as "production timestamp + on-disk
// signature (inode+mtime) at which crc was computed". The dev_t width
// differs per platform (see sig_linux.go / sig_darwin.go), grounded on
// the stat_linux.go/stat_darwin.go split.
func statSig(path string) (store.Sig, os.FileInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return store.Sig{}, nil, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return store.Sig{MtimeNs: fi.ModTime().UnixNano()}, fi, nil
	}
	return store.Sig{
		Dev:     devFromStat(st),
		Ino:     uint64(st.Ino),
		MtimeNs: fi.ModTime().UnixNano(),
	}, fi, nil
}
