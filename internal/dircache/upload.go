package dircache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bamsammich/forge/internal/nodeengine"
	"github.com/bamsammich/forge/internal/platform"
	"github.com/bamsammich/forge/internal/store"
)

// Digest is what Upload persists for a completed job attempt: its dep
// vector (every dep must already carry a CRC, not just a date — spec.md
// §4.7 "every dep to be a CRC not date-only") and the live source paths
// of its produced targets.
type Digest struct {
	Meta        JobMeta
	Deps        []store.Dep
	TargetPaths []string // live filesystem paths, indexed like Meta.Targets
}

// Upload sanitizes digest, evicts LRU-tail entries until the new entry
// fits within Capacity, then copies digest's target files in as
// read-only cache content (spec.md §4.7 "upload(job, digest)").
//
// Lock order is fixed to avoid deadlock with concurrent Downloads and
// other Uploads: the global exclusive lock is always acquired before
// the entry's own exclusive lock, never the reverse.
func Upload(c *Cache, jobName string, digest Digest) (string, error) {
	for _, d := range digest.Deps {
		if !d.IsCRC {
			return "", fmt.Errorf("dircache: upload %s: dep node %d has no CRC (date-only deps can't be cached)", jobName, d.Node)
		}
	}
	if len(digest.TargetPaths) != len(digest.Meta.Targets) {
		return "", fmt.Errorf("dircache: upload %s: %d target paths for %d target entries", jobName, len(digest.TargetPaths), len(digest.Meta.Targets))
	}

	repoCRC := RepoCRC(digest.Deps)
	dir := c.entryDir(jobName, repoCRC)

	var newSize int64
	sigs := make([]store.Sig, len(digest.TargetPaths))
	for i, path := range digest.TargetPaths {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("dircache: upload %s: stat target %d: %w", jobName, i, err)
		}
		newSize += info.Size()
		sig, err := nodeengine.StatSig(path)
		if err != nil {
			return "", fmt.Errorf("dircache: upload %s: sig target %d: %w", jobName, i, err)
		}
		sigs[i] = sig
	}

	global, err := lockExclusive(c.lruHeadPath() + ".lock")
	if err != nil {
		return "", err
	}
	defer global.unlock()

	if err := c.makeRoom(newSize); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	entryLock, err := lockExclusive(dir + "/lock")
	if err != nil {
		return "", err
	}
	defer entryLock.unlock()

	if err := writeJobMeta(dir+"/data", digest.Meta); err != nil {
		return "", err
	}
	if err := os.WriteFile(dir+"/deps", store.EncodeDeps(digest.Deps), 0o644); err != nil {
		return "", err
	}

	for i, srcPath := range digest.TargetPaths {
		dstPath := filepath.Join(dir, fmt.Sprintf("%d", i))
		if err := copyReadOnly(srcPath, dstPath); err != nil {
			return "", fmt.Errorf("dircache: upload %s: copy target %d: %w", jobName, i, err)
		}
		gotSig, err := nodeengine.StatSig(srcPath)
		if err != nil {
			return "", err
		}
		if gotSig != sigs[i] {
			os.RemoveAll(dir)
			return "", fmt.Errorf("dircache: upload %s: target %d changed underneath the copy, aborting", jobName, i)
		}
	}

	if err := c.pushFront(entryKey(jobName, repoCRC), newSize); err != nil {
		return "", err
	}
	return repoCRC, nil
}

// makeRoom evicts entries from the LRU tail until Capacity - already
// occupied - want >= 0. Caller must hold the global exclusive lock.
func (c *Cache) makeRoom(want int64) error {
	if c.Capacity <= 0 {
		return nil // unbounded cache
	}
	for {
		head, err := readLRUHead(c.lruHeadPath())
		if err != nil {
			return err
		}
		if head.TotalSize+want <= c.Capacity {
			return nil
		}
		_, ok, err := c.evictTail()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("dircache: cannot free %d bytes, cache capacity %d is too small even when empty", want, c.Capacity)
		}
	}
}

func copyReadOnly(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o444)
	if err != nil {
		return err
	}
	defer dstFile.Close()
	_, err = platform.CopyFile(platform.CopyFileParams{DstFd: dstFile, SrcPath: src, SrcSize: info.Size()})
	return err
}

