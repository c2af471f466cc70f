// Package dircache implements the on-disk directory cache (spec.md §4.7,
// component C7): a content-addressed store of job results keyed by
// (job name, repo crc), with an LRU eviction policy bounded by a total
// byte capacity.
//
// Layout on disk:
//
//	<root>/LMAKE/lru              global LRU head/tail/total-size record
//	<root>/<job-name>/<repo-crc>/lru    this entry's prev/next/size
//	<root>/<job-name>/<repo-crc>/data   encoded job meta (rule name, exec time)
//	<root>/<job-name>/<repo-crc>/targets  encoded target entries (store.EncodeTargets)
//	<root>/<job-name>/<repo-crc>/deps   encoded dep vector (store.EncodeDeps)
//	<root>/<job-name>/<repo-crc>/0, 1…  one file per target, by index
//
// Bulk file copies during download/upload go through
// internal/platform's CopyFile, the same accelerated-copy dispatch the
// transfer engine uses for large file bodies (copy_file_range on
// Linux, clonefile on macOS, a pread/pwrite fallback elsewhere).
package dircache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/forge/internal/store"
)

// Cache is a directory cache rooted at Dir, bounded to Capacity bytes.
type Cache struct {
	Dir      string
	Capacity int64
}

// Open ensures the cache root and its LMAKE bookkeeping directory exist.
func Open(dir string, capacity int64) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "LMAKE"), 0o755); err != nil {
		return nil, fmt.Errorf("dircache: open %s: %w", dir, err)
	}
	c := &Cache{Dir: dir, Capacity: capacity}
	if _, err := os.Stat(c.lruHeadPath()); os.IsNotExist(err) {
		if err := writeLRUHead(c.lruHeadPath(), lruHead{}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RepoCRC hashes a job's static dep CRCs into the "repo-crc" component of
// an entry's path: two attempts of the same job whose deps carry
// identical content land in the same cache slot regardless of what dates
// or job ran them (spec.md §4.7 "repo-crc").
func RepoCRC(deps []store.Dep) string {
	h := blake3.New()
	for _, d := range deps {
		h.Write([]byte{byte(d.CRC.Kind)})
		h.Write(d.CRC.Digest[:])
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum[:16])
}

func (c *Cache) jobDir(jobName string) string {
	return filepath.Join(c.Dir, sanitizeComponent(jobName))
}

func (c *Cache) entryDir(jobName, repoCRC string) string {
	return filepath.Join(c.jobDir(jobName), repoCRC)
}

func (c *Cache) lruHeadPath() string {
	return filepath.Join(c.Dir, "LMAKE", "lru")
}

// sanitizeComponent replaces path separators job names might legitimately
// contain (a job name is derived from a target's file path) so the name
// never escapes its slot under Dir.
func sanitizeComponent(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '/', '\\', 0:
			out = append(out, '_')
		default:
			out = append(out, name[i])
		}
	}
	return string(out)
}
