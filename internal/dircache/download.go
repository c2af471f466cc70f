package dircache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bamsammich/forge/internal/platform"
	"github.com/bamsammich/forge/internal/store"
)

// JobMeta is the "data" file's decoded content: everything about a
// cached run except its dep vector and target bodies (spec.md §4.7
// "data (job meta with dep crcs)").
type JobMeta struct {
	RuleName   string
	ExecTimeNs int64
	Targets    []store.TargetEntry
}

// Reason records why download was called, purely for logging/telemetry —
// it has no effect on the copy itself.
type Reason string

const (
	ReasonMatch  Reason = "match"
	ReasonReplay Reason = "replay"
)

// Download copies a cached entry's target files into place at
// targetPaths (indexed the same way JobMeta.Targets is), then promotes
// the entry to the front of the LRU (spec.md §4.7 "download(job, id,
// reason)"). It takes a shared lock on the entry for the copy, then the
// global exclusive lock only for the brief LRU pointer update.
func Download(c *Cache, jobName, repoCRC string, targetPaths []string, _ Reason) (JobMeta, error) {
	dir := c.entryDir(jobName, repoCRC)

	shared, err := lockShared(dir + "/lock")
	if err != nil {
		return JobMeta{}, err
	}
	defer shared.unlock()

	meta, err := readJobMeta(dir + "/data")
	if err != nil {
		return JobMeta{}, err
	}
	if len(targetPaths) != len(meta.Targets) {
		return JobMeta{}, fmt.Errorf("dircache: download %s/%s: got %d target paths, entry has %d",
			jobName, repoCRC, len(targetPaths), len(meta.Targets))
	}

	var totalSize int64
	for i, dst := range targetPaths {
		srcPath := filepath.Join(dir, fmt.Sprintf("%d", i))
		info, err := os.Stat(srcPath)
		if err != nil {
			return JobMeta{}, fmt.Errorf("dircache: download %s/%s: target %d missing: %w", jobName, repoCRC, i, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return JobMeta{}, err
		}
		dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return JobMeta{}, err
		}
		res, err := platform.CopyFile(platform.CopyFileParams{
			DstFd: dstFile, SrcPath: srcPath, SrcSize: info.Size(),
		})
		dstFile.Close()
		if err != nil {
			return JobMeta{}, fmt.Errorf("dircache: download %s/%s: copy target %d: %w", jobName, repoCRC, i, err)
		}
		totalSize += res.BytesWritten
	}

	// Release the entry lock before taking the global one, so the
	// global-then-entry order Upload follows is never inverted.
	shared.unlock()
	global, err := lockExclusive(c.lruHeadPath() + ".lock")
	if err != nil {
		return JobMeta{}, err
	}
	defer global.unlock()
	if err := c.pushFront(entryKey(jobName, repoCRC), totalSize); err != nil {
		return JobMeta{}, err
	}

	return meta, nil
}

// readJobMeta reads the "data" file (a small text KV record: rule name
// and exec time) plus the sibling "targets" file (store.EncodeTargets'
// binary blob, kept out of the KV record since it can contain raw bytes
// a newline-delimited format can't safely embed).
func readJobMeta(dataPath string) (JobMeta, error) {
	kv, err := readKV(dataPath)
	if err != nil {
		return JobMeta{}, err
	}
	var execTimeNs int64
	fmt.Sscanf(kv["exec_time_ns"], "%d", &execTimeNs)

	targetsBlob, err := os.ReadFile(filepath.Join(filepath.Dir(dataPath), "targets"))
	if err != nil && !os.IsNotExist(err) {
		return JobMeta{}, err
	}
	var targets []store.TargetEntry
	if len(targetsBlob) > 0 {
		targets, err = store.DecodeTargets(targetsBlob)
		if err != nil {
			return JobMeta{}, err
		}
	}
	return JobMeta{RuleName: kv["rule"], ExecTimeNs: execTimeNs, Targets: targets}, nil
}

func writeJobMeta(dataPath string, meta JobMeta) error {
	if err := writeKV(dataPath, map[string]string{
		"rule":         meta.RuleName,
		"exec_time_ns": fmt.Sprintf("%d", meta.ExecTimeNs),
	}); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(filepath.Dir(dataPath), "targets"), store.EncodeTargets(meta.Targets), 0o644)
}
