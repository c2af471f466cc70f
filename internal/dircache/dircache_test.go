package dircache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/store"
	"github.com/stretchr/testify/require"
)

func writeTarget(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	src := writeTarget(t, "built output")
	dep := store.Dep{Node: 1, IsCRC: true, CRC: store.CRC{Kind: store.CRCReg, Digest: [32]byte{1}}}

	digest := Digest{
		Meta:        JobMeta{RuleName: "compile", ExecTimeNs: 500, Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{dep},
		TargetPaths: []string{src},
	}
	repoCRC, err := Upload(c, "prog.o", digest)
	require.NoError(t, err)
	require.NotEmpty(t, repoCRC)

	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "restored.bin")
	meta, err := Download(c, "prog.o", repoCRC, []string{dst}, ReasonMatch)
	require.NoError(t, err)
	require.Equal(t, "compile", meta.RuleName)
	require.Equal(t, int64(500), meta.ExecTimeNs)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "built output", string(got))
}

func TestUploadRejectsDateOnlyDeps(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	src := writeTarget(t, "x")
	digest := Digest{
		Meta:        JobMeta{RuleName: "r", Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{{Node: 1, IsCRC: false}},
		TargetPaths: []string{src},
	}
	_, err = Upload(c, "job", digest)
	require.Error(t, err)
}

func TestMatchFindsCandidateWithSatisfiedDeps(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	src := writeTarget(t, "y")
	depCRC := store.CRC{Kind: store.CRCReg, Digest: [32]byte{9}}
	digest := Digest{
		Meta:        JobMeta{RuleName: "r", Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{{Node: 5, IsCRC: true, CRC: depCRC}},
		TargetPaths: []string{src},
	}
	_, err = Upload(c, "job", digest)
	require.NoError(t, err)

	cands, err := Match(c, "job", func(d store.Dep) (store.CRC, bool) {
		if d.Node == 5 {
			return depCRC, true
		}
		return store.CRC{}, false
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Empty(t, cands[0].StillNeeded)
}

func TestMatchReportsStillNeededDeps(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	src := writeTarget(t, "z")
	digest := Digest{
		Meta:        JobMeta{RuleName: "r", Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{{Node: 5, IsCRC: true, CRC: store.CRC{Kind: store.CRCReg, Digest: [32]byte{9}}}},
		TargetPaths: []string{src},
	}
	_, err = Upload(c, "job", digest)
	require.NoError(t, err)

	cands, err := Match(c, "job", func(d store.Dep) (store.CRC, bool) {
		return store.CRC{}, false // nothing known: every dep looks stale
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Len(t, cands[0].StillNeeded, 1)
}

func TestUploadEvictsLRUTailWhenOverCapacity(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 8) // tiny capacity: each 8-byte target fills it entirely
	require.NoError(t, err)

	first := writeTarget(t, "aaaaaaaa")
	firstCRC, err := Upload(c, "first", Digest{
		Meta:        JobMeta{RuleName: "r", Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{{Node: 1, IsCRC: true, CRC: store.CRC{Digest: [32]byte{1}}}},
		TargetPaths: []string{first},
	})
	require.NoError(t, err)

	second := writeTarget(t, "bbbbbbbb")
	_, err = Upload(c, "second", Digest{
		Meta:        JobMeta{RuleName: "r", Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{{Node: 2, IsCRC: true, CRC: store.CRC{Digest: [32]byte{2}}}},
		TargetPaths: []string{second},
	})
	require.NoError(t, err)

	_, err = os.Stat(c.entryDir("first", firstCRC))
	require.True(t, os.IsNotExist(err), "first entry should have been evicted")

	head, err := readLRUHead(c.lruHeadPath())
	require.NoError(t, err)
	require.LessOrEqual(t, head.TotalSize, int64(8))
}

func TestChkDetectsConsistentState(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	src := writeTarget(t, "consistent")
	_, err = Upload(c, "job", Digest{
		Meta:        JobMeta{RuleName: "r", Targets: []store.TargetEntry{{Node: 1}}},
		Deps:        []store.Dep{{Node: 1, IsCRC: true, CRC: store.CRC{Digest: [32]byte{1}}}},
		TargetPaths: []string{src},
	})
	require.NoError(t, err)
	require.NoError(t, c.chk(0))
}

func TestUnionAndIntersectStillNeeded(t *testing.T) {
	a := Candidate{StillNeeded: []store.Dep{{Node: 1}, {Node: 2}}}
	b := Candidate{StillNeeded: []store.Dep{{Node: 2}, {Node: 3}}}

	union := UnionStillNeeded([]Candidate{a, b})
	require.Len(t, union, 3)

	inter := IntersectStillNeeded([]Candidate{a, b})
	require.Len(t, inter, 1)
	require.Equal(t, ids.NodeId(2), inter[0].Node)
}
