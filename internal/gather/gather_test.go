package gather

import (
	"testing"

	"github.com/bamsammich/forge/internal/autodep"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	return &Session{byPath: make(map[uint64]*AccessInfo)}
}

func TestUpdateMergesEarliestRead(t *testing.T) {
	s := newTestSession()
	s.Update(autodep.AccessEvent{Path: "a.h", Kind: store.AccessReg, DateNs: 100})
	s.Update(autodep.AccessEvent{Path: "a.h", Kind: store.AccessReg, DateNs: 50})

	info := s.byPath[keyOf("a.h")]
	require.True(t, info.HasRead)
	require.Equal(t, int64(50), info.FirstReadNs)
}

func TestUpdatePrefersWriteInAmbiguity(t *testing.T) {
	s := newTestSession()
	s.Update(autodep.AccessEvent{Path: "out.o", Kind: store.AccessReg, DateNs: 10})
	s.Update(autodep.AccessEvent{Path: "out.o", Kind: store.AccessReg, DateNs: 20, Write: true})

	info := s.byPath[keyOf("out.o")]
	require.Equal(t, WriteYes, info.Write)
}

func TestCriticalBarrierMarksNextAccess(t *testing.T) {
	s := newTestSession()
	s.Update(autodep.AccessEvent{Path: "a.h", Kind: store.AccessReg})
	s.CriticalBarrier()
	s.Update(autodep.AccessEvent{Path: "b.h", Kind: store.AccessReg})

	require.False(t, s.byPath[keyOf("a.h")].Critical)
	require.True(t, s.byPath[keyOf("b.h")].Critical)
}

func TestReorderKeepsParallelGroupAdjacent(t *testing.T) {
	s := newTestSession()
	s.Update(autodep.AccessEvent{Path: "p1", Kind: store.AccessReg, DateNs: 30, Parallel: 5})
	s.Update(autodep.AccessEvent{Path: "solo", Kind: store.AccessReg, DateNs: 10})
	s.Update(autodep.AccessEvent{Path: "p2", Kind: store.AccessReg, DateNs: 20, Parallel: 5})

	out := s.Reorder()
	paths := make([]string, len(out))
	for i, info := range out {
		paths[i] = info.Path
	}
	// p1 and p2 share a parallel group and must stay adjacent regardless
	// of solo's earlier read date sorting it in between them.
	idxP1, idxP2 := indexOf(paths, "p1"), indexOf(paths, "p2")
	require.Equal(t, 1, abs(idxP1-idxP2))
}

func TestFinalizeResolvesNodes(t *testing.T) {
	s := newTestSession()
	s.Update(autodep.AccessEvent{Path: "a.h", Kind: store.AccessReg})
	infos := s.Reorder()

	deps, err := s.Finalize(infos, func(path string) (ids.NodeId, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, ids.NodeId(7), deps[0].Node)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
