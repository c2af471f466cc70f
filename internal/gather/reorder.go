package gather

import (
	"sort"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/store"
)

// keyed pairs an AccessInfo with the sort keys Reorder computes for it.
type keyed struct {
	info     *AccessInfo
	epoch    int
	earliest int64
	hasEarly bool
}

// Reorder sorts the session's accumulated accesses by earliest-first-read
// (falling back to earliest-write, then original arrival order) subject
// to two constraints (spec.md §4.3 "reorder()", §8 invariant 2):
//
//  1. deps inside the same parallel group stay adjacent, tie-broken by
//     original arrival order;
//  2. a dep marked critical starts a new critical group boundary — it
//     and everything after it never sorts before an earlier group.
//
// It returns AccessInfo records in final dep order; superfluous accesses
// (pure stats on a path this job also produced as a target) are dropped
// by the caller via DropSuperfluous before Finalize.
func (s *Session) Reorder() []*AccessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]*AccessInfo, 0, len(s.order))
	for _, p := range s.order {
		infos = append(infos, s.byPath[keyOf(p)])
	}

	// Assign each info a group key: (critical-epoch, parallel-id). The
	// critical epoch increments every time a Critical-marked info is
	// encountered in arrival order, so no dep can sort ahead of an
	// earlier critical boundary regardless of its own earliest-read date.
	epoch := 0
	ordered := make([]keyed, len(infos))
	for i, info := range infos {
		if info.Critical && i > 0 {
			epoch++
		}
		earliest, has := earliestDate(info)
		ordered[i] = keyed{info: info, epoch: epoch, earliest: earliest, hasEarly: has}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.epoch != b.epoch {
			return a.epoch < b.epoch
		}
		if a.info.ParallelID != b.info.ParallelID {
			// Different parallel groups within the same epoch: order by the
			// group's own earliest date, keeping ties at arrival order via
			// SliceStable.
			return groupEarliest(ordered, a.info.ParallelID) < groupEarliest(ordered, b.info.ParallelID)
		}
		return a.info.seq < b.info.seq // same group: preserve arrival order
	})

	out := make([]*AccessInfo, len(ordered))
	for i, k := range ordered {
		out[i] = k.info
	}
	return out
}

func earliestDate(info *AccessInfo) (int64, bool) {
	best := int64(0)
	has := false
	consider := func(v int64, ok bool) {
		if ok && (!has || v < best) {
			best, has = v, true
		}
	}
	consider(info.FirstReadNs, info.HasRead)
	consider(info.FirstWriteNs, info.HasWrite)
	consider(info.FirstExistNs, info.HasExist)
	return best, has
}

func groupEarliest(all []keyed, group uint32) int64 {
	best := int64(0)
	has := false
	for _, k := range all {
		if k.info.ParallelID != group {
			continue
		}
		if k.hasEarly && (!has || k.earliest < best) {
			best, has = k.earliest, true
		}
	}
	return best
}

// DropSuperfluous removes accesses that are pure stats on a path also
// present in produced, since a target the job itself wrote never counts
// as one of its own deps (spec.md §4.3 "drops superfluous accesses, e.g.
// pure stats on targets").
func DropSuperfluous(infos []*AccessInfo, produced map[string]bool) []*AccessInfo {
	out := infos[:0]
	for _, info := range infos {
		if produced[info.Path] && info.Accesses == store.AccessStat {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Finalize converts reordered AccessInfo records into store.Dep values,
// resolving each path to a NodeId via emplace so a dep never dangles on
// an un-interned name (spec.md §3 "Dep digest").
func (s *Session) Finalize(infos []*AccessInfo, emplace func(path string) (ids.NodeId, error)) ([]store.Dep, error) {
	deps := make([]store.Dep, 0, len(infos))
	for _, info := range infos {
		nodeID, err := emplace(info.Path)
		if err != nil {
			return nil, err
		}
		deps = append(deps, store.Dep{
			Node:     nodeID,
			Accesses: info.Accesses,
			Flags:    info.Flags,
			Extra:    info.Extra,
			Parallel: info.ParallelID != 0,
			Critical: info.Critical,
		})
	}
	return deps, nil
}
