package dircache

import (
	"os"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/store"
)

// Candidate is one cache entry that plausibly satisfies a job, along
// with what's still missing before it can be downloaded as-is.
type Candidate struct {
	RepoCRC     string
	StillNeeded []store.Dep // deps this candidate needs the caller to (re)build first
}

// CurrentCRC resolves a node's live content identity, as known to the
// caller's node table; Match never touches the store directly so
// dircache stays independent of any particular graph representation.
type CurrentCRC func(node store.Dep) (crc store.CRC, known bool)

// Match finds cache entries for jobName whose recorded deps are either
// already satisfied by the request's current node state or differ only
// in deps this candidate doesn't actually need (spec.md §4.7 "match(job,
// req)"). It takes a shared lock on the job's directory for the
// duration of the scan.
func Match(c *Cache, jobName string, current CurrentCRC) ([]Candidate, error) {
	dir := c.jobDir(jobName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lock, err := lockShared(dir + "/.match-lock")
	if err != nil {
		return nil, err
	}
	defer lock.unlock()

	var candidates []Candidate
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		repoCRC := ent.Name()
		depsBlob, err := os.ReadFile(c.entryDir(jobName, repoCRC) + "/deps")
		if err != nil {
			continue // partially-written or evicted mid-scan; skip
		}
		deps, err := store.DecodeDeps(depsBlob)
		if err != nil {
			continue
		}

		cand := Candidate{RepoCRC: repoCRC}
		missingCritical := false
		for _, dep := range deps {
			if missingCritical && dep.Parallel {
				// Once a critical dep in this group is known missing, later
				// deps in the same parallel group can't change the verdict
				// (spec.md §4.7 "skip past parallel deps once a critical dep
				// is missing").
				continue
			}
			crc, known := current(dep)
			if !known || !crc.Match(dep.CRC) {
				cand.StillNeeded = append(cand.StillNeeded, dep)
				if dep.Critical {
					missingCritical = true
				}
			}
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// Best returns the candidate needing the fewest still-to-build deps,
// preferring an exact match (StillNeeded empty) above all else.
func Best(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if len(c.StillNeeded) < len(best.StillNeeded) {
			best = c
		}
	}
	return best, true
}

// UnionStillNeeded collects every dep that at least one candidate needs
// rebuilt, deduplicated by node — the set worth building speculatively
// before re-running Match, since satisfying any of them might complete
// some candidate.
func UnionStillNeeded(cands []Candidate) []store.Dep {
	seen := make(map[ids.NodeId]bool)
	var out []store.Dep
	for _, c := range cands {
		for _, d := range c.StillNeeded {
			if seen[d.Node] {
				continue
			}
			seen[d.Node] = true
			out = append(out, d)
		}
	}
	return out
}

// IntersectStillNeeded collects deps every candidate needs rebuilt — the
// set that's unavoidable no matter which candidate eventually gets
// downloaded.
func IntersectStillNeeded(cands []Candidate) []store.Dep {
	if len(cands) == 0 {
		return nil
	}
	counts := make(map[ids.NodeId]int)
	byNode := make(map[ids.NodeId]store.Dep)
	for _, c := range cands {
		local := make(map[ids.NodeId]bool)
		for _, d := range c.StillNeeded {
			if local[d.Node] {
				continue
			}
			local[d.Node] = true
			counts[d.Node]++
			byNode[d.Node] = d
		}
	}
	var out []store.Dep
	for node, n := range counts {
		if n == len(cands) {
			out = append(out, byNode[node])
		}
	}
	return out
}
