package rule

import "sort"

// candidate is one entry indexed by the trie: the fixed suffix/prefix it
// was registered under, plus the RuleTgt it resolves to.
type candidate struct {
	prefix string
	suffix string
	tgt    RuleTgt
	prio   int
}

// TargetTrie indexes every rule-target pattern in a map keyed by its fixed
// suffix (spec.md §3 "Rule-target trie"). Lookup checks each stored suffix
// and then each candidate's fixed prefix against the node name, with no
// regex involved; it is a scan over the distinct suffixes, not a trie
// descent.
type TargetTrie struct {
	bySuffix map[string][]candidate
}

// NewTargetTrie creates an empty trie.
func NewTargetTrie() *TargetTrie {
	return &TargetTrie{bySuffix: make(map[string][]candidate)}
}

// Add registers a rule-target pattern.
func (t *TargetTrie) Add(prefix, suffix string, tgt RuleTgt, priority int) {
	t.bySuffix[suffix] = append(t.bySuffix[suffix], candidate{prefix: prefix, suffix: suffix, tgt: tgt, prio: priority})
}

// Lookup returns every candidate RuleTgt whose fixed suffix/prefix are
// compatible with name, ordered by descending priority (ties broken by
// longest-suffix-then-longest-prefix, per spec.md §4.5 step 1-2).
func (t *TargetTrie) Lookup(name string) []RuleTgt {
	type scored struct {
		c        candidate
		suffLen  int
		prefLen  int
	}
	var hits []scored
	for suffix, cands := range t.bySuffix {
		if !hasSuffix(name, suffix) {
			continue
		}
		for _, c := range cands {
			if !hasPrefixAfterSuffix(name, c.prefix, suffix) {
				continue
			}
			hits = append(hits, scored{c: c, suffLen: len(suffix), prefLen: len(c.prefix)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].c.prio != hits[j].c.prio {
			return hits[i].c.prio > hits[j].c.prio
		}
		if hits[i].suffLen != hits[j].suffLen {
			return hits[i].suffLen > hits[j].suffLen
		}
		return hits[i].prefLen > hits[j].prefLen
	})
	out := make([]RuleTgt, len(hits))
	for i, h := range hits {
		out[i] = h.c.tgt
	}
	return out
}

func hasSuffix(name, suffix string) bool {
	if len(suffix) > len(name) {
		return false
	}
	return name[len(name)-len(suffix):] == suffix
}

func hasPrefixAfterSuffix(name, prefix, suffix string) bool {
	if len(prefix)+len(suffix) > len(name) {
		return false
	}
	return name[:len(prefix)] == prefix
}
