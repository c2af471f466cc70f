package rule

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/bamsammich/forge/internal/ids"
)

// DepSpec is one entry of a rule's static dep map: a key naming the dep
// (e.g. as it would appear in a generated dep-file) to the pattern used
// to resolve it, plus flags.
type DepSpec struct {
	Key     string
	Pattern string
	Flags   Dflag
	Extra   ExtraDflag
}

// TargetSpec is one entry of a rule's static target list.
type TargetSpec struct {
	Key     string
	Pattern string
	Flags   Tflag
	Extra   ExtraTflag
}

// Rule is a compiled build recipe. Two generation counters distinguish
// what actually changed about the rule since a job last ran it: CmdGen
// bumps when the command script text changes; RsrcsGen bumps when the
// command OR the resource spec changes. A job compares its own recorded
// generation against the rule's current one to decide whether a rerun is
// forced purely by rule edits (spec.md §4.4.1 step 1).
type Rule struct {
	Id       ids.RuleId
	Name     string
	Priority int
	Cmd      string
	Shell    bool // interpreter flag: run Cmd through a shell

	StaticTargets []TargetSpec
	StaticDeps    []DepSpec

	Stems      []string
	Resources  map[string]string
	Env        map[string]string

	// Fixed-prefix/infix/suffix decomposition of the target-match regex,
	// used both for the rule-target trie and to bind stem captures.
	Prefix string
	Suffix string
	regex  *regexp.Regexp

	NStaticStems   int
	NStaticTargets int
	NStaticDeps    int

	CmdGen   uint32
	RsrcsGen uint32

	// ExecTimeNs is a running estimate of wall-clock execution time,
	// updated after each completed job run (spec.md §4.6 eta formula
	// "rule.exec_time*tokens/n_tokens"). Zero until the rule has run at
	// least once.
	ExecTimeNs int64
	// Tokens is the rule's job-slot cost, weighed against a request's
	// n_tokens budget when estimating parallel throughput.
	Tokens int64
}

// UpdateExecTime folds a completed run's duration into the rule's
// running estimate via exponential decay, so a rule's eta contribution
// tracks recent runs more than stale ones.
func (r *Rule) UpdateExecTime(durationNs int64) {
	if r.ExecTimeNs == 0 {
		r.ExecTimeNs = durationNs
		return
	}
	r.ExecTimeNs = (r.ExecTimeNs*3 + durationNs) / 4
}

// Compile builds the target-match regex from prefix/infix/suffix pattern
// components. infix may contain the stem wildcards already translated to
// regex syntax by the caller (rule definitions live outside this package's
// scope, per spec.md's "Python glue for rule definitions" being external).
func (r *Rule) Compile(infixRegex string) error {
	pat := fmt.Sprintf("^%s%s%s$", regexp.QuoteMeta(r.Prefix), infixRegex, regexp.QuoteMeta(r.Suffix))
	re, err := regexp.Compile(pat)
	if err != nil {
		return fmt.Errorf("compile rule %s target regex: %w", r.Name, err)
	}
	r.regex = re
	return nil
}

// Match attempts to match name against this rule's target pattern,
// returning captured stems in order.
func (r *Rule) Match(name string) (stems []string, ok bool) {
	if r.regex == nil {
		return nil, false
	}
	m := r.regex.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	return m[1:], true
}

// RuleTgt is one candidate (rule, target-index) pair produced during
// suffix/prefix trie lookup, kept at decreasing priority order.
type RuleTgt struct {
	Rule   ids.RuleId
	Target int // index into the rule's StaticTargets, or -1 for the star pattern
}

// MatchGen is the global generation counter bumped whenever rule
// configuration changes, lazily invalidating every node's cached
// job_tgts/rule_tgts/buildable classification (spec.md §3 Invariants).
var MatchGen atomic.Uint64

// BumpMatchGen invalidates all cached node matches.
func BumpMatchGen() uint64 { return MatchGen.Add(1) }
