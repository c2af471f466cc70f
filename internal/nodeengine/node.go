package nodeengine

import (
	"fmt"
	"sync"

	"github.com/bamsammich/forge/internal/action"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/reqinfo"
	"github.com/bamsammich/forge/internal/rule"
	"github.com/bamsammich/forge/internal/store"
)

// JobDriver is the node engine's view of the job engine: enough to drive
// a candidate producing job's make() call and read back its result,
// without nodeengine importing jobengine (spec.md §9 "coroutine-like make
// recursion" — resolved here as an injected capability rather than a
// direct dependency in either direction).
type JobDriver interface {
	// Make drives job under req towards at least act, returning whether
	// the caller must suspend (waiting=true, in which case job's ReqInfo
	// has already registered watcher).
	Make(req ids.ReqId, job ids.JobId, act action.Action, watcher reqinfo.Watcher) (waiting bool, ok bool, err error)
	// Buildable reports whether job is known to definitely produce a
	// buildable result without waiting, used while resolving candidates
	// during set_buildable (spec.md §4.5 step 2-3).
	Buildable(job ids.JobId) store.Buildable
}

// Engine drives node buildability classification and content refresh. It
// holds no request-specific state itself beyond the per-node ReqInfo maps
// (spec.md §5 "the engine thread is the sole writer of the store").
type Engine struct {
	Store *store.Store
	Trie  *rule.TargetTrie
	Rules map[ids.RuleId]*rule.Rule
	Jobs  JobDriver

	mu       sync.Mutex // serializes Refresh/SetBuildable per node (spec.md §4.5)
	reqInfos map[ids.NodeId]*reqinfo.Map

	// jobTgts is the in-memory-only candidate cache: valid iff
	// the node's stored MatchGen equals rule.MatchGen (spec.md §3
	// invariant). It is never persisted since a rule reconfiguration
	// invalidates it immediately.
	jobTgts  map[ids.NodeId][]rule.RuleTgt
}

// New creates a node engine bound to store s and rule set rules/trie. Jobs
// must be set (via SetJobDriver) before Make is called on any non-source
// node.
func New(s *store.Store, trie *rule.TargetTrie, rules map[ids.RuleId]*rule.Rule) *Engine {
	return &Engine{
		Store:    s,
		Trie:     trie,
		Rules:    rules,
		reqInfos: make(map[ids.NodeId]*reqinfo.Map),
		jobTgts:  make(map[ids.NodeId][]rule.RuleTgt),
	}
}

// SetJobDriver wires the job engine after both engines are constructed,
// breaking the natural initialization cycle between them.
func (e *Engine) SetJobDriver(j JobDriver) { e.Jobs = j }

// ReqInfo returns the per-request scratch state for node, creating an
// empty map on first use.
func (e *Engine) ReqInfo(node ids.NodeId, req ids.ReqId) *reqinfo.Info {
	m, ok := e.reqInfos[node]
	if !ok {
		m = reqinfo.NewMap()
		e.reqInfos[node] = m
	}
	return m.Get(req)
}

// SetBuildable lazily classifies node, matching its name against the
// rule-target trie in descending priority order and stopping at the
// first definite Yes, per spec.md §4.5 "Candidate job enumeration".
func (e *Engine) SetBuildable(node ids.NodeId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.Store.GetNode(node)
	if err != nil {
		return err
	}
	if rec.MatchGen == rule.MatchGen.Load() && rec.Buildable != store.BuildableUnknown {
		return nil // already classified under the current generation
	}

	if e.Store.IsSrc(node) {
		rec.Buildable = store.BuildableSrc
		rec.ConformIdx = store.ConformSrc
		return e.commitBuildable(rec)
	}
	if e.Store.IsSrcDir(node) {
		rec.Buildable = store.BuildableSrcDir
		rec.ConformIdx = store.ConformSrcDir
		return e.commitBuildable(rec)
	}

	name, err := e.Store.NamePath(rec.NameId)
	if err != nil {
		return err
	}

	candidates := e.Trie.Lookup(name)
	e.jobTgts[node] = candidates

	sawMaybe := false
	for i, cand := range candidates {
		r, ok := e.Rules[cand.Rule]
		if !ok {
			continue
		}
		stems, ok := r.Match(name)
		if !ok {
			continue
		}
		jobName := encodeJobName(name, cand.Rule, stems)
		jobNameID, err := e.Store.InternName(jobName)
		if err != nil {
			return err
		}
		jobID, err := e.Store.EmplaceJob(jobNameID, cand.Rule)
		if err != nil {
			return err
		}

		if e.Jobs == nil {
			sawMaybe = true
			continue
		}
		switch e.Jobs.Buildable(jobID) {
		case store.BuildableYes:
			rec.Buildable = store.BuildableYes
			rec.ConformIdx = int32(i)
			return e.commitBuildable(rec)
		case store.BuildableMaybe, store.BuildableUnknown:
			sawMaybe = true
		}
	}

	if sawMaybe {
		rec.Buildable = store.BuildableMaybe
		rec.ConformIdx = store.ConformNone
	} else {
		rec.Buildable = store.BuildableNo
		rec.ConformIdx = store.ConformNone
	}
	return e.commitBuildable(rec)
}

func (e *Engine) commitBuildable(rec store.NodeRecord) error {
	rec.MatchGen = rule.MatchGen.Load()
	return e.Store.PutNode(rec)
}

// encodeJobName appends the SuffixSep sentinel and a per-rule suffix
// encoding the rule id and bound stems, so job names sharing a node-name
// prefix share trie storage with the node itself (spec.md §3 "Name trie").
func encodeJobName(nodeName string, r ids.RuleId, stems []string) string {
	s := fmt.Sprintf("%s%c%d", nodeName, store.SuffixSep, r)
	for _, st := range stems {
		s += "\x00" + st
	}
	return s
}

// ConformJob returns the job id this node currently conforms to, or 0 if
// none (source, anti, or unresolved).
func (e *Engine) ConformJob(node ids.NodeId) (ids.JobId, ids.RuleId, bool, error) {
	rec, err := e.Store.GetNode(node)
	if err != nil {
		return 0, 0, false, err
	}
	if rec.ConformIdx < 0 {
		return 0, 0, false, nil
	}
	cands := e.jobTgts[node]
	if int(rec.ConformIdx) >= len(cands) {
		return 0, 0, false, nil
	}
	cand := cands[rec.ConformIdx]
	name, err := e.Store.NamePath(rec.NameId)
	if err != nil {
		return 0, 0, false, err
	}
	r := e.Rules[cand.Rule]
	stems, _ := r.Match(name)
	jobName := encodeJobName(name, cand.Rule, stems)
	jobNameID, ok, err := e.Store.LookupName(jobName)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	jobID, err := e.Store.EmplaceJob(jobNameID, cand.Rule)
	return jobID, cand.Rule, true, err
}
