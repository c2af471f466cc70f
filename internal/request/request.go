// Package request implements the Request/Scheduler component (spec.md
// §4.6, C6): a single open build request, its target set as a synthetic
// "Req" job, eta estimation, completion statistics, and audit_summary
// failure reporting.
//
// Grounded on cmd/beam/daemon.go's request-queue handling
// (accepting a request, running it to completion, reporting a summary)
// and internal/stats/collector.go for the counters pattern.
package request

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bamsammich/forge/internal/action"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/jobengine"
	"github.com/bamsammich/forge/internal/nodeengine"
	"github.com/bamsammich/forge/internal/reqinfo"
	"github.com/bamsammich/forge/internal/rule"
	"github.com/bamsammich/forge/internal/store"
)

// Stats accumulates the counters audit_summary reports on completion
// (spec.md §4.6 "counts of done/rerun/failed/hit").
type Stats struct {
	Done      int
	Rerun     int
	Failed    int
	CacheHit  int
	UsefulNs  int64
	RerunNs   int64
	Sources   int
	DirSources int
}

// Request owns one open build: the target set, its synthetic Req job,
// live eta, and the lists of special-cased nodes/jobs surfaced in the
// final report (spec.md §4.6).
type Request struct {
	ID      ids.ReqId
	Targets []ids.NodeId

	Store *store.Store
	Nodes *nodeengine.Engine
	Jobs  *jobengine.Engine
	Rules map[ids.RuleId]*rule.Rule

	startNs int64

	mu         sync.Mutex
	stats      Stats
	frozens    []ids.NodeId
	upToDates  []ids.NodeId
	noTriggers []ids.NodeId
	clashNodes []ids.NodeId
	pendingEta map[ids.JobId]int64 // per-job remaining-time estimate, summed for Eta()
}

// New opens a request against targets, all driven through the given
// engines. startNs is the request's start timestamp (caller-supplied
// since this package must not call time.Now() directly to stay
// deterministic under replay/testing).
func New(id ids.ReqId, targets []ids.NodeId, s *store.Store, nodes *nodeengine.Engine, jobs *jobengine.Engine, rules map[ids.RuleId]*rule.Rule, startNs int64) *Request {
	return &Request{
		ID:         id,
		Targets:    targets,
		Store:      s,
		Nodes:      nodes,
		Jobs:       jobs,
		Rules:      rules,
		startNs:    startNs,
		pendingEta: make(map[ids.JobId]int64),
	}
}

// Run drives every target to Dsk level, retrying nodes that reported
// Waiting until the request's watcher graph goes quiet — the top-level
// pump for the recursive make() calls implemented by nodeengine/jobengine
// (spec.md §9's coroutine model, realized here as a synchronous fixed-
// point loop over the target set; see DESIGN.md for why this is
// equivalent for a single-writer engine).
func (r *Request) Run(pathFor func(ids.NodeId) string) error {
	pending := append([]ids.NodeId(nil), r.Targets...)
	for len(pending) > 0 {
		next := pending[:0]
		progressed := false
		for _, node := range pending {
			res, err := r.Nodes.Make(r.ID, node, action.Dsk, pathFor(node), reqinfo.Watcher{Node: node, Req: r.ID})
			if err != nil {
				return fmt.Errorf("request: make %d: %w", node, err)
			}
			if res.Waiting {
				next = append(next, node)
				continue
			}
			progressed = true
			r.record(node, res)
		}
		if !progressed && len(next) > 0 {
			return fmt.Errorf("request: %d target(s) stuck waiting with no progress (dependency deadlock)", len(next))
		}
		pending = next
	}
	return nil
}

func (r *Request) record(node ids.NodeId, res nodeengine.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Store.IsFrozenNode(node) {
		r.frozens = append(r.frozens, node)
	}
	if r.Store.IsSrc(node) {
		r.stats.Sources++
	}
	if r.Store.IsSrcDir(node) {
		r.stats.DirSources++
	}
	if res.Err {
		r.stats.Failed++
		return
	}
	if res.Buildable == store.BuildableYes {
		r.stats.Done++
	}
	// CacheHit counts jobs whose artifacts were restored from the C7
	// directory cache specifically (spec.md §4.6), not every node that
	// merely wasn't rebuilt this pass — a plain source or an already-
	// classified node is neither. Nothing in the job path consults
	// dircache yet (see DESIGN.md), so this stays zero until it does.
}

// Eta reports the request's current completion estimate: now plus the
// sum of rule.exec_time*tokens/n_tokens over jobs still pending (spec.md
// §4.6). nowNs is supplied by the caller for the same determinism reason
// New takes startNs explicitly.
func (r *Request) Eta(nowNs int64, nTokens int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Each pendingEta entry is already weighted by tokens/n_tokens at the
	// point EstimateJob recorded it, so Eta just sums them.
	var sum int64
	for _, remaining := range r.pendingEta {
		sum += remaining
	}
	return nowNs + sum
}

// EstimateJob registers or updates a pending job's contribution to Eta,
// called by the job engine whenever a job is queued or its rule's
// exec_time estimate changes.
func (r *Request) EstimateJob(job ids.JobId, ruleID ids.RuleId, nTokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rl, ok := r.Rules[ruleID]
	if !ok {
		return
	}
	tokens := rl.Tokens
	if tokens <= 0 {
		tokens = 1
	}
	if nTokens <= 0 {
		nTokens = 1
	}
	r.pendingEta[job] = rl.ExecTimeNs * tokens / nTokens
}

// ClearJobEstimate removes a job from the pending eta sum once it
// finishes.
func (r *Request) ClearJobEstimate(job ids.JobId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pendingEta, job)
}

// Less totally orders requests by (start-date, eta) for scheduler
// fairness (spec.md §4.6 "Requests are totally ordered by
// (start-date, eta)").
func Less(a, b *Request, nowNs, nTokens int64) bool {
	if a.startNs != b.startNs {
		return a.startNs < b.startNs
	}
	return a.Eta(nowNs, nTokens) < b.Eta(nowNs, nTokens)
}

// SortByPriority orders reqs in place per Less.
func SortByPriority(reqs []*Request, nowNs, nTokens int64) {
	sort.SliceStable(reqs, func(i, j int) bool { return Less(reqs[i], reqs[j], nowNs, nTokens) })
}

// StatsSnapshot returns a snapshot of the request's completion counters.
func (r *Request) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
