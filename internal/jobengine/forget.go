package jobengine

import (
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/rule"
	"github.com/bamsammich/forge/internal/store"
)

// Forget resets job to its freshly-created state, discarding any dynamic
// deps and star targets accumulated by prior runs (spec.md §4.4.3
// "forget"). Static deps are recomputed from the rule so the job's dep
// list never goes empty just because it has never run.
func (e *Engine) Forget(job ids.JobId) error {
	rec, err := e.Store.GetJob(job)
	if err != nil {
		return err
	}
	r, ok := e.Rules[rec.RuleId]
	if !ok {
		return e.Store.Forget(job, nil)
	}
	staticDeps := make([]store.Dep, 0, len(r.StaticDeps))
	for _, d := range r.StaticDeps {
		nameID, err := e.Store.InternName(d.Pattern)
		if err != nil {
			return err
		}
		node, err := e.Store.EmplaceNode(nameID)
		if err != nil {
			return err
		}
		staticDeps = append(staticDeps, store.Dep{
			Node:   node,
			Flags:  uint16(d.Flags),
			Extra:  uint8(d.Extra),
			Static: true,
		})
	}
	return e.Store.Forget(job, staticDeps)
}

// Kill aborts job's in-flight attempt if one is tracked, and marks it
// killed so a subsequent make() call reruns it from scratch (spec.md
// §4.4.3 "kill"). Handles are owned by the caller since only the request
// driving the submission knows which one is live; Kill here is a no-op
// beyond the store update when no handle is supplied.
func (e *Engine) Kill(req ids.ReqId, job ids.JobId, h Handle, backendName string) error {
	if h != nil {
		if err := e.backendFor(backendName).Kill(h); err != nil {
			return err
		}
	}
	rec, err := e.Store.GetJob(job)
	if err != nil {
		return err
	}
	rec.Status = store.JobKilled
	if err := e.Store.PutJob(rec); err != nil {
		return err
	}
	e.ReqInfo(job, req).Done = false
	return nil
}

// InvalidateRule bumps the global match generation, lazily invalidating
// every node's cached buildability classification, and forgets each job
// in jobs so its next make() call re-derives static deps from the
// (possibly edited) rule (spec.md §3 Invariants, §4.4.3). Only the jobs
// passed in are forgotten; ruleID itself is not read.
func (e *Engine) InvalidateRule(ruleID ids.RuleId, jobs []ids.JobId) error {
	rule.BumpMatchGen()
	for _, j := range jobs {
		if err := e.Forget(j); err != nil {
			return err
		}
	}
	return nil
}
