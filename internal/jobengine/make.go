package jobengine

import (
	"fmt"

	"github.com/bamsammich/forge/internal/action"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/reqinfo"
	"github.com/bamsammich/forge/internal/store"
)

// Make is jobengine.Engine's implementation of nodeengine.JobDriver. It is
// the make loop of spec.md §4.4.1: dependency analysis, run-status
// derivation, and (if warranted) submission and end-of-job handling, in
// one synchronous pass per call. Deep dep chains recurse through the
// caller's stack rather than a separate coroutine scheduler; onStack
// detects the cycles spec.md §9's watcher-suspension model would otherwise
// catch via NWait never reaching zero (spec.md §9 Open Questions).
func (e *Engine) Make(req ids.ReqId, job ids.JobId, act action.Action, watcher reqinfo.Watcher) (waiting bool, ok bool, err error) {
	ri := e.ReqInfo(job, req)
	if ri.Goal.Less(act) {
		ri.Goal = act
	}
	act = ri.Goal

	if ri.Done {
		return false, !ri.Err, nil
	}

	if !e.pushStack(req, job) {
		ri.Done = true
		ri.Err = true
		return false, false, nil // cycle: reported as an error, never as a hang
	}
	defer e.popStack(req, job)

	rec, err := e.Store.GetJob(job)
	if err != nil {
		return false, false, err
	}
	r, ok := e.Rules[rec.RuleId]
	if !ok {
		return false, false, fmt.Errorf("jobengine: job %d references unknown rule %d", job, rec.RuleId)
	}

	needRun := rec.ExecGen < r.CmdGen

	depErr := false
	staticMissing := false
	for _, dep := range rec.Deps {
		if act == action.Makable && !dep.Static {
			continue // Makable only needs the static skeleton resolved (spec.md §4.4.1 step 2)
		}
		depAct := action.Status
		if act == action.Dsk || act == action.Run {
			depAct = action.Dsk
		}
		depPath, perr := e.PathFor(dep.Node)
		if perr != nil {
			return false, false, perr
		}
		res, merr := e.Nodes.Make(req, dep.Node, depAct, depPath, reqinfo.Watcher{Job: job, Req: req})
		if merr != nil {
			return false, false, merr
		}
		if res.Waiting {
			ri.AddWatcher(watcher, ri)
			return true, false, nil
		}
		if res.Err {
			depErr = true
			continue
		}
		if dep.Static && !(res.Buildable == store.BuildableYes || res.Buildable.IsSrcAnti()) {
			staticMissing = true
			continue
		}
		if depAct == action.Dsk {
			upToDate, uerr := e.Nodes.UpToDate(dep.Node, dep, false)
			if uerr != nil {
				return false, false, uerr
			}
			if !upToDate {
				needRun = true
			}
		}
	}

	var runStatus store.RunStatus
	switch {
	case depErr:
		runStatus = store.RunDepErr
	case staticMissing:
		runStatus = store.RunNoDep
	default:
		runStatus = store.RunComplete
	}

	if !needRun && (act.Less(action.Run) || runStatus != store.RunComplete) {
		rec.RunStatus = runStatus
		if err := e.Store.PutJob(rec); err != nil {
			return false, false, err
		}
		ri.Done = true
		ri.Err = runStatus != store.RunComplete
		e.wake(ri)
		return false, !ri.Err, nil
	}

	if runStatus != store.RunComplete {
		rec.RunStatus = runStatus
		if err := e.Store.PutJob(rec); err != nil {
			return false, false, err
		}
		ri.Done = true
		ri.Err = true
		e.wake(ri)
		return false, false, nil
	}

	status, err := e.runOne(req, job, rec, r)
	if err != nil {
		return false, false, err
	}
	ri.Done = true
	ri.Err = status != store.JobOk && status != store.JobFrozen
	e.wake(ri)
	return false, !ri.Err, nil
}

// Buildable implements nodeengine.JobDriver for the "is this job's output
// even reachable without waiting" query used during set_buildable.
func (e *Engine) Buildable(job ids.JobId) store.Buildable {
	rec, err := e.Store.GetJob(job)
	if err != nil {
		return store.BuildableUnknown
	}
	switch rec.Status {
	case store.JobOk, store.JobFrozen:
		return store.BuildableYes
	case store.JobErr, store.JobErrFrozen, store.JobSystemErr:
		return store.BuildableNo
	default:
		return store.BuildableMaybe
	}
}

// wake resumes every watcher registered on ri, matching spec.md §5's
// "suspension point" resumption: since this engine drives make() by
// recursion rather than an event loop, waking here only clears the
// bookkeeping — the watcher's own stack frame already returned Waiting to
// its caller, which is responsible for re-issuing make() (internal/request
// owns that retry loop, spec.md §4.6).
func (e *Engine) wake(ri *reqinfo.Info) {
	ri.WakeAll()
}
