package nodeengine

import (
	"os"

	"github.com/bamsammich/forge/internal/action"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/reqinfo"
	"github.com/bamsammich/forge/internal/store"
)

// Result mirrors the outcome the job engine's make loop needs when
// recursing into a dep (spec.md §4.4.1 step 2): whether the node is
// buildable, in error, or the caller must suspend.
type Result struct {
	Waiting   bool
	Buildable store.Buildable
	Err       bool
}

// Make drives node towards at least act under req, matching spec.md
// §4.5 "make(action) drives computation of conform_job_tgt". Path is the
// node's absolute filesystem path, resolved by the caller (this package
// has no notion of a project root).
func (e *Engine) Make(req ids.ReqId, node ids.NodeId, act action.Action, path string, watcher reqinfo.Watcher) (Result, error) {
	ri := e.ReqInfo(node, req)
	if act.Less(ri.Goal) {
		act = ri.Goal // monotonic: never lower the recorded goal (spec.md §8 Monotonicity)
	}
	ri.Goal = act

	if err := e.SetBuildable(node); err != nil {
		return Result{}, err
	}
	rec, err := e.Store.GetNode(node)
	if err != nil {
		return Result{}, err
	}

	switch {
	case rec.Buildable.IsSrcAnti():
		return e.makeSrc(rec, act, path)

	case rec.Buildable == store.BuildableNo, rec.Buildable == store.BuildableLoop:
		ri.Done = true
		return Result{Buildable: rec.Buildable, Err: rec.Buildable == store.BuildableLoop}, nil

	case rec.Buildable == store.BuildableMaybe, rec.Buildable == store.BuildableUnknown:
		ri.Done = true
		return Result{Buildable: rec.Buildable}, nil

	case rec.Buildable == store.BuildableYes:
		jobID, _, ok, err := e.ConformJob(node)
		if err != nil {
			return Result{}, err
		}
		if !ok || e.Jobs == nil {
			return Result{Buildable: store.BuildableMaybe}, nil
		}
		waiting, jobOK, err := e.Jobs.Make(req, jobID, act, watcher)
		if err != nil {
			return Result{}, err
		}
		if waiting {
			ri.AddWatcher(watcher, ri)
			return Result{Waiting: true}, nil
		}
		ri.Done = true
		return Result{Buildable: store.BuildableYes, Err: !jobOK}, nil

	default:
		ri.Done = true
		return Result{Buildable: rec.Buildable}, nil
	}
}

// makeSrc handles the trivial "built by stat-ing the file" path for
// source and anti nodes (spec.md §4.5).
func (e *Engine) makeSrc(rec store.NodeRecord, act action.Action, path string) (Result, error) {
	if act < action.Dsk {
		return Result{Buildable: rec.Buildable}, nil
	}
	sig, fi, err := statSig(path)
	if err != nil {
		if os.IsNotExist(err) {
			rec.CRC = store.CRC{Kind: store.CRCNone}
			return Result{Buildable: rec.Buildable}, e.Store.PutNode(rec)
		}
		return Result{}, err
	}
	if rec.Sig == sig && rec.CRC.Kind != store.CRCUnknown {
		return Result{Buildable: rec.Buildable}, nil // already current
	}
	crc, err := crcFromDisk(path)
	if err != nil {
		return Result{}, err
	}
	rec.CRC = crc
	rec.Sig = sig
	rec.DateNs = fi.ModTime().UnixNano()
	if err := e.Store.PutNode(rec); err != nil {
		return Result{}, err
	}
	return Result{Buildable: rec.Buildable}, nil
}

// Refresh updates a node's content identity after a job produced it
// (spec.md §4.5 "refresh(crc, date) updates content under a mutex").
// It reports whether the CRC actually changed.
func (e *Engine) Refresh(node ids.NodeId, actualJob ids.JobId, tflags uint16, crc store.CRC, sig store.Sig, dateNs int64) (modified bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.Store.GetNode(node)
	if err != nil {
		return false, err
	}
	modified = !rec.CRC.Match(crc)
	rec.CRC = crc
	rec.Sig = sig
	rec.DateNs = dateNs
	rec.ActualJob = actualJob
	rec.ActualTflags = tflags
	if err := e.Store.PutNode(rec); err != nil {
		return false, err
	}
	return modified, nil
}

// ManualState classifies a node's on-disk state relative to what the
// store believes (spec.md §4.5 "manual(sig) classifies on-disk state").
type ManualState uint8

const (
	ManualOk ManualState = iota
	ManualUnlnked
	ManualEmpty
	ManualModif
)

// Manual compares the live file at path against the recorded signature.
func (e *Engine) Manual(node ids.NodeId, path string) (ManualState, error) {
	rec, err := e.Store.GetNode(node)
	if err != nil {
		return ManualOk, err
	}
	sig, fi, err := statSig(path)
	if err != nil {
		if os.IsNotExist(err) {
			if rec.CRC.Kind == store.CRCNone {
				return ManualOk, nil
			}
			return ManualUnlnked, nil
		}
		return ManualOk, err
	}
	if fi.Size() == 0 && rec.CRC.Kind != store.CRCEmpty {
		return ManualEmpty, nil
	}
	if sig != rec.Sig {
		return ManualModif, nil
	}
	return ManualOk, nil
}
