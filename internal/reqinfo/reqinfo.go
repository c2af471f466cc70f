// Package reqinfo defines the per-(entity, request) scratch state shared
// by nodes and jobs (spec.md §3 "ReqInfo"). It carries no persistence:
// ReqInfos live only in memory for the lifetime of an open request, keyed
// by request id in maps owned by the node/job engines. An absent entry is
// equivalent to the zero value.
package reqinfo

import (
	"github.com/bamsammich/forge/internal/action"
	"github.com/bamsammich/forge/internal/ids"
)

// Watcher is a (job or node) waiting on this entity to finish before it
// can resume its own make() call (spec.md §5 "Suspension points").
type Watcher struct {
	Job    ids.JobId  // zero if the watcher is a node
	Node   ids.NodeId // zero if the watcher is a job
	Req    ids.ReqId
}

// Info is the per-request scratch state for one node or job.
type Info struct {
	Lvl        action.Level
	Goal       action.Action
	NWait      int
	Pressure   int // deadline priority, higher runs sooner
	Watchers   []Watcher
	Speculative bool
	Err        bool
	Done       bool
}

// Map is the per-entity table of ReqInfos keyed by request, exactly the
// "per-request maps; absent entry ≡ default" storage spec.md §3 calls for.
type Map struct {
	m map[ids.ReqId]*Info
}

// NewMap creates an empty ReqInfo table.
func NewMap() *Map { return &Map{m: make(map[ids.ReqId]*Info)} }

// Get returns the Info for req, creating a zero-value entry if absent.
func (m *Map) Get(req ids.ReqId) *Info {
	if ri, ok := m.m[req]; ok {
		return ri
	}
	ri := &Info{}
	m.m[req] = ri
	return ri
}

// Delete removes the entry for req, e.g. once a request closes.
func (m *Map) Delete(req ids.ReqId) { delete(m.m, req) }

// AddWatcher registers w as waiting on this entity within req, and
// increments the watcher's own NWait count (the caller passes the
// watcher's Info so both sides of the suspension stay consistent).
func (ri *Info) AddWatcher(w Watcher, watcherInfo *Info) {
	ri.Watchers = append(ri.Watchers, w)
	watcherInfo.NWait++
}

// WakeAll returns and clears the current watcher list. It does not change
// any watcher's NWait.
func (ri *Info) WakeAll() []Watcher {
	w := ri.Watchers
	ri.Watchers = nil
	return w
}
