// Package jobengine implements the job state machine described by
// spec.md §4.4: the make loop, dependency analysis, run-status
// derivation, end-of-job handling, and forget/kill/invalidation. It
// drives internal/nodeengine for every dep and target it touches, and
// dispatches actual execution through a pluggable Backend
// (internal/jobengine/backend.go).
package jobengine

import (
	"fmt"
	"sync"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/nodeengine"
	"github.com/bamsammich/forge/internal/reqinfo"
	"github.com/bamsammich/forge/internal/rule"
	"github.com/bamsammich/forge/internal/store"
	"golang.org/x/time/rate"
)

// PathResolver maps a node/job's interned name back to a filesystem path
// (and vice versa is not needed: names are already the canonical relative
// path in this domain). Grounded on engine.Config carrying
// SrcRoot/DstRoot; here the root is folded into whatever the resolver
// returns.
type PathResolver interface {
	Path(name string) string
}

// identityResolver treats interned names as already-absolute or
// already-relative-to-cwd paths, suitable for tests and the default
// single-root configuration.
type identityResolver struct{}

func (identityResolver) Path(name string) string { return name }

// Engine is the job state machine. All graph mutation happens on the
// caller's goroutine; spec.md's "engine thread is the sole writer of the
// store" discipline is the caller's responsibility (see internal/request
// which funnels all make() calls through one goroutine per process).
type Engine struct {
	Store    *store.Store
	Nodes    *nodeengine.Engine
	Rules    map[ids.RuleId]*rule.Rule
	Backends map[string]Backend
	Resolver PathResolver

	// Limiter throttles submission to backends, modeling spec.md §4.4's
	// tokens1 admission ("Resource tokens"), grounded on
	// ratelimit.go's use of golang.org/x/time/rate.
	Limiter *rate.Limiter

	mu        sync.Mutex
	reqInfos  map[ids.JobId]*reqinfo.Map
	onStack   map[ids.ReqId]map[ids.JobId]bool // cycle detection per request
}

// New creates a job engine bound to a store, node engine, and compiled
// rule set. Backends starts empty.
func New(s *store.Store, nodes *nodeengine.Engine, rules map[ids.RuleId]*rule.Rule) *Engine {
	e := &Engine{
		Store:    s,
		Nodes:    nodes,
		Rules:    rules,
		Backends: map[string]Backend{},
		Resolver: identityResolver{},
		Limiter:  rate.NewLimiter(rate.Inf, 1),
		reqInfos: make(map[ids.JobId]*reqinfo.Map),
		onStack:  make(map[ids.ReqId]map[ids.JobId]bool),
	}
	nodes.SetJobDriver(e)
	return e
}

// ReqInfo returns the per-request scratch state for job.
func (e *Engine) ReqInfo(job ids.JobId, req ids.ReqId) *reqinfo.Info {
	m, ok := e.reqInfos[job]
	if !ok {
		m = reqinfo.NewMap()
		e.reqInfos[job] = m
	}
	return m.Get(req)
}

func (e *Engine) pushStack(req ids.ReqId, job ids.JobId) (ok bool) {
	m, exists := e.onStack[req]
	if !exists {
		m = map[ids.JobId]bool{}
		e.onStack[req] = m
	}
	if m[job] {
		return false // cycle
	}
	m[job] = true
	return true
}

func (e *Engine) popStack(req ids.ReqId, job ids.JobId) {
	if m, ok := e.onStack[req]; ok {
		delete(m, job)
	}
}

// PathFor resolves a node's filesystem path from its interned name.
func (e *Engine) PathFor(node ids.NodeId) (string, error) {
	rec, err := e.Store.GetNode(node)
	if err != nil {
		return "", err
	}
	name, err := e.Store.NamePath(rec.NameId)
	if err != nil {
		return "", err
	}
	return e.Resolver.Path(name), nil
}

// EndRequest discards every job's per-request scratch state for req,
// mirroring the node engine's per-request cleanup on request close.
func (e *Engine) EndRequest(req ids.ReqId) {
	for _, m := range e.reqInfos {
		m.Delete(req)
	}
	delete(e.onStack, req)
}

var errCycle = fmt.Errorf("jobengine: dependency cycle detected")
