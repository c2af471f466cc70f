package jobengine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bamsammich/forge/internal/autodep"
	"github.com/bamsammich/forge/internal/gather"
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/nodeengine"
	"github.com/bamsammich/forge/internal/rule"
	"github.com/bamsammich/forge/internal/store"
)

// runOne submits job for actual execution and applies its outcome,
// implementing spec.md §4.4.2 "end of job": target CRC refresh, dep-digest
// merge, and JobStatus derivation from exit status.
func (e *Engine) runOne(req ids.ReqId, job ids.JobId, rec store.JobRecord, r *rule.Rule) (store.JobStatus, error) {
	ctx := context.Background()

	targets := make([]ids.NodeId, 0, len(r.StaticTargets)+len(rec.StarTargets))
	for _, entry := range rec.StarTargets {
		targets = append(targets, entry.Node)
	}
	for _, t := range r.StaticTargets {
		nameID, err := e.Store.InternName(t.Pattern)
		if err != nil {
			return store.JobSystemErr, err
		}
		node, err := e.Store.EmplaceNode(nameID)
		if err != nil {
			return store.JobSystemErr, err
		}
		targets = append(targets, node)
	}

	return e.submit(ctx, req, job, rec, r.Name, r.Cmd, r.Shell, r.Resources["backend"], targets)
}

// backendFor picks the backend a rule requests, defaulting to Local.
func (e *Engine) backendFor(name string) Backend {
	if b, ok := e.Backends[name]; ok {
		return b
	}
	return Local{}
}

// submit runs the rule's command through a backend under an
// internal/gather session, waits for it, and folds the outcome back into
// the store: target CRCs, the merged dep digest, and job status (spec.md
// §4.4.2 "end of job"). The gather server is the C3 half of spec.md §1's
// defining trick — discovering a job's real deps by watching what it
// touches rather than trusting only its declared static deps — so every
// job attempt runs one, whether or not its rule declares any dynamic
// deps; a job that never dials in simply reports zero accesses.
func (e *Engine) submit(ctx context.Context, req ids.ReqId, job ids.JobId, rec store.JobRecord, ruleName, cmd string, shell bool, backendName string, targets []ids.NodeId) (store.JobStatus, error) {
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			return store.JobSystemErr, err
		}
	}

	argv := []string{cmd}
	if shell {
		argv = []string{"/bin/sh", "-c", cmd}
	}
	tmp := NewTmp("/tmp/forge")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return store.JobSystemErr, fmt.Errorf("jobengine: submit: %w", err)
	}

	session, err := gather.NewSession(uint32(job), tmp)
	if err != nil {
		return store.JobSystemErr, err
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = session.Serve()
	}()
	stopSession := func() {
		session.Close()
		<-served
	}

	// SocketPath is a local Unix socket; a job dispatched to a non-local
	// backend (e.g. SSHBackend) can't dial it back, so remote attempts
	// only ever report the empty access set until gather grows a
	// network-reachable transport.
	env := autodep.Env{SocketPath: session.SocketPath(), JobID: uint32(job), ReadOnly: true}

	backend := e.backendFor(backendName)
	handle, err := backend.Submit(ctx, Cmd{Argv: argv, Dir: ".", Tmp: tmp, AutodepEnv: env.Encode()})
	if err != nil {
		stopSession()
		return store.JobSystemErr, err
	}
	info, err := handle.Wait(ctx)
	if err != nil {
		stopSession()
		return store.JobSystemErr, err
	}
	stopSession()

	status := store.JobOk
	if info.Signal != 0 || info.ExitCode != 0 {
		status = store.JobErr
	}

	rec.Status = status
	rec.ExecTimeNs = info.Duration.Nanoseconds()
	rec.ExecGen = uint32(rec.MatchGen)

	if status != store.JobOk {
		if err := e.Store.PutJob(rec); err != nil {
			return status, err
		}
		return status, nil
	}

	produced := make(map[string]bool, len(targets))
	for _, node := range targets {
		nodeRec, err := e.Store.GetNode(node)
		if err != nil {
			return status, err
		}
		path, err := e.PathFor(node)
		if err != nil {
			return status, err
		}
		produced[path] = true
		crc, err := nodeengine.CRCFromDisk(path)
		if err != nil {
			continue
		}
		sig, err := nodeengine.StatSig(path)
		if err != nil {
			continue
		}
		if _, err := e.Nodes.Refresh(node, job, nodeRec.ActualTflags, crc, sig, time.Now().UnixNano()); err != nil {
			return status, err
		}
	}

	infos := gather.DropSuperfluous(session.Reorder(), produced)
	dynDeps, err := session.Finalize(infos, func(path string) (ids.NodeId, error) {
		nameID, err := e.Store.InternName(path)
		if err != nil {
			return 0, err
		}
		return e.Store.EmplaceNode(nameID)
	})
	if err != nil {
		return status, err
	}

	merged := make([]store.Dep, 0, len(rec.Deps)+len(dynDeps))
	for _, d := range rec.Deps {
		if d.Static {
			merged = append(merged, d)
		}
	}
	rec.Deps = append(merged, dynDeps...)

	if err := e.Store.PutJob(rec); err != nil {
		return status, err
	}
	return status, nil
}
