package jobengine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// Cmd is everything a backend needs to launch one job attempt: the
// command line, working directory, environment, and the autodep socket
// path the traced child reports accesses to (internal/gather owns the
// server side of that channel).
type Cmd struct {
	Argv       []string
	Dir        string
	Env        []string
	AutodepEnv string // serialized autodep.Env, exported as an env var
	Tmp        string // per-attempt scratch dir, named with a uuid
}

// Handle identifies one in-flight backend submission.
type Handle interface {
	// Wait blocks until the job attempt finishes, returning its exit
	// status and wall time.
	Wait(ctx context.Context) (ExitInfo, error)
}

// ExitInfo reports how a job attempt ended, feeding endjob's JobStatus
// derivation (spec.md §4.4.2).
type ExitInfo struct {
	ExitCode int
	Signal   int
	Duration time.Duration
}

// Backend dispatches job command lines to a compute resource and can kill
// them mid-flight (spec.md §6 "External Interfaces — Backend").
type Backend interface {
	Submit(ctx context.Context, cmd Cmd) (Handle, error)
	Kill(h Handle) error
}

// NewTmp allocates a fresh per-attempt scratch directory name, grounded on
// tmpregistry.go's use of a random suffix to avoid collisions
// between concurrent attempts of the same job.
func NewTmp(base string) string {
	return fmt.Sprintf("%s/%s", base, uuid.NewString())
}

// localHandle wraps an os/exec child running on the same host as the
// engine (spec.md §6 "local backend").
type localHandle struct {
	cmd   *exec.Cmd
	start time.Time
}

func (h *localHandle) Wait(ctx context.Context) (ExitInfo, error) {
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-done
		return ExitInfo{}, ctx.Err()
	case err := <-done:
		info := ExitInfo{Duration: time.Since(h.start)}
		if h.cmd.ProcessState != nil {
			info.ExitCode = h.cmd.ProcessState.ExitCode()
		}
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				return info, err
			}
		}
		return info, nil
	}
}

// Local is the direct-fork backend: it execs the job's command line as a
// child of the engine process, the same way worker.go
// dispatches local copy jobs.
type Local struct{}

func (Local) Submit(ctx context.Context, c Cmd) (Handle, error) {
	if err := os.MkdirAll(c.Tmp, 0o755); err != nil {
		return nil, fmt.Errorf("jobengine: local submit: %w", err)
	}
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(append([]string{}, c.Env...), "FORGE_AUTODEP="+c.AutodepEnv)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("jobengine: local submit: %w", err)
	}
	return &localHandle{cmd: cmd, start: time.Now()}, nil
}

func (Local) Kill(h Handle) error {
	lh, ok := h.(*localHandle)
	if !ok || lh.cmd.Process == nil {
		return nil
	}
	return lh.cmd.Process.Kill()
}
