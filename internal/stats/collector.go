// Package stats tracks live build-request counters (jobs run, tokens
// spent, nodes produced) and derives rolling throughput and eta figures
// from them for internal/ui's presenters.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Reader is the read-only slice of a Collector a presenter that never
// drives live progress still needs for its final summary.
type Reader interface {
	Snapshot() Snapshot
}

// ReadTicker is the read side of a Collector that presenters depend on,
// letting internal/ui consume live stats without a hard dependency on
// the concrete Collector type or its counter-mutating methods.
type ReadTicker interface {
	Snapshot() Snapshot
	Tick()
	RollingSpeed(seconds int) float64
	RollingJobsPerSec(seconds int) float64
	SparklineData(n int) []float64
	ETA() time.Duration
}

// Collector tracks build request statistics using lock-free atomic
// counters, one instance per running request.
type Collector struct {
	nodesVisited     atomic.Int64
	jobsSucceeded    atomic.Int64
	jobsFailed       atomic.Int64
	jobsCacheHit     atomic.Int64
	execNsSpent      atomic.Int64
	nodesBuilt       atomic.Int64
	depsDiscovered   atomic.Int64
	execNsTotal      atomic.Int64
	jobsTotal        atomic.Int64
	sigsVerified     atomic.Int64
	sigsVerifyFailed atomic.Int64
	startTime        time.Time

	// Ring buffer, written only by the presenter's Tick(), not workers.
	mu           sync.Mutex
	throughput   [ringSize]int64 // exec-ns completed delta per second
	jobsPerSec   [ringSize]int64 // jobs-succeeded delta per second
	ringIdx      int
	ringCount    int // how many samples have been written (capped at ringSize)
	lastExecNs   int64
	lastJobs     int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records the request's total job count and estimated exec-ns
// budget, called once after target resolution completes.
func (c *Collector) SetTotals(jobs, execNs int64) {
	c.jobsTotal.Store(jobs)
	c.execNsTotal.Store(execNs)
}

// AddJobsTotal atomically increments the total job count (used as new
// jobs are discovered mid-request via dynamic deps).
func (c *Collector) AddJobsTotal(n int64) { c.jobsTotal.Add(n) }

// AddExecNsTotal atomically increments the total estimated exec-ns
// budget.
func (c *Collector) AddExecNsTotal(n int64) { c.execNsTotal.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	NodesVisited     int64
	JobsSucceeded    int64
	JobsFailed       int64
	JobsCacheHit     int64
	ExecNsSpent      int64
	NodesBuilt       int64
	DepsDiscovered   int64
	ExecNsTotal      int64
	JobsTotal        int64
	SigsVerified     int64
	SigsVerifyFailed int64
	Elapsed          time.Duration
}

func (c *Collector) AddNodesVisited(n int64)     { c.nodesVisited.Add(n) }
func (c *Collector) AddJobsSucceeded(n int64)    { c.jobsSucceeded.Add(n) }
func (c *Collector) AddJobsFailed(n int64)       { c.jobsFailed.Add(n) }
func (c *Collector) AddJobsCacheHit(n int64)     { c.jobsCacheHit.Add(n) }
func (c *Collector) AddExecNsSpent(n int64)      { c.execNsSpent.Add(n) }
func (c *Collector) AddNodesBuilt(n int64)       { c.nodesBuilt.Add(n) }
func (c *Collector) AddDepsDiscovered(n int64)   { c.depsDiscovered.Add(n) }
func (c *Collector) AddSigsVerified(n int64)     { c.sigsVerified.Add(n) }
func (c *Collector) AddSigsVerifyFailed(n int64) { c.sigsVerifyFailed.Add(n) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		NodesVisited:     c.nodesVisited.Load(),
		JobsSucceeded:    c.jobsSucceeded.Load(),
		JobsFailed:       c.jobsFailed.Load(),
		JobsCacheHit:     c.jobsCacheHit.Load(),
		ExecNsSpent:      c.execNsSpent.Load(),
		NodesBuilt:       c.nodesBuilt.Load(),
		DepsDiscovered:   c.depsDiscovered.Load(),
		ExecNsTotal:      c.execNsTotal.Load(),
		JobsTotal:        c.jobsTotal.Load(),
		SigsVerified:     c.sigsVerified.Load(),
		SigsVerifyFailed: c.sigsVerifyFailed.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Tick snapshots exec-ns/job deltas into the ring buffer. Called 1/sec by
// the presenter.
func (c *Collector) Tick() {
	currentExecNs := c.execNsSpent.Load()
	currentJobs := c.jobsSucceeded.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	execDelta := currentExecNs - c.lastExecNs
	jobsDelta := currentJobs - c.lastJobs
	c.lastExecNs = currentExecNs
	c.lastJobs = currentJobs

	c.throughput[c.ringIdx] = execDelta
	c.jobsPerSec[c.ringIdx] = jobsDelta
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average exec-ns completed per second over the
// last n seconds of samples — effectively the request's realized
// parallelism.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.throughput[:], seconds)
}

// RollingJobsPerSec returns average jobs/sec over the last n seconds.
func (c *Collector) RollingJobsPerSec(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.jobsPerSec[:], seconds)
}

func (c *Collector) rollingAvg(buf []int64, n int) float64 {
	count := n
	if count > c.ringCount {
		count = c.ringCount
	}
	if count == 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += buf[idx]
	}
	return float64(sum) / float64(count)
}

// SparklineData returns the last n exec-ns/sec samples for rendering.
func (c *Collector) SparklineData(n int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := n
	if count > c.ringCount {
		count = c.ringCount
	}
	if count == 0 {
		return nil
	}

	data := make([]float64, count)
	for i := range count {
		// oldest first
		idx := (c.ringIdx - count + i + ringSize) % ringSize
		data[i] = float64(c.throughput[idx])
	}
	return data
}

// ETA estimates remaining wall time based on rolling exec-ns throughput
// and the exec-ns budget still outstanding.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.execNsTotal.Load() - c.execNsSpent.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"visited=%d succeeded=%d failed=%d cachehit=%d exec_ns=%d built=%d deps=%d",
		s.NodesVisited, s.JobsSucceeded, s.JobsFailed, s.JobsCacheHit,
		s.ExecNsSpent, s.NodesBuilt, s.DepsDiscovered,
	)
}

// FormatBytes returns a human-readable byte count, used to render token
// and cache-size figures.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration in ns/µs/ms/s the way exec-ns
// figures are surfaced to the user, since job exec times routinely span
// microseconds to minutes.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1e6)
	}
	return d.Round(10 * time.Millisecond).String()
}
