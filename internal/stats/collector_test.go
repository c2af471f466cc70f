package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	const goroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				c.AddNodesVisited(1)
				c.AddJobsSucceeded(1)
				c.AddJobsFailed(1)
				c.AddJobsCacheHit(1)
				c.AddExecNsSpent(256)
				c.AddNodesBuilt(1)
				c.AddDepsDiscovered(1)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := int64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.NodesVisited)
	assert.Equal(t, expected, s.JobsSucceeded)
	assert.Equal(t, expected, s.JobsFailed)
	assert.Equal(t, expected, s.JobsCacheHit)
	assert.Equal(t, expected*256, s.ExecNsSpent)
	assert.Equal(t, expected, s.NodesBuilt)
	assert.Equal(t, expected, s.DepsDiscovered)
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{
		NodesVisited:   10,
		JobsSucceeded:  8,
		JobsFailed:     1,
		JobsCacheHit:   1,
		ExecNsSpent:    4096,
		NodesBuilt:     3,
		DepsDiscovered: 2,
	}
	expected := "visited=10 succeeded=8 failed=1 cachehit=1 exec_ns=4096 built=3 deps=2"
	assert.Equal(t, expected, s.String())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{1073741824, "1.0 GiB"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, FormatBytes(tt.input))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{500 * time.Nanosecond, "500ns"},
		{1500 * time.Nanosecond, "1.5µs"},
		{2500 * time.Microsecond, "2.5ms"},
		{3 * time.Second, "3s"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.input))
		})
	}
}

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.startTime.IsZero())
	assert.InDelta(t, 0, c.Elapsed().Seconds(), 1)
}

func TestSetTotals(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 1024*1024)
	s := c.Snapshot()
	assert.Equal(t, int64(100), s.JobsTotal)
	assert.Equal(t, int64(1024*1024), s.ExecNsTotal)
}

func TestTickAndRollingSpeed(t *testing.T) {
	c := NewCollector()

	// Simulate 5 seconds of 1000 exec-ns/sec.
	for range 5 {
		c.AddExecNsSpent(1000)
		c.AddJobsSucceeded(10)
		c.Tick()
	}

	speed := c.RollingSpeed(5)
	assert.InDelta(t, 1000.0, speed, 0.01)

	jps := c.RollingJobsPerSec(5)
	assert.InDelta(t, 10.0, jps, 0.01)
}

func TestRollingSpeedPartialWindow(t *testing.T) {
	c := NewCollector()

	// Only 2 samples.
	c.AddExecNsSpent(500)
	c.Tick()
	c.AddExecNsSpent(500)
	c.Tick()

	// Ask for 10 but only have 2.
	speed := c.RollingSpeed(10)
	assert.InDelta(t, 500.0, speed, 0.01)
}

func TestRollingSpeedNoSamples(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 0.0, c.RollingSpeed(5))
}

func TestSparklineData(t *testing.T) {
	c := NewCollector()

	for i := range 5 {
		c.AddExecNsSpent(int64((i + 1) * 100))
		c.Tick()
	}

	data := c.SparklineData(5)
	require.Len(t, data, 5)
	// Each tick's delta: 100, 200, 300, 400, 500.
	assert.InDelta(t, 100, data[0], 0.01)
	assert.InDelta(t, 200, data[1], 0.01)
	assert.InDelta(t, 300, data[2], 0.01)
	assert.InDelta(t, 400, data[3], 0.01)
	assert.InDelta(t, 500, data[4], 0.01)
}

func TestSparklineDataNoSamples(t *testing.T) {
	c := NewCollector()
	assert.Nil(t, c.SparklineData(5))
}

func TestRingWraparound(t *testing.T) {
	c := NewCollector()

	// Fill past the ring buffer.
	for i := range ringSize + 10 {
		c.AddExecNsSpent(int64(i + 1))
		c.Tick()
	}

	// Should still work, returning last ringSize samples.
	data := c.SparklineData(ringSize)
	require.Len(t, data, ringSize)
}

func TestETA(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 10000)

	// Simulate spending 5000 exec-ns at 1000/sec.
	for range 5 {
		c.AddExecNsSpent(1000)
		c.Tick()
	}

	eta := c.ETA()
	assert.InDelta(t, 5.0, eta.Seconds(), 1.0)
}

func TestETANoSpeed(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 10000)
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestETAComplete(t *testing.T) {
	c := NewCollector()
	c.SetTotals(1, 1000)
	c.AddExecNsSpent(1000)
	c.Tick()
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestSnapshotIncludesElapsed(t *testing.T) {
	c := NewCollector()
	time.Sleep(10 * time.Millisecond)
	s := c.Snapshot()
	assert.Greater(t, s.Elapsed, time.Duration(0))
}
