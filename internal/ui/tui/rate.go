package tui

import (
	"fmt"
	"strings"

	"github.com/bamsammich/forge/internal/event"
	"github.com/bamsammich/forge/internal/stats"
	"github.com/bamsammich/forge/internal/ui"
)

type rateView struct {
	busyTokens map[int]bool
}

func newRateView() rateView {
	return rateView{
		busyTokens: make(map[int]bool),
	}
}

func (r *rateView) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.JobStarted:
		r.busyTokens[ev.WorkerID] = true
	case event.JobSucceeded, event.JobFailed, event.JobCacheHit, event.JobKilled, event.NodeBuilt, event.DepDiscovered:
		delete(r.busyTokens, ev.WorkerID)
	}
}

func (r *rateView) view(width, height int, snap stats.Snapshot, collector stats.ReadTicker, totalTokens int) string {
	if width < 20 {
		width = 20
	}

	var b strings.Builder

	// Big throughput number.
	speed := collector.RollingSpeed(5)
	speedStr := styleBigNumber.Render(ui.FormatRate(speed))
	b.WriteString("  " + speedStr)
	b.WriteByte('\n')
	b.WriteByte('\n')

	// Full-width sparkline (60-second history).
	sparkWidth := width - 4
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	sparkData := collector.SparklineData(sparkWidth)
	spark := ui.Sparkline(sparkData, sparkWidth)
	b.WriteString("  " + styleSparkline.Render(spark))
	b.WriteByte('\n')
	b.WriteByte('\n')

	// Stats cells: jobs/sec + exec-ns/sec.
	jps := collector.RollingJobsPerSec(5)
	jpsStr := fmt.Sprintf("%s jobs/s", ui.FormatCount(int64(jps)))
	rateStr := ui.FormatRate(speed)
	jobsStr := fmt.Sprintf("%s / %s jobs",
		ui.FormatCount(snap.JobsSucceeded),
		ui.FormatCount(snap.JobsTotal))

	statLine := fmt.Sprintf("  %s   %s   %s",
		styleFileSpeed.Render(jpsStr),
		styleFileSpeed.Render(rateStr),
		styleFileSize.Render(jobsStr),
	)
	b.WriteString(statLine)
	b.WriteByte('\n')
	b.WriteByte('\n')

	// Token grid.
	b.WriteString("  " + styleDivider.Render("tokens") + "  ")
	b.WriteString(r.renderTokenGrid(totalTokens))
	b.WriteByte('\n')

	return b.String()
}

func (r *rateView) renderTokenGrid(total int) string {
	var b strings.Builder
	for i := range total {
		if r.busyTokens[i] {
			b.WriteString(styleWorkerBusy.Render("▪"))
		} else {
			b.WriteString(styleWorkerIdle.Render("□"))
		}
	}
	return b.String()
}
