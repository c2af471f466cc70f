package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/forge/internal/stats"
)

// plainPresenter outputs one line per finished job to stdout, and
// periodic progress to stderr when not a TTY.
type plainPresenter struct {
	w           io.Writer
	errW        io.Writer
	stats       *stats.Collector
	projectRoot string
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	name := StripRoot(p.projectRoot, ev.Path)
	switch ev.Type {
	case RequestComplete:
		p.stats.SetTotals(ev.Total, ev.TotalSize)
	case JobSucceeded:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "%s  %s  %s\n", name, stats.FormatDuration(time.Duration(ev.Size)), FormatRate(speed))
	case JobFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s\n", name, errMsg)
	case JobCacheHit:
		fmt.Fprintf(p.w, "%s  cached\n", name)
	case JobKilled:
		fmt.Fprintf(p.w, "killed: %s\n", name)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.ExecNsTotal > 0 {
		pct := float64(snap.ExecNsSpent) / float64(snap.ExecNsTotal) * 100
		speed := p.stats.RollingSpeed(10)
		eta := p.stats.ETA()
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s exec  %s/%s jobs  %s  eta %s\n",
			pct,
			stats.FormatDuration(time.Duration(snap.ExecNsSpent)), stats.FormatDuration(time.Duration(snap.ExecNsTotal)),
			FormatCount(snap.JobsSucceeded), FormatCount(snap.JobsTotal),
			FormatRate(speed),
			FormatETA(eta),
		)
	} else {
		fmt.Fprintf(p.errW, "progress: %s exec  %s jobs done\n",
			stats.FormatDuration(time.Duration(snap.ExecNsSpent)),
			FormatCount(snap.JobsSucceeded),
		)
	}
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
