package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/bamsammich/forge/internal/stats"
)

// ANSI escape sequences.
const (
	ansiDim   = "\033[2m"
	ansiBold  = "\033[1m"
	ansiReset = "\033[0m"
)

// hudPresenter provides a rich TTY display with a scrolling feed of
// finished jobs and a 2-line HUD that redraws in place.
type hudPresenter struct {
	w           io.Writer
	stats       *stats.Collector
	forceFeed   bool
	forceRate   bool
	tokens      int
	projectRoot string // build root, stripped from displayed node/job names

	// Internal state.
	hudDrawn     bool
	hudLineCount int // actual number of lines in the last HUD draw
	rateMode     bool
	rateSwitched bool // whether we've printed the switch notice
	busyTokens   map[int]bool
	lastHUDDraw  time.Time
}

const (
	rateThreshHigh   = 200.0
	rateThreshLow    = 100.0
	sparklineWidth   = 20
	progressBarWidth = 20
	hudMinInterval   = 50 * time.Millisecond // don't redraw faster than this
)

func (p *hudPresenter) Run(events <-chan Event) error {
	p.busyTokens = make(map[int]bool)

	if p.forceRate {
		p.rateMode = true
	}

	// Fire first tick quickly to seed the ring buffer with initial speed
	// data, then switch to 1s interval.
	secTicker := time.NewTicker(250 * time.Millisecond)
	defer secTicker.Stop()
	firstTickDone := false

	// Redraw ticker for when no events are flowing (e.g., a long single job).
	redrawTicker := time.NewTicker(100 * time.Millisecond)
	defer redrawTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			p.maybeDrawHUD()

		case <-redrawTicker.C:
			p.maybeSwitch()
			p.drawHUD()

		case <-secTicker.C:
			p.stats.Tick()
			if !firstTickDone {
				firstTickDone = true
				secTicker.Reset(1 * time.Second)
			}
		}
	}
}

func (p *hudPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case RequestComplete:
		p.stats.SetTotals(ev.Total, ev.TotalSize)

	case JobStarted:
		p.busyTokens[ev.WorkerID] = true

	case JobSucceeded:
		delete(p.busyTokens, ev.WorkerID)
		if !p.rateMode {
			p.clearHUD()
			p.printJobSucceeded(ev)
			p.drawHUD() // always redraw HUD after feed line
		}

	case JobFailed:
		delete(p.busyTokens, ev.WorkerID)
		if !p.rateMode {
			p.clearHUD()
			p.printJobFailed(ev)
			p.drawHUD()
		}

	case JobCacheHit:
		if !p.rateMode {
			p.clearHUD()
			p.printJobCacheHit(ev)
			p.drawHUD()
		}

	case JobKilled:
		delete(p.busyTokens, ev.WorkerID)
		if !p.rateMode {
			p.clearHUD()
			fmt.Fprintf(p.w, "×  %s  %skilled%s\n",
				p.styledPath(ev.Path), ansiDim, ansiReset)
			p.drawHUD()
		}

	case NodeBuilt, DepDiscovered:
		delete(p.busyTokens, ev.WorkerID)
	}
}

func (p *hudPresenter) printJobSucceeded(ev Event) {
	speed := p.stats.RollingSpeed(5)
	if speed > 0 {
		fmt.Fprintf(p.w, "✓  %s  %10s  %s\n",
			p.styledPath(ev.Path), stats.FormatDuration(time.Duration(ev.Size)), FormatRate(speed))
	} else {
		fmt.Fprintf(p.w, "✓  %s  %10s\n",
			p.styledPath(ev.Path), stats.FormatDuration(time.Duration(ev.Size)))
	}
}

func (p *hudPresenter) printJobFailed(ev Event) {
	errMsg := "error"
	if ev.Error != nil {
		errMsg = ev.Error.Error()
	}
	fmt.Fprintf(p.w, "✗  %s  %s\n", p.styledPath(ev.Path), errMsg)
}

func (p *hudPresenter) printJobCacheHit(ev Event) {
	fmt.Fprintf(p.w, "–  %s  %scached%s\n",
		p.styledPath(ev.Path), ansiDim, ansiReset)
}

func (p *hudPresenter) maybeSwitch() {
	if p.forceFeed || p.forceRate {
		return
	}

	jps := p.stats.RollingJobsPerSec(2)

	if !p.rateMode && jps > rateThreshHigh {
		p.rateMode = true
		if !p.rateSwitched {
			p.rateSwitched = true
			p.clearHUD()
			fmt.Fprintf(p.w, "↯ rate view (%s jobs/s · use --feed to see individual jobs)\n",
				FormatCount(int64(jps)))
		}
	} else if p.rateMode && jps < rateThreshLow {
		p.rateMode = false
	}
}

// maybeDrawHUD redraws the HUD if enough time has passed since the last draw.
func (p *hudPresenter) maybeDrawHUD() {
	now := time.Now()
	if now.Sub(p.lastHUDDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) drawHUD() {
	snap := p.stats.Snapshot()

	// Clear previous HUD if drawn.
	p.clearHUD()

	var pct float64
	if snap.ExecNsTotal > 0 {
		pct = float64(snap.ExecNsSpent) / float64(snap.ExecNsTotal)
	}

	speed := p.stats.RollingSpeed(10)
	eta := p.stats.ETA()

	lines := 0

	// Rate mode: extra jobs/s line above the main HUD.
	if p.rateMode {
		jps := p.stats.RollingJobsPerSec(5)
		sparkData := p.stats.SparklineData(sparklineWidth)
		spark := Sparkline(sparkData, sparklineWidth)
		fmt.Fprintf(p.w, "jobs/s   %s  %s/s   %s / %s done\n",
			spark, FormatCount(int64(jps)),
			FormatCount(snap.JobsSucceeded), FormatCount(snap.JobsTotal))
		lines++
	}

	// Line 1: throughput sparkline + speed + exec-time totals.
	sparkData := p.stats.SparklineData(sparklineWidth)
	spark := Sparkline(sparkData, sparklineWidth)
	fmt.Fprintf(p.w, "       %s   %s   %s / %s\n",
		spark, FormatRate(speed),
		stats.FormatDuration(time.Duration(snap.ExecNsSpent)), stats.FormatDuration(time.Duration(snap.ExecNsTotal)))
	lines++

	// Line 2: progress bar (▪/□) + jobs + eta.
	bar := ProgressBar(pct, progressBarWidth)
	fmt.Fprintf(p.w, " %3.0f%%  %s   %s / %s jobs   eta %s\n",
		pct*100, bar,
		FormatCount(snap.JobsSucceeded), FormatCount(snap.JobsTotal),
		FormatETA(eta))
	lines++

	p.hudDrawn = true
	p.hudLineCount = lines
	p.lastHUDDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	lines := p.hudLineCount
	if lines == 0 {
		lines = 2 // fallback
	}
	// Move cursor up N lines and clear to end of screen.
	fmt.Fprintf(p.w, "\033[%dA\033[J", lines)
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

// relPath strips the projectRoot prefix from a node/job name to produce
// a cleaner relative name for display. Falls back to the original name.
func (p *hudPresenter) relPath(name string) string {
	if p.projectRoot == "" {
		return name
	}
	rel, err := filepath.Rel(p.projectRoot, name)
	if err != nil {
		return name
	}
	return rel
}

// styledPath returns the name with the directory portion dimmed and the
// base name in normal weight, making the target stand out.
func (p *hudPresenter) styledPath(name string) string {
	name = p.relPath(name)
	dir := filepath.Dir(name)
	base := filepath.Base(name)
	if dir == "." || dir == "" {
		return base
	}
	return fmt.Sprintf("%s%s/%s%s", ansiDim, dir, ansiReset, base)
}

// truncPath shortens a name to fit within maxLen characters.
func truncPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return path[:maxLen]
	}
	return "..." + path[len(path)-maxLen+3:]
}

// StripRoot removes a root prefix from a node/job name, returning a
// clean relative name. Exported for use by the plain presenter.
func StripRoot(root, path string) string {
	if root == "" {
		return path
	}
	// Ensure root ends with separator for clean stripping.
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	if strings.HasPrefix(path, root) {
		return path[len(root):]
	}
	return path
}
