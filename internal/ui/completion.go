package ui

import (
	"fmt"
	"time"

	"github.com/bamsammich/forge/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  jobs 48,917  exec 2.1h  parallelism 3.4x  time 3m 17s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	parallelism := 0.0
	if snap.Elapsed.Seconds() > 0 {
		parallelism = time.Duration(snap.ExecNsSpent).Seconds() / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.JobsFailed > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  jobs %s  exec %s  parallelism %.1fx  time %s",
		icon,
		FormatCount(snap.JobsSucceeded),
		stats.FormatDuration(time.Duration(snap.ExecNsSpent)),
		parallelism,
		FormatDuration(snap.Elapsed),
	)

	if snap.SigsVerified > 0 || snap.SigsVerifyFailed > 0 {
		base += fmt.Sprintf("  verified %s", FormatCount(snap.SigsVerified))
	}

	base += fmt.Sprintf("  errors %d", snap.JobsFailed+snap.SigsVerifyFailed)

	return base
}
