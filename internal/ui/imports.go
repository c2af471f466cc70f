package ui

import "github.com/bamsammich/forge/internal/event"

// Re-export event types for convenience.
const (
	RequestStarted  = event.RequestStarted
	RequestComplete = event.RequestComplete
	JobStarted      = event.JobStarted
	JobProgress     = event.JobProgress
	JobSucceeded    = event.JobSucceeded
	JobFailed       = event.JobFailed
	JobCacheHit     = event.JobCacheHit
	NodeBuilt       = event.NodeBuilt
	DepDiscovered   = event.DepDiscovered
	JobKilled       = event.JobKilled
)

// Event is an alias for the event package's Event type, kept local so
// presenters in this package don't need to import internal/event
// directly.
type Event = event.Event
