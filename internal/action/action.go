// Package action defines the shared Action/Level vocabulary used by both
// the node engine and the job engine's make loops (spec.md §4.4.1),
// factored out on its own so neither engine package needs to import the
// other just to share these enums.
package action

// Action is what the caller of make() needs to know, monotonically
// non-decreasing per request across repeated calls (spec.md §4.4.1).
type Action uint8

const (
	None Action = iota
	Makable
	Status
	Dsk
	Run
)

// Less reports whether a is strictly weaker than b, for asserting the
// monotonicity law (spec.md §8 "Monotonicity").
func (a Action) Less(b Action) bool { return a < b }

// Level is a job or node's traversal level within one request
// (spec.md §4.4.1 "Levels").
type Level uint8

const (
	LvlNone Level = iota
	LvlDep
	LvlQueued
	LvlExec
	LvlEnd
	LvlDone
)

// Less reports whether l is strictly earlier than other.
func (l Level) Less(other Level) bool { return l < other }

// ChkDepsResult is the outcome of a synchronous "have any of my deps been
// modified or errored?" query (spec.md §4.2, §9 Open Questions). Maybe is
// returned when a dep is concurrently being re-analyzed and the caller
// must retry.
type ChkDepsResult uint8

const (
	ChkDepsOk ChkDepsResult = iota
	ChkDepsRebuild
	ChkDepsMaybe
	ChkDepsErr
)
