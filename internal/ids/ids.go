// Package ids defines the small-integer index types used throughout the
// store. Every entity in the graph — name, node, job, rule — is addressed
// by an index into a store table, never by pointer, so that the whole
// graph can be memory-mapped and reopened across process restarts.
package ids

// guardBits is the number of high bits reserved on every index so that
// small values can be smuggled inside variant-like slots (see Crunch).
const guardBits = 2

const (
	guardNone    = 0
	guardInline  = 1
	guardIndirect = 2
)

// maxPlain is the largest index value that leaves the guard bits free.
const maxPlain = ^uint32(0) >> guardBits

// NameId indexes a row in the shared prefix trie (see internal/store).
// The same table holds node names and job names; job names carry a
// per-rule suffix appended after a sentinel byte.
type NameId uint32

// Nil reports whether this is the reserved zero id (no entity).
func (n NameId) Nil() bool { return n == 0 }

// NodeId indexes a row in the node table.
type NodeId uint32

func (n NodeId) Nil() bool { return n == 0 }

// JobId indexes a row in the job table.
type JobId uint32

func (j JobId) Nil() bool { return j == 0 }

// RuleId indexes a compiled rule.
type RuleId uint32

func (r RuleId) Nil() bool { return r == 0 }

// ReqId identifies one open build request.
type ReqId uint32

func (r ReqId) Nil() bool { return r == 0 }

// RuleTgtId indexes an entry in the rule-target trie's candidate list.
type RuleTgtId uint32
