package store

import "github.com/bamsammich/forge/internal/ids"

// CRCKind discriminates the payload of a CRC value (spec.md §3 Node.crc).
type CRCKind uint8

const (
	CRCNone    CRCKind = iota // file known absent at Date
	CRCEmpty                  // empty regular file
	CRCUnknown                // not yet computed
	CRCLink                   // symlink target hash
	CRCReg                    // regular file content hash
	CRCValue                  // opaque value-encoded hash (code-encoded node)
)

// CRC is a node's content identity: a kind tag plus, for Link/Reg/Value,
// a digest. None and Empty carry no digest.
type CRC struct {
	Kind   CRCKind
	Digest [32]byte // BLAKE3-256 digest, zero for None/Empty/Unknown
}

// Match reports whether this CRC is considered equal to other under the
// given access mask: a Stat-only access invalidates on any digest change,
// a Lnk access only cares about link-target identity, matching spec.md
// §4.5 up_to_date semantics. Since digests already fully identify content
// regardless of access kind, Match here reduces to kind+digest equality;
// the access-kind distinction is applied by the caller (node engine)
// before deciding whether to even compare (e.g. a pure Stat access may
// accept an inode change without a digest recompute).
func (c CRC) Match(other CRC) bool {
	return c.Kind == other.Kind && c.Digest == other.Digest
}

// AccessKind is a bitmap of {Stat, Lnk, Reg} access kinds observed by the
// tracer for one file (spec.md §3 "Dep digest").
type AccessKind uint8

const (
	AccessStat AccessKind = 1 << iota
	AccessLnk
	AccessReg
)

func (a AccessKind) Has(k AccessKind) bool { return a&k != 0 }

// Sig is the on-disk signature (inode identity + mtime) at which a CRC
// was computed (spec.md §3 Node.date).
type Sig struct {
	Dev      uint64
	Ino      uint64
	MtimeNs  int64
}

// Buildable is a node's cached classification (spec.md §3 Node.buildable).
type Buildable uint8

const (
	BuildableUnknown Buildable = iota
	BuildableSrc
	BuildableSrcDir
	BuildableSubSrc
	BuildableAnti
	BuildableYes
	BuildableNo
	BuildableMaybe
	BuildableLoop
	BuildableDecode
	BuildableEncode
	BuildableLongName
)

// IsSrcAnti covers all source/anti variants (spec.md §4.5 is_src_anti()).
func (b Buildable) IsSrcAnti() bool {
	switch b {
	case BuildableSrc, BuildableSrcDir, BuildableSubSrc, BuildableAnti:
		return true
	default:
		return false
	}
}

// JobStatus is the job's terminal/near-terminal execution state.
type JobStatus uint8

const (
	JobNew JobStatus = iota
	JobLost
	JobKilled
	JobChkDeps
	JobGarbage
	JobOk
	JobFrozen
	JobErr
	JobErrFrozen
	JobTimeout
	JobSystemErr
)

var jobStatusNames = [...]string{
	"new", "lost", "killed", "chk_deps", "garbage", "ok", "frozen",
	"err", "err_frozen", "timeout", "system_err",
}

func (j JobStatus) String() string {
	if int(j) < len(jobStatusNames) {
		return jobStatusNames[j]
	}
	return "unknown"
}

// RunStatus classifies why a job did or did not need to run.
type RunStatus uint8

const (
	RunComplete RunStatus = iota
	RunNoDep
	RunNoFile
	RunTargetErr
	RunDepErr
	RunRsrcsErr
)

// Dep is one fully materialized dependency record (spec.md §3 "Dep
// digest"). Compressed storage (EncodeDeps/DecodeDeps) packs a slice of
// these into chunks and decodes it back; see deps.go.
type Dep struct {
	Node     ids.NodeId
	Accesses AccessKind
	Flags    uint16 // rule.Dflag bits, kept untyped here to avoid an import cycle with package rule
	Extra    uint8  // rule.ExtraDflag bits
	IsCRC    bool
	CRC      CRC
	Sig      Sig
	DateNs   int64
	Parallel bool
	Static   bool
	Critical bool // marks the start of a new critical group
}

// TargetEntry is one star target produced by a job (spec.md §3 "Target
// vector"). Static targets are never stored here — they are reconstructed
// from the owning rule's pattern.
type TargetEntry struct {
	Node  ids.NodeId
	Flags uint16 // rule.Tflag bits
	Extra uint8  // rule.ExtraTflag bits
}
