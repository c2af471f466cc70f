// Package autodep implements the traced-job side of spec.md §4.2/§4.3: the
// environment variable grammar a launched job's autodep shim reads to find
// its gather server, and the RPC messages exchanged over that connection
// to report accesses and (for jobs that ask for it) resolve deps
// synchronously mid-execution.
//
// Framing and message shape are adapted from
// internal/transport/proto package (frame.go, messages.go): the same
// length-prefixed wire format, repurposed to carry
// job-exec RPCs instead of file-copy RPCs.
package autodep

import (
	"fmt"
	"strconv"
	"strings"
)

// Env is the autodep configuration passed to a launched job, encoded as a
// single environment variable so it survives exec() across every backend
// (local fork, ssh, containerized) without extra plumbing (spec.md §4.2
// "Access declaration channel").
type Env struct {
	// SocketPath is the Unix domain socket the gather server for this job
	// attempt listens on.
	SocketPath string
	// JobID identifies the job attempt to the gather server, since one
	// server may multiplex several concurrent children (spec.md §4.3
	// "one gather server per job").
	JobID uint32
	// ReadOnly true means access reporting only (spec.md's default,
	// Makable/Status callers); when false the job may also issue
	// synchronous dep-resolution RPCs (spec.md §4.2 "live dep sync",
	// used by rules whose command wants to `make()` a dep it discovers
	// at run time rather than declaring it up front).
	ReadOnly bool
	// AutoMkdir mirrors the rule's auto_mkdir flag: whether the tracer
	// should silently create parent directories for observed writes
	// rather than reporting them as accesses to nonexistent dirs.
	AutoMkdir bool
}

// EnvVar is the name of the environment variable a job's autodep shim
// reads (spec.md §6 "External Interfaces").
const EnvVar = "FORGE_AUTODEP"

// Encode serializes e into the colon-separated grammar the shim parses
// with no dependencies beyond string splitting, since it must be
// decodable from C, POSIX shell, or any other language a job's recipe
// happens to be written in (spec.md §4.2): each field is
// `key=value`, fields joined by `:`, values containing `:` or `=`
// percent-escaped.
func (e Env) Encode() string {
	fields := []string{
		"sock=" + escape(e.SocketPath),
		"job=" + strconv.FormatUint(uint64(e.JobID), 10),
		"ro=" + boolField(e.ReadOnly),
		"mkdir=" + boolField(e.AutoMkdir),
	}
	return strings.Join(fields, ":")
}

// Decode parses the grammar Encode produces.
func Decode(s string) (Env, error) {
	var e Env
	for _, field := range strings.Split(s, ":") {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return Env{}, fmt.Errorf("autodep: malformed env field %q", field)
		}
		val = unescape(val)
		switch key {
		case "sock":
			e.SocketPath = val
		case "job":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return Env{}, fmt.Errorf("autodep: bad job id %q: %w", val, err)
			}
			e.JobID = uint32(n)
		case "ro":
			e.ReadOnly = val == "1"
		case "mkdir":
			e.AutoMkdir = val == "1"
		default:
			// Forward-compatible: an older shim ignores fields it doesn't
			// recognize rather than failing the whole job.
		}
	}
	if e.SocketPath == "" {
		return Env{}, fmt.Errorf("autodep: missing sock field")
	}
	return e, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, ":", "%3a")
	s = strings.ReplaceAll(s, "=", "%3d")
	return s
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "%3a", ":")
	s = strings.ReplaceAll(s, "%3d", "=")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}
