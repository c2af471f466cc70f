// Package gather implements the per-job access-event server (spec.md §4.3,
// component C3): it listens for accesses reported by a traced job over
// the internal/autodep protocol, maintains an ordered vmap of per-file
// AccessInfo records, and at end-of-job reorders and finalizes them into
// the dep digest the job engine folds back into the store.
//
// Grounded on internal/transport/proto's server-side handler
// (handler.go, mux.go): a per-connection accept loop reading framed
// messages and dispatching by message type, generalized here from
// file-copy RPCs to access-event ingestion. Path→AccessInfo lookups use
// github.com/cespare/xxhash/v2 for the internal map key, the same hash
// internal/stats/collector.go uses for its own high-
// frequency counter keys.
package gather

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/bamsammich/forge/internal/autodep"
	"github.com/bamsammich/forge/internal/store"
	"github.com/cespare/xxhash/v2"
)

// AccessInfo is the accumulated record for one file touched during a job
// attempt (spec.md §4.3 "accesses: ordered vmap from path → AccessInfo").
type AccessInfo struct {
	Path string

	FirstReadNs    int64
	HasRead        bool
	FirstWriteNs   int64
	HasWrite       bool
	FirstTargetNs  int64
	HasTarget      bool
	FirstExistNs   int64
	HasExist       bool

	Accesses store.AccessKind
	Flags    uint16 // rule.Dflag bits, kept untyped to avoid a store<->rule<->gather import cycle
	Extra    uint8

	// Write summarizes union-of-observed write likelihood: No, Maybe, Yes.
	Write WriteState

	ParallelID uint32
	Critical   bool
	seq        int // original arrival order, for stable parallel-group tie-breaks
}

// WriteState is the three-valued "was this file written" classification
// the merge rule accumulates monotonically (spec.md §4.3).
type WriteState uint8

const (
	WriteNo WriteState = iota
	WriteMaybe
	WriteYes
)

func (w WriteState) merge(other WriteState) WriteState {
	if other > w {
		return other
	}
	return w
}

// Session is one job attempt's gather server: a Unix socket accepting
// connections from the shim(s) that attempt reports to, plus the ordered
// accumulator of AccessInfo records.
type Session struct {
	JobID    uint32
	Listener net.Listener

	mu      sync.Mutex
	order   []string // path insertion order, defines the "ordered vmap" iteration
	byPath  map[uint64]*AccessInfo
	nextSeq int
	parallelCounter uint32
	pendingParallel bool
	criticalPending bool
}

// NewSession creates a gather server listening on a fresh Unix socket
// under dir, named by the job id so concurrent attempts never collide.
func NewSession(jobID uint32, dir string) (*Session, error) {
	sockPath := fmt.Sprintf("%s/gather-%d.sock", dir, jobID)
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("gather: listen %s: %w", sockPath, err)
	}
	return &Session{
		JobID:    jobID,
		Listener: l,
		byPath:   make(map[uint64]*AccessInfo),
	}, nil
}

// SocketPath returns the socket address, for embedding into an
// autodep.Env passed to the launched job.
func (s *Session) SocketPath() string {
	return s.Listener.Addr().String()
}

// Close stops accepting new connections. In-flight connections are left
// to finish; the caller is expected to have already told the job to stop
// tracing (e.g. it exited).
func (s *Session) Close() error {
	return s.Listener.Close()
}

// Serve accepts connections until the listener closes, handling each on
// its own goroutine (a job may fork, giving it multiple reporting
// sockets, spec.md §5 "arbitrary interleaving...across multiple sockets
// belonging to one job").
func (s *Session) Serve() error {
	var wg sync.WaitGroup
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Session) handleConn(conn net.Conn) {
	defer conn.Close()

	f, err := autodep.ReadFrame(conn)
	if err != nil {
		return
	}
	if f.MsgType != autodep.MsgJobExecReq {
		return
	}
	var req autodep.JobExecRpcReq
	if _, err := req.UnmarshalMsg(f.Payload); err != nil {
		return
	}
	reply := autodep.JobExecRpcReply{Ok: true}
	payload, _ := reply.MarshalMsg(nil)
	if err := autodep.WriteFrame(conn, autodep.Frame{MsgType: autodep.MsgJobExecReply, Payload: payload}); err != nil {
		return
	}

	for {
		f, err := autodep.ReadFrame(conn)
		if err != nil {
			return
		}
		switch f.MsgType &^ 0x80 {
		case autodep.MsgAccessBatch:
			// Re-frame and decode through ReadAccessBatch so a batch the
			// shim compressed is inflated before it is unmarshaled.
			var buf bytes.Buffer
			if err := autodep.WriteFrame(&buf, f); err != nil {
				return
			}
			batch, err := autodep.ReadAccessBatch(&buf)
			if err != nil {
				return
			}
			for _, ev := range batch.Events {
				s.Update(ev)
			}
		case autodep.MsgDone:
			return
		default:
			// Unknown/unhandled message types (e.g. live dep-resolve RPCs,
			// wired by internal/request once the scheduler owns make()
			// dispatch) are ignored rather than closing the connection, so
			// a newer shim talking to an older gather server degrades
			// gracefully.
		}
	}
}

func keyOf(path string) uint64 { return xxhash.Sum64String(path) }

// Update applies one observed access event to the session's accumulator,
// implementing the merge rule of spec.md §4.3: one earliest read date
// shared by all access kinds (the kinds themselves are unioned), earliest
// write, union of flags, write preferred over read in
// ambiguity so a reordered update never manufactures a spurious hidden
// dep.
func (s *Session) Update(ev autodep.AccessEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(ev.Path)
	info, ok := s.byPath[key]
	if !ok {
		info = &AccessInfo{Path: ev.Path, seq: s.nextSeq}
		s.nextSeq++
		s.byPath[key] = info
		s.order = append(s.order, ev.Path)
	}

	info.Accesses |= ev.Kind
	if ev.Write {
		info.Write = info.Write.merge(WriteYes)
		if !info.HasWrite || ev.DateNs < info.FirstWriteNs {
			info.HasWrite = true
			info.FirstWriteNs = ev.DateNs
		}
	} else {
		info.Write = info.Write.merge(WriteMaybe)
		if !info.HasRead || ev.DateNs < info.FirstReadNs {
			info.HasRead = true
			info.FirstReadNs = ev.DateNs
		}
	}
	if !info.HasExist || ev.DateNs < info.FirstExistNs {
		info.HasExist = true
		info.FirstExistNs = ev.DateNs
	}

	if ev.Parallel != 0 {
		info.ParallelID = ev.Parallel
	} else if s.pendingParallel {
		s.parallelCounter++
		info.ParallelID = s.parallelCounter
	} else {
		s.parallelCounter++
		info.ParallelID = s.parallelCounter
		s.pendingParallel = true
	}

	if s.criticalPending {
		info.Critical = true
		s.criticalPending = false
	}
}

// CriticalBarrier marks the next reported access as the start of a new
// critical group (spec.md §4.3 "CriticalBarrier — subsequent deps belong
// to a new critical group").
func (s *Session) CriticalBarrier() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingParallel = false
	s.parallelCounter++
	s.criticalPending = true
}
