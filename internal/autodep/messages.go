package autodep

import (
	"github.com/bamsammich/forge/internal/store"
	"github.com/tinylib/msgp/msgp"
)

// AccessEvent is one observed filesystem access reported by a traced job,
// the wire counterpart of a single entry gather folds into its per-job
// accesses vmap (spec.md §4.3 "Access events"). Encoding is hand-written
// against the msgp helper functions rather than go:generate'd, since the
// array-of-fields shape here is simple enough to maintain directly and
// stable across the lifetime of one protocol version.
type AccessEvent struct {
	Path     string
	Kind     store.AccessKind
	Write    bool
	Unlink   bool
	DateNs   int64
	Parallel uint32 // parallel-group id, 0 = not part of a group
}

// MarshalMsg appends the msgpack encoding of e to b.
func (e AccessEvent) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 6)
	b = msgp.AppendString(b, e.Path)
	b = msgp.AppendUint8(b, uint8(e.Kind))
	b = msgp.AppendBool(b, e.Write)
	b = msgp.AppendBool(b, e.Unlink)
	b = msgp.AppendInt64(b, e.DateNs)
	b = msgp.AppendUint32(b, e.Parallel)
	return b, nil
}

// UnmarshalMsg decodes e from b, returning the remaining bytes.
func (e *AccessEvent) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 6 {
		return b, msgp.ArrayError{Wanted: 6, Got: n}
	}
	if e.Path, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	var kind uint8
	if kind, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return b, err
	}
	e.Kind = store.AccessKind(kind)
	if e.Write, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if e.Unlink, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if e.DateNs, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if e.Parallel, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	return b, nil
}

// JobExecRpcReq is the shim's opening message on the gather connection:
// it identifies the job attempt and, for jobs launched with live dep
// sync enabled, may later be followed by DepResolveReq messages on the
// same stream (spec.md §4.2/§4.3).
type JobExecRpcReq struct {
	JobID uint32
	Pid   int32
}

func (r JobExecRpcReq) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendUint32(b, r.JobID)
	b = msgp.AppendInt32(b, r.Pid)
	return b, nil
}

func (r *JobExecRpcReq) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 2 {
		return b, msgp.ArrayError{Wanted: 2, Got: n}
	}
	if r.JobID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return b, err
	}
	if r.Pid, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, err
	}
	return b, nil
}

// JobExecRpcReply acknowledges JobExecRpcReq, telling the shim whether to
// proceed and, if not, why (e.g. the job was killed before it could even
// start tracing).
type JobExecRpcReply struct {
	Ok      bool
	Message string
}

func (r JobExecRpcReply) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendBool(b, r.Ok)
	b = msgp.AppendString(b, r.Message)
	return b, nil
}

func (r *JobExecRpcReply) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 2 {
		return b, msgp.ArrayError{Wanted: 2, Got: n}
	}
	if r.Ok, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if r.Message, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	return b, nil
}

// AccessBatch carries one or more AccessEvents in a single frame, since a
// traced job typically touches many files between flushes and framing
// every syscall individually would dominate overhead (spec.md §4.3
// "batched reporting").
type AccessBatch struct {
	Events []AccessEvent
}

func (a AccessBatch) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, uint32(len(a.Events)))
	var err error
	for _, e := range a.Events {
		if b, err = e.MarshalMsg(b); err != nil {
			return b, err
		}
	}
	return b, nil
}

func (a *AccessBatch) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	a.Events = make([]AccessEvent, n)
	for i := range a.Events {
		if b, err = a.Events[i].UnmarshalMsg(b); err != nil {
			return b, err
		}
	}
	return b, nil
}

// DepResolveReq asks the gather server to synchronously make() a path the
// job discovered it needs mid-execution (spec.md §4.2 "live dep sync").
type DepResolveReq struct {
	Path string
}

func (r DepResolveReq) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 1)
	b = msgp.AppendString(b, r.Path)
	return b, nil
}

func (r *DepResolveReq) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 1 {
		return b, msgp.ArrayError{Wanted: 1, Got: n}
	}
	if r.Path, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	return b, nil
}

// DepResolveReply reports whether the requested dep is now up to date
// (Ok) or the job should abort because it errored (spec.md §4.2).
type DepResolveReply struct {
	Ok  bool
	Err bool
}

func (r DepResolveReply) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendBool(b, r.Ok)
	b = msgp.AppendBool(b, r.Err)
	return b, nil
}

func (r *DepResolveReply) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 2 {
		return b, msgp.ArrayError{Wanted: 2, Got: n}
	}
	if r.Ok, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	if r.Err, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, err
	}
	return b, nil
}
