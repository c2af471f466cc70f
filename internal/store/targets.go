package store

import (
	"encoding/binary"
	"fmt"

	"github.com/bamsammich/forge/internal/ids"
)

// EncodeTargets serializes a job's star-target vector. Static targets are
// never included: they are reconstructed from the owning rule's pattern
// (spec.md §3 "Target vector").
func EncodeTargets(targets []TargetEntry) []byte {
	buf := make([]byte, 0, len(targets)*7)
	for _, t := range targets {
		buf = binary.BigEndian.AppendUint32(buf, uint32(t.Node))
		buf = binary.BigEndian.AppendUint16(buf, t.Flags)
		buf = append(buf, t.Extra)
	}
	return buf
}

// DecodeTargets is the inverse of EncodeTargets.
func DecodeTargets(data []byte) ([]TargetEntry, error) {
	const rec = 4 + 2 + 1
	if len(data)%rec != 0 {
		return nil, fmt.Errorf("store: malformed target vector (%d bytes)", len(data))
	}
	out := make([]TargetEntry, 0, len(data)/rec)
	for off := 0; off < len(data); off += rec {
		out = append(out, TargetEntry{
			Node:  ids.NodeId(binary.BigEndian.Uint32(data[off:])),
			Flags: binary.BigEndian.Uint16(data[off+4:]),
			Extra: data[off+6],
		})
	}
	return out, nil
}
