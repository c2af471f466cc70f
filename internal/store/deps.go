package store

import (
	"encoding/binary"
	"fmt"

	"github.com/bamsammich/forge/internal/ids"
)

// depMeta is everything about a Dep except its NodeId — the part a run of
// bare ids shares with their chunk header (spec.md §3 "Compressed dep
// vector").
type depMeta struct {
	Flags    uint16
	Extra    uint8
	Accesses AccessKind
	Parallel bool
	Static   bool
	Critical bool
	IsCRC    bool
	CRC      CRC
	Sig      Sig
	DateNs   int64
}

func metaOf(d Dep) depMeta {
	return depMeta{
		Flags: d.Flags, Extra: d.Extra, Accesses: d.Accesses,
		Parallel: d.Parallel, Static: d.Static, Critical: d.Critical,
		IsCRC: d.IsCRC, CRC: d.CRC, Sig: d.Sig, DateNs: d.DateNs,
	}
}

// EncodeDeps compresses a logical dep sequence into the chunked wire
// format: maximal runs of consecutive deps sharing identical metadata
// collapse into one full header record (the last dep of the run) preceded
// on the wire by the bare node ids of the earlier deps in that run. This
// is the shape generated dep-files typically produce: long parallel runs
// discovered with identical flags and not-yet-computed CRCs.
func EncodeDeps(deps []Dep) []byte {
	var out []byte
	i := 0
	for i < len(deps) {
		j := i
		m := metaOf(deps[i])
		for j+1 < len(deps) && metaOf(deps[j+1]) == m {
			j++
		}
		// Run is deps[i..j] inclusive; the header is the last (j), the
		// bare ids are i..j-1, semantically ordered before the header.
		out = appendChunk(out, deps[i:j+1])
		i = j + 1
	}
	return out
}

func appendChunk(out []byte, run []Dep) []byte {
	header := run[len(run)-1]
	sz := uint32(len(run) - 1)

	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint32(buf, sz)
	buf = binary.BigEndian.AppendUint32(buf, uint32(header.Node))
	buf = binary.BigEndian.AppendUint16(buf, header.Flags)
	buf = append(buf, header.Extra)
	buf = append(buf, byte(header.Accesses))
	buf = append(buf, boolByte(header.Parallel), boolByte(header.Static), boolByte(header.Critical), boolByte(header.IsCRC))
	buf = append(buf, byte(header.CRC.Kind))
	buf = append(buf, header.CRC.Digest[:]...)
	buf = binary.BigEndian.AppendUint64(buf, header.Sig.Dev)
	buf = binary.BigEndian.AppendUint64(buf, header.Sig.Ino)
	buf = binary.BigEndian.AppendUint64(buf, uint64(header.Sig.MtimeNs))
	buf = binary.BigEndian.AppendUint64(buf, uint64(header.DateNs))

	for _, d := range run[:len(run)-1] {
		buf = binary.BigEndian.AppendUint32(buf, uint32(d.Node))
	}
	return append(out, buf...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// chunkHeaderFixedSize is the number of bytes in a chunk header excluding
// the trailing bare node ids.
const chunkHeaderFixedSize = 4 + 4 + 2 + 1 + 1 + 4 + 1 + 32 + 8 + 8 + 8 + 8

// DecodeDeps decodes the whole logical dep sequence encoded by EncodeDeps
// into a slice. Each run's bare-id deps (inheriting the header's metadata)
// come before the header dep itself, matching the "ordered before the
// header semantically" rule.
func DecodeDeps(data []byte) ([]Dep, error) {
	var out []Dep
	off := 0
	for off < len(data) {
		if off+chunkHeaderFixedSize > len(data) {
			return nil, fmt.Errorf("store: truncated dep chunk header at offset %d", off)
		}
		sz := binary.BigEndian.Uint32(data[off:])
		off += 4
		nodeID := binary.BigEndian.Uint32(data[off:])
		off += 4
		flags := binary.BigEndian.Uint16(data[off:])
		off += 2
		extra := data[off]
		off++
		accesses := AccessKind(data[off])
		off++
		parallel := data[off] != 0
		static := data[off+1] != 0
		critical := data[off+2] != 0
		isCRC := data[off+3] != 0
		off += 4
		crcKind := CRCKind(data[off])
		off++
		var digest [32]byte
		copy(digest[:], data[off:off+32])
		off += 32
		dev := binary.BigEndian.Uint64(data[off:])
		off += 8
		ino := binary.BigEndian.Uint64(data[off:])
		off += 8
		mtime := int64(binary.BigEndian.Uint64(data[off:]))
		off += 8
		dateNs := int64(binary.BigEndian.Uint64(data[off:]))
		off += 8

		meta := depMeta{
			Flags: flags, Extra: extra, Accesses: accesses,
			Parallel: parallel, Static: static, Critical: critical,
			IsCRC: isCRC, CRC: CRC{Kind: crcKind, Digest: digest},
			Sig: Sig{Dev: dev, Ino: ino, MtimeNs: mtime}, DateNs: dateNs,
		}

		if off+int(sz)*4 > len(data) {
			return nil, fmt.Errorf("store: truncated dep chunk bare ids at offset %d", off)
		}
		for k := uint32(0); k < sz; k++ {
			id := binary.BigEndian.Uint32(data[off:])
			off += 4
			out = append(out, depFromMeta(ids.NodeId(id), meta))
		}
		out = append(out, depFromMeta(ids.NodeId(nodeID), meta))
	}
	return out, nil
}

func depFromMeta(n ids.NodeId, m depMeta) Dep {
	return Dep{
		Node: n, Flags: m.Flags, Extra: m.Extra, Accesses: m.Accesses,
		Parallel: m.Parallel, Static: m.Static, Critical: m.Critical,
		IsCRC: m.IsCRC, CRC: m.CRC, Sig: m.Sig, DateNs: m.DateNs,
	}
}
