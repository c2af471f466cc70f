package nodeengine

import (
	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/store"
)

// UpToDate compares a recorded dep digest against the node's current
// content. full=true widens the comparison to every access kind (Stat,
// Lnk and Reg), not just the ones recorded in dd.Accesses — spec.md §8
// invariant 5:
//
//	up_to_date(dd, full=true)  ⇔ crc.match(dd.crc, all_accesses)
//	up_to_date(dd, full=false) ⇔ crc.match(dd.crc, dd.accesses)
//
// A Stat access invalidates whenever the inode identity changes; a Lnk
// access only when the link content changes; a Reg access needs an actual
// content-digest comparison (spec.md §4.5).
func (e *Engine) UpToDate(node ids.NodeId, dd store.Dep, full bool) (bool, error) {
	rec, err := e.Store.GetNode(node)
	if err != nil {
		return false, err
	}

	accesses := dd.Accesses
	if full {
		accesses |= store.AccessStat | store.AccessLnk | store.AccessReg
	}

	if accesses.Has(store.AccessStat) {
		if rec.Sig != dd.Sig {
			return false, nil
		}
	}
	if accesses.Has(store.AccessLnk) {
		if rec.CRC.Kind != store.CRCLink || rec.CRC.Digest != dd.CRC.Digest {
			return false, nil
		}
	}
	if accesses.Has(store.AccessReg) {
		if !rec.CRC.Match(dd.CRC) {
			return false, nil
		}
	}
	return true, nil
}
