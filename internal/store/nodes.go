package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bamsammich/forge/internal/ids"
)

// NodeRecord is the persisted representation of a Node (spec.md §3
// "Node"). job_tgts and rule_tgts are not persisted here: they are
// derived, cached in memory by the node engine, and only ever valid
// while MatchGen equals the current global generation, so persisting
// them would be immediately stale after any rule reconfiguration.
type NodeRecord struct {
	Id           ids.NodeId
	NameId       ids.NameId
	DirId        ids.NodeId // 0 if none
	ActualJob    ids.JobId  // 0 if none
	ActualTflags uint16
	CRC          CRC
	DateNs       int64
	Sig          Sig
	Buildable    Buildable
	ConformIdx   int32 // >=0 indexes job_tgts; negative is a sentinel (Src/SrcDir/Multi/None/Uphill/Transcient)
	MatchGen     uint64
}

// Sentinel values for ConformIdx when no job_tgts index applies.
const (
	ConformSrc        int32 = -1
	ConformSrcDir     int32 = -2
	ConformMulti      int32 = -3
	ConformNone       int32 = -4
	ConformUphill     int32 = -5
	ConformTranscient int32 = -6
)

// EmplaceNode creates a node row for nameID if one does not already
// exist, or returns the existing node's id. Per the store's ownership
// rule, nodes are created lazily on first reference and never freed
// except by a full invalidation sweep.
func (s *Store) EmplaceNode(nameID ids.NameId) (ids.NodeId, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM nodes WHERE name_id = ?`, int64(nameID)).Scan(&id)
	if err == nil {
		return ids.NodeId(id), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: emplace node: %w", err)
	}
	res, err := s.db.Exec(`INSERT INTO nodes (name_id, buildable, conform_idx) VALUES (?, ?, ?)`,
		int64(nameID), int(BuildableUnknown), ConformNone)
	if err != nil {
		return 0, fmt.Errorf("store: emplace node: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ids.NodeId(newID), nil
}

// GetNode reads a node's current persisted state.
func (s *Store) GetNode(id ids.NodeId) (NodeRecord, error) {
	var r NodeRecord
	var dirID, actualJob sql.NullInt64
	err := s.db.QueryRow(`SELECT id, name_id, dir_id, actual_job, actual_tflags,
			crc_kind, crc_value, date_ns, sig_dev, sig_ino, sig_mtime_ns,
			buildable, conform_idx, match_gen
		FROM nodes WHERE id = ?`, int64(id)).Scan(
		&r.Id, &r.NameId, &dirID, &actualJob, &r.ActualTflags,
		&r.CRC.Kind, crcScanner{&r.CRC.Digest}, &r.DateNs, &r.Sig.Dev, &r.Sig.Ino, &r.Sig.MtimeNs,
		&r.Buildable, &r.ConformIdx, &r.MatchGen,
	)
	if err != nil {
		return NodeRecord{}, fmt.Errorf("store: get node %d: %w", id, err)
	}
	if dirID.Valid {
		r.DirId = ids.NodeId(dirID.Int64)
	}
	if actualJob.Valid {
		r.ActualJob = ids.JobId(actualJob.Int64)
	}
	return r, nil
}

// crcScanner adapts a fixed-size digest array to database/sql.Scan.
type crcScanner struct{ dst *[32]byte }

func (c crcScanner) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok || b == nil {
		return nil
	}
	copy(c.dst[:], b)
	return nil
}

// PutNode writes back a node's mutable fields under the store's single-
// writer discipline. Refresh (CRC/date) is expected to be called with the
// caller already holding whatever higher-level lock the node engine uses
// to serialize concurrent refreshes of the same node (spec.md §4.5).
func (s *Store) PutNode(r NodeRecord) error {
	var dirID, actualJob any
	if r.DirId != 0 {
		dirID = int64(r.DirId)
	}
	if r.ActualJob != 0 {
		actualJob = int64(r.ActualJob)
	}
	_, err := s.db.Exec(`UPDATE nodes SET dir_id=?, actual_job=?, actual_tflags=?,
			crc_kind=?, crc_value=?, date_ns=?, sig_dev=?, sig_ino=?, sig_mtime_ns=?,
			buildable=?, conform_idx=?, match_gen=?
		WHERE id = ?`,
		dirID, actualJob, r.ActualTflags,
		r.CRC.Kind, r.CRC.Digest[:], r.DateNs, r.Sig.Dev, r.Sig.Ino, r.Sig.MtimeNs,
		r.Buildable, r.ConformIdx, r.MatchGen,
		int64(r.Id),
	)
	if err != nil {
		return fmt.Errorf("store: put node %d: %w", r.Id, err)
	}
	return nil
}

// setFlag toggles membership of id in one of the header sets, updating
// both the in-memory cache and the on-disk table (spec.md §4.1 contract).
func (s *Store) setFlag(table string, cache map[int64]struct{}, id int64, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		if _, err := s.db.Exec(fmt.Sprintf(`INSERT OR IGNORE INTO %s (id) VALUES (?)`, table), id); err != nil {
			return err
		}
		cache[id] = struct{}{}
	} else {
		if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
			return err
		}
		delete(cache, id)
	}
	return nil
}

func (s *Store) SetManualOk(n ids.NodeId, on bool) error { return s.setFlag("manual_ok_nodes", s.manualOkNodes, int64(n), on) }
func (s *Store) SetNoTrigger(n ids.NodeId, on bool) error { return s.setFlag("no_trigger_nodes", s.noTriggerNodes, int64(n), on) }
func (s *Store) SetFrozenNode(n ids.NodeId, on bool) error { return s.setFlag("frozen_nodes", s.frozenNodes, int64(n), on) }
func (s *Store) SetSrc(n ids.NodeId, on bool) error { return s.setFlag("src_nodes", s.srcNodes, int64(n), on) }
func (s *Store) SetSrcDir(n ids.NodeId, on bool) error { return s.setFlag("src_dir_nodes", s.srcDirNodes, int64(n), on) }

func (s *Store) IsManualOk(n ids.NodeId) bool  { s.mu.Lock(); defer s.mu.Unlock(); _, ok := s.manualOkNodes[int64(n)]; return ok }
func (s *Store) IsNoTrigger(n ids.NodeId) bool { s.mu.Lock(); defer s.mu.Unlock(); _, ok := s.noTriggerNodes[int64(n)]; return ok }
func (s *Store) IsFrozenNode(n ids.NodeId) bool { s.mu.Lock(); defer s.mu.Unlock(); _, ok := s.frozenNodes[int64(n)]; return ok }
func (s *Store) IsSrc(n ids.NodeId) bool { s.mu.Lock(); defer s.mu.Unlock(); _, ok := s.srcNodes[int64(n)]; return ok }
func (s *Store) IsSrcDir(n ids.NodeId) bool { s.mu.Lock(); defer s.mu.Unlock(); _, ok := s.srcDirNodes[int64(n)]; return ok }
