package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bamsammich/forge/internal/ids"
)

// SuffixSep is the reserved non-printable sentinel that separates a job
// name's user-visible prefix from its per-rule suffix (rule index + stem
// positions), so that node names and job names sharing a common prefix
// share trie storage (spec.md §3 "Name trie").
const SuffixSep = byte(0x01)

// InternName inserts path into the shared prefix trie, returning its id.
// Nodes and jobs are never freed independently of a full invalidation
// sweep, so repeated calls with the same path are idempotent and cheap
// (a single indexed lookup per byte level, memoized by the UNIQUE
// (parent_id, byte) constraint).
func (s *Store) InternName(path string) (ids.NameId, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: intern %q: %w", path, err)
	}
	defer tx.Rollback()

	var parent int64
	for i := 0; i < len(path); i++ {
		b := path[i]
		id, err := internStep(tx, parent, b)
		if err != nil {
			return 0, fmt.Errorf("store: intern %q: %w", path, err)
		}
		parent = id
	}
	if _, err := tx.Exec(`UPDATE names SET terminal = 1 WHERE id = ?`, parent); err != nil {
		return 0, fmt.Errorf("store: mark terminal %q: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: intern %q: %w", path, err)
	}
	return ids.NameId(parent), nil
}

func internStep(tx *sql.Tx, parent int64, b byte) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM names WHERE parent_id = ? AND byte = ?`, parent, int(b)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO names (parent_id, byte) VALUES (?, ?)`, parent, int(b))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// NamePath reconstructs the full path for a NameId by walking parent
// links back to the root, then reversing.
func (s *Store) NamePath(id ids.NameId) (string, error) {
	buf := make([]byte, 0, 64)
	cur := int64(id)
	for cur != 0 {
		var b, parent int64
		err := s.db.QueryRow(`SELECT byte, parent_id FROM names WHERE id = ?`, cur).Scan(&b, &parent)
		if err != nil {
			return "", fmt.Errorf("store: resolve name %d: %w", id, err)
		}
		buf = append(buf, byte(b))
		cur = parent
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

// LookupName returns the NameId for path if it has already been interned,
// without creating it.
func (s *Store) LookupName(path string) (ids.NameId, bool, error) {
	var parent int64
	for i := 0; i < len(path); i++ {
		var id int64
		err := s.db.QueryRow(`SELECT id FROM names WHERE parent_id = ? AND byte = ?`, parent, int(path[i])).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("store: lookup %q: %w", path, err)
		}
		parent = id
	}
	return ids.NameId(parent), true, nil
}
