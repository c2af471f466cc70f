// Package store implements the persistent, versioned graph database: jobs,
// nodes, rules, the shared name trie, and the compressed dep/target
// vectors that back them. On disk this is a single embedded, pure-Go
// SQLite database (github.com/bamsammich/forge uses modernc.org/sqlite,
// grounded on engine.CheckpointDB) rather than hand-rolled mmap
// files — SQLite's own page format and our meta-table version row give
// the same "typed, versioned files that refuse to open on mismatch"
// contract spec.md §4.1 calls for, without reimplementing a slotted
// allocator by hand.
//
// The store is not a transactional database in spec.md's sense: updates
// that touch more than one table (e.g. replacing a job's dep vector) are
// wrapped in a single SQL transaction only to keep that one call atomic
// with respect to a crash; there is no cross-call transaction spanning
// multiple store operations. Concurrency across goroutines is the
// caller's responsibility (see internal/jobengine, which funnels all
// mutation through one engine goroutine).
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// StoreVersion is the on-disk schema version. Every store.db file created
// by this package starts with a meta row set to this value; opening a
// database whose value differs is a structural error distinct from
// corruption (spec.md §4.1 Failure / §6 "shared version marker").
const StoreVersion = 1

// ErrVersionMismatch is returned by Open when an existing database was
// created by an incompatible schema version and must be rebuilt.
var ErrVersionMismatch = errors.New("store: incompatible schema version, rebuild required")

// Store is the top-level handle onto the persistent graph database.
type Store struct {
	db *sql.DB

	mu sync.Mutex // guards the in-memory header caches below

	// In-memory copies of the header sets that live in the store; every
	// mutation of these must also update the on-disk row before this
	// struct is considered consistent (spec.md §4.1 "Frozen/manual-ok/
	// no-trigger sets").
	frozenJobs   map[int64]struct{}
	manualOkNodes map[int64]struct{}
	noTriggerNodes map[int64]struct{}
	frozenNodes  map[int64]struct{}
	srcNodes     map[int64]struct{}
	srcDirNodes  map[int64]struct{}

	seqID int64 // monotonic job creation counter, persisted in the jobs header
}

// Open opens (creating if absent) the store database at path. If the
// database already exists with an incompatible version, Open returns
// ErrVersionMismatch without attempting any repair.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{
		db:             db,
		frozenJobs:     map[int64]struct{}{},
		manualOkNodes:  map[int64]struct{}{},
		noTriggerNodes: map[int64]struct{}{},
		frozenNodes:    map[int64]struct{}{},
		srcNodes:       map[int64]struct{}{},
		srcDirNodes:    map[int64]struct{}{},
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadHeaders(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}

	var version int
	row := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`)
	switch err := row.Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('version', ?)`, StoreVersion)
		if err != nil {
			return fmt.Errorf("store: write version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("store: read version: %w", err)
	case version != StoreVersion:
		return ErrVersionMismatch
	}
	return nil
}

func (s *Store) loadHeaders() error {
	row := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'seq_id'`)
	var seq int64
	if err := row.Scan(&seq); err == nil {
		s.seqID = seq
	}

	load := func(table string, dst map[int64]struct{}) error {
		rows, err := s.db.Query(fmt.Sprintf(`SELECT id FROM %s WHERE flagged = 1`, table))
		if err != nil {
			return fmt.Errorf("store: load %s header: %w", table, err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			dst[id] = struct{}{}
		}
		return rows.Err()
	}
	// Header sets are tracked via dedicated flag tables rather than a
	// wide boolean column per concern, so that adding a new override
	// class never requires a nodes/jobs table migration.
	for _, hdr := range []struct {
		table string
		dst   map[int64]struct{}
	}{
		{"frozen_jobs", s.frozenJobs},
		{"manual_ok_nodes", s.manualOkNodes},
		{"no_trigger_nodes", s.noTriggerNodes},
		{"frozen_nodes", s.frozenNodes},
		{"src_nodes", s.srcNodes},
		{"src_dir_nodes", s.srcDirNodes},
	} {
		if err := load(hdr.table, hdr.dst); err != nil {
			return err
		}
	}
	return nil
}

// NextSeqID returns a fresh, persisted, monotonically increasing job
// sequence id (spec.md §4.1 "job file header carries the global seq_id").
func (s *Store) NextSeqID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqID++
	_, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('seq_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.seqID)
	if err != nil {
		s.seqID--
		return 0, fmt.Errorf("store: persist seq_id: %w", err)
	}
	return s.seqID, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw database handle. It is exported, so code outside
// package store can reach it; the index-invalidation rules (spec.md "old
// index becomes invalid after emplace/pop/assign/append/shorten_by") are
// enforced only by the typed accessors, not on this handle.
func (s *Store) DB() *sql.DB { return s.db }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS names (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER NOT NULL DEFAULT 0,
	byte      INTEGER NOT NULL,
	terminal  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(parent_id, byte)
);

CREATE TABLE IF NOT EXISTS rules (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT UNIQUE NOT NULL,
	priority    INTEGER NOT NULL,
	cmd         TEXT NOT NULL,
	shell       INTEGER NOT NULL DEFAULT 0,
	cmd_gen     INTEGER NOT NULL DEFAULT 1,
	rsrcs_gen   INTEGER NOT NULL DEFAULT 1,
	data        BLOB
);

CREATE TABLE IF NOT EXISTS nodes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name_id      INTEGER NOT NULL UNIQUE,
	dir_id       INTEGER,
	actual_job   INTEGER,
	actual_tflags INTEGER NOT NULL DEFAULT 0,
	crc_kind     INTEGER NOT NULL DEFAULT 0,
	crc_value    BLOB,
	date_ns      INTEGER NOT NULL DEFAULT 0,
	sig_dev      INTEGER NOT NULL DEFAULT 0,
	sig_ino      INTEGER NOT NULL DEFAULT 0,
	sig_mtime_ns INTEGER NOT NULL DEFAULT 0,
	buildable    INTEGER NOT NULL DEFAULT 0,
	conform_idx  INTEGER NOT NULL DEFAULT -1,
	match_gen    INTEGER NOT NULL DEFAULT 0,
	flagged      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jobs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name_id     INTEGER NOT NULL UNIQUE,
	rule_id     INTEGER NOT NULL,
	status      INTEGER NOT NULL DEFAULT 0,
	run_status  INTEGER NOT NULL DEFAULT 0,
	exec_time_ns INTEGER NOT NULL DEFAULT 0,
	tokens1     INTEGER NOT NULL DEFAULT 0,
	exec_gen    INTEGER NOT NULL DEFAULT 0,
	match_gen   INTEGER NOT NULL DEFAULT 0,
	db_date_ns  INTEGER NOT NULL DEFAULT 0,
	seq_id      INTEGER NOT NULL DEFAULT 0,
	deps        BLOB,
	star_targets BLOB,
	flagged     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS frozen_jobs      (id INTEGER PRIMARY KEY, flagged INTEGER NOT NULL DEFAULT 1);
CREATE TABLE IF NOT EXISTS manual_ok_nodes  (id INTEGER PRIMARY KEY, flagged INTEGER NOT NULL DEFAULT 1);
CREATE TABLE IF NOT EXISTS no_trigger_nodes (id INTEGER PRIMARY KEY, flagged INTEGER NOT NULL DEFAULT 1);
CREATE TABLE IF NOT EXISTS frozen_nodes     (id INTEGER PRIMARY KEY, flagged INTEGER NOT NULL DEFAULT 1);
CREATE TABLE IF NOT EXISTS src_nodes        (id INTEGER PRIMARY KEY, flagged INTEGER NOT NULL DEFAULT 1);
CREATE TABLE IF NOT EXISTS src_dir_nodes    (id INTEGER PRIMARY KEY, flagged INTEGER NOT NULL DEFAULT 1);
`
