package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bamsammich/forge/internal/ids"
)

// JobRecord is the persisted representation of a Job (spec.md §3 "Job").
type JobRecord struct {
	Id          ids.JobId
	NameId      ids.NameId
	RuleId      ids.RuleId
	Status      JobStatus
	RunStatus   RunStatus
	ExecTimeNs  int64
	Tokens1     int32
	ExecGen     uint32
	MatchGen    uint64
	DbDateNs    int64
	SeqId       int64
	Deps        []Dep
	StarTargets []TargetEntry
}

// EmplaceJob creates a job row for nameID bound to ruleID if one does not
// already exist, assigning it a fresh sequence id, or returns the
// existing job's id.
func (s *Store) EmplaceJob(nameID ids.NameId, ruleID ids.RuleId) (ids.JobId, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM jobs WHERE name_id = ?`, int64(nameID)).Scan(&id)
	if err == nil {
		return ids.JobId(id), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: emplace job: %w", err)
	}

	seq, err := s.NextSeqID()
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`INSERT INTO jobs (name_id, rule_id, seq_id) VALUES (?, ?, ?)`,
		int64(nameID), int64(ruleID), seq)
	if err != nil {
		return 0, fmt.Errorf("store: emplace job: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return ids.JobId(newID), nil
}

// GetJob reads a job's current persisted state, decompressing its dep and
// star-target vectors.
func (s *Store) GetJob(id ids.JobId) (JobRecord, error) {
	var r JobRecord
	var depsBlob, targetsBlob []byte
	err := s.db.QueryRow(`SELECT id, name_id, rule_id, status, run_status,
			exec_time_ns, tokens1, exec_gen, match_gen, db_date_ns, seq_id, deps, star_targets
		FROM jobs WHERE id = ?`, int64(id)).Scan(
		&r.Id, &r.NameId, &r.RuleId, &r.Status, &r.RunStatus,
		&r.ExecTimeNs, &r.Tokens1, &r.ExecGen, &r.MatchGen, &r.DbDateNs, &r.SeqId, &depsBlob, &targetsBlob,
	)
	if err != nil {
		return JobRecord{}, fmt.Errorf("store: get job %d: %w", id, err)
	}
	if len(depsBlob) > 0 {
		deps, err := DecodeDeps(depsBlob)
		if err != nil {
			return JobRecord{}, err
		}
		r.Deps = deps
	}
	if len(targetsBlob) > 0 {
		targets, err := DecodeTargets(targetsBlob)
		if err != nil {
			return JobRecord{}, err
		}
		r.StarTargets = targets
	}
	return r, nil
}

// PutJob writes back a job's mutable fields, recompressing deps/targets.
// Per the store contract, any previously-read index into deps/targets is
// invalid after this call — callers must re-read via GetJob.
func (s *Store) PutJob(r JobRecord) error {
	depsBlob := EncodeDeps(r.Deps)
	targetsBlob := EncodeTargets(r.StarTargets)
	_, err := s.db.Exec(`UPDATE jobs SET rule_id=?, status=?, run_status=?, exec_time_ns=?,
			tokens1=?, exec_gen=?, match_gen=?, db_date_ns=?, deps=?, star_targets=?
		WHERE id = ?`,
		int64(r.RuleId), r.Status, r.RunStatus, r.ExecTimeNs,
		r.Tokens1, r.ExecGen, r.MatchGen, r.DbDateNs, depsBlob, targetsBlob,
		int64(r.Id),
	)
	if err != nil {
		return fmt.Errorf("store: put job %d: %w", r.Id, err)
	}
	return nil
}

// Forget resets a job to its freshly-created state (spec.md §4.4.3
// "forget"): status back to New, deps shortened to static-only, exec_gen
// and star_targets cleared. staticDeps are the rule's static deps,
// converted by the caller.
func (s *Store) Forget(id ids.JobId, staticDeps []Dep) error {
	depsBlob := EncodeDeps(staticDeps)
	_, err := s.db.Exec(`UPDATE jobs SET status=?, run_status=?, exec_gen=0, deps=?, star_targets=NULL WHERE id = ?`,
		JobNew, RunComplete, depsBlob, int64(id))
	if err != nil {
		return fmt.Errorf("store: forget job %d: %w", id, err)
	}
	return nil
}

func (s *Store) SetFrozenJob(j ids.JobId, on bool) error { return s.setFlag("frozen_jobs", s.frozenJobs, int64(j), on) }
func (s *Store) IsFrozenJob(j ids.JobId) bool { s.mu.Lock(); defer s.mu.Unlock(); _, ok := s.frozenJobs[int64(j)]; return ok }

// GetRuleRow fetches a compiled rule's row (used by the store's own rule
// table; internal/rule owns the in-memory compiled form).
func (s *Store) GetRuleRow(id ids.RuleId) (name string, priority int, cmd string, shell bool, cmdGen, rsrcsGen uint32, err error) {
	err = s.db.QueryRow(`SELECT name, priority, cmd, shell, cmd_gen, rsrcs_gen FROM rules WHERE id = ?`, int64(id)).
		Scan(&name, &priority, &cmd, &shell, &cmdGen, &rsrcsGen)
	if err != nil {
		err = fmt.Errorf("store: get rule %d: %w", id, err)
	}
	return
}

// PutRule inserts or updates a rule row, bumping cmd_gen/rsrcs_gen when
// the command or resources actually changed (spec.md §3 "two exec
// generations").
func (s *Store) PutRule(name string, priority int, cmd string, shell bool, resourcesChanged bool) (ids.RuleId, error) {
	var id int64
	var oldCmd string
	var cmdGen, rsrcsGen uint32
	err := s.db.QueryRow(`SELECT id, cmd, cmd_gen, rsrcs_gen FROM rules WHERE name = ?`, name).Scan(&id, &oldCmd, &cmdGen, &rsrcsGen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.Exec(`INSERT INTO rules (name, priority, cmd, shell) VALUES (?, ?, ?, ?)`, name, priority, cmd, shell)
		if err != nil {
			return 0, fmt.Errorf("store: put rule %s: %w", name, err)
		}
		newID, err := res.LastInsertId()
		return ids.RuleId(newID), err
	case err != nil:
		return 0, fmt.Errorf("store: put rule %s: %w", name, err)
	}

	if cmd != oldCmd {
		cmdGen++
		rsrcsGen++
	} else if resourcesChanged {
		rsrcsGen++
	}
	_, err = s.db.Exec(`UPDATE rules SET priority=?, cmd=?, shell=?, cmd_gen=?, rsrcs_gen=? WHERE id=?`,
		priority, cmd, shell, cmdGen, rsrcsGen, id)
	if err != nil {
		return 0, fmt.Errorf("store: put rule %s: %w", name, err)
	}
	return ids.RuleId(id), nil
}
