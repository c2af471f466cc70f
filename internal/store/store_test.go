package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "forge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInternNameSharesPrefixes(t *testing.T) {
	s := openTestStore(t)

	a, err := s.InternName("src/main.go")
	require.NoError(t, err)
	b, err := s.InternName("src/util.go")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	path, err := s.NamePath(a)
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", path)

	// Interning the same path twice is idempotent.
	again, err := s.InternName("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestEmplaceNodeIdempotent(t *testing.T) {
	s := openTestStore(t)
	name, err := s.InternName("out")
	require.NoError(t, err)

	n1, err := s.EmplaceNode(name)
	require.NoError(t, err)
	n2, err := s.EmplaceNode(name)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestNodeFlagSetsPersist(t *testing.T) {
	s := openTestStore(t)
	name, err := s.InternName("src/generated.go")
	require.NoError(t, err)
	n, err := s.EmplaceNode(name)
	require.NoError(t, err)

	require.NoError(t, s.SetManualOk(n, true))
	assert.True(t, s.IsManualOk(n))

	require.NoError(t, s.SetManualOk(n, false))
	assert.False(t, s.IsManualOk(n))
}

func TestVersionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE meta SET value = '999' WHERE key = 'version'`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestPutGetJobRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ruleID, err := s.PutRule("compile", 10, "cc -c $in -o $out", false, false)
	require.NoError(t, err)

	name, err := s.InternName("out.o<rule=compile>")
	require.NoError(t, err)
	jobID, err := s.EmplaceJob(name, ruleID)
	require.NoError(t, err)

	rec, err := s.GetJob(jobID)
	require.NoError(t, err)
	rec.Status = JobOk
	rec.RunStatus = RunComplete
	rec.StarTargets = []TargetEntry{{Node: 42, Flags: 1}}

	require.NoError(t, s.PutJob(rec))

	reread, err := s.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobOk, reread.Status)
	assert.Equal(t, []TargetEntry{{Node: 42, Flags: 1}}, reread.StarTargets)
}
