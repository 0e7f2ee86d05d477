package counter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counter.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadSeedsRandomCounterWhenAbsent(t *testing.T) {
	s := openTemp(t)
	v1, err := s.Load("advertiser")
	require.NoError(t, err)

	v2, err := s.Load("advertiser")
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "a second load must observe the committed seed, not re-seed")
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Commit("advertiser", 100))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Load("advertiser")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v, "reboot loads the committed counter (100)")
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Commit("advertiser", 5))
	require.NoError(t, s.Commit("scanner-7", 42))

	adv, err := s.Load("advertiser")
	require.NoError(t, err)
	sc, err := s.Load("scanner-7")
	require.NoError(t, err)

	assert.Equal(t, uint64(5), adv)
	assert.Equal(t, uint64(42), sc)
}
