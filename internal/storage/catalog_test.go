package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) (*PebbleCatalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog")
	c, err := OpenCatalog(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, path
}

func collect(t *testing.T, c *PebbleCatalog, prefix string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, c.Iterate([]byte(prefix), func(key, value []byte) bool {
		out[string(key)] = string(value)
		return true
	}))
	return out
}

func TestCommitAdvancesAppliedIndex(t *testing.T) {
	c, _ := openTestCatalog(t)

	index, err := c.AppliedIndex()
	require.NoError(t, err)
	assert.Zero(t, index)

	require.NoError(t, c.Commit(BatchOperations{Puts: map[string][]byte{"c/docs": []byte("1")}}, 5))
	index, err = c.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), index)

	require.NoError(t, c.Commit(BatchOperations{Deletes: []string{"c/docs"}}, 6))
	assert.Empty(t, collect(t, c, "c/"))
}

func TestIterateStaysWithinPrefix(t *testing.T) {
	c, _ := openTestCatalog(t)
	require.NoError(t, c.Commit(BatchOperations{Puts: map[string][]byte{
		"a/x":    []byte("docs"),
		"c/docs": []byte("{}"),
		"c/news": []byte("{}"),
		"t/docs": []byte("{}"),
	}}, 1))

	assert.Equal(t, map[string]string{"c/docs": "{}", "c/news": "{}"}, collect(t, c, "c/"))
	assert.Len(t, collect(t, c, ""), 5, "records plus the applied index")
}

func TestReplaceDropsOldRecords(t *testing.T) {
	c, _ := openTestCatalog(t)
	require.NoError(t, c.Commit(BatchOperations{Puts: map[string][]byte{
		"c/old": []byte("{}"),
		"a/old": []byte("old"),
	}}, 10))

	require.NoError(t, c.Replace(BatchOperations{Puts: map[string][]byte{"c/new": []byte("{}")}}, 4))

	assert.Equal(t, map[string]string{"c/new": "{}"}, collect(t, c, "c/"))
	assert.Empty(t, collect(t, c, "a/"))
	index, err := c.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), index)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	c, path := openTestCatalog(t)
	require.NoError(t, c.Commit(BatchOperations{Puts: map[string][]byte{"m/nop": []byte("x")}}, 3))
	require.NoError(t, c.Close())

	reopened, err := OpenCatalog(path)
	require.NoError(t, err)
	defer reopened.Close()

	index, err := reopened.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), index)
	assert.Equal(t, map[string]string{"m/nop": "x"}, collect(t, reopened, "m/"))
}

func TestClosedCatalog(t *testing.T) {
	c, _ := openTestCatalog(t)
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Commit(BatchOperations{}, 1), ErrClosed)
	_, err := c.AppliedIndex()
	require.ErrorIs(t, err, ErrClosed)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("c0"), prefixEnd([]byte("c/")))
	assert.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff}))
	assert.Nil(t, prefixEnd(nil))
}

func TestRaftStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft", "raft.db")
	store, err := NewRaftStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetUint64([]byte("CurrentTerm"), 7))
	term, err := store.GetUint64([]byte("CurrentTerm"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), term)

	size, err := store.SizeBytes()
	require.NoError(t, err)
	assert.Positive(t, size)
}
