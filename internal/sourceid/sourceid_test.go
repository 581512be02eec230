package sourceid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/kv"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	env, err := kv.Open(t.TempDir(), kv.ReadWriteNew, nil)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return New(env, env.Table("source_id"))
}

func TestInsertAllocatesDenseIDsStartingAt1(t *testing.T) {
	m := newTestManager(t)
	var ch changes.Counters

	wasNew, id, err := m.Insert([]byte("file-a"), &ch)
	require.NoError(t, err)
	assert.True(t, wasNew)
	assert.Equal(t, uint64(1), id)

	wasNew, id, err = m.Insert([]byte("file-b"), &ch)
	require.NoError(t, err)
	assert.True(t, wasNew)
	assert.Equal(t, uint64(2), id)

	assert.Equal(t, uint64(2), ch.SourceIDInserted)
}

func TestInsertIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	var ch changes.Counters

	_, id1, err := m.Insert([]byte("file-a"), &ch)
	require.NoError(t, err)

	wasNew, id2, err := m.Insert([]byte("file-a"), &ch)
	require.NoError(t, err)
	assert.False(t, wasNew)
	assert.Equal(t, id1, id2)
	assert.Equal(t, uint64(1), ch.SourceIDInserted)
}

func TestFindReportsAbsent(t *testing.T) {
	m := newTestManager(t)
	found, _, err := m.Find([]byte("never inserted"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindMatchesInsert(t *testing.T) {
	m := newTestManager(t)
	var ch changes.Counters
	_, id, err := m.Insert([]byte("file-a"), &ch)
	require.NoError(t, err)

	found, gotID, err := m.Find([]byte("file-a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, gotID)
}
