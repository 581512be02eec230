package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/hashdb/pkg/kv"
)

func TestInsertThenMaybeContains(t *testing.T) {
	f := New(16)
	h := []byte("some content hash")

	assert.False(t, f.MaybeContains(h))
	f.Insert(h)
	assert.True(t, f.MaybeContains(h))
}

func TestSoundnessAcrossManyHashes(t *testing.T) {
	f := New(16)
	inserted := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		h := []byte{byte(i), byte(i >> 8), 0xAA, 0xBB, byte(i * 7)}
		f.Insert(h)
		inserted = append(inserted, h)
	}
	for _, h := range inserted {
		assert.True(t, f.MaybeContains(h))
	}
}

func TestFlushOnlyWritesWhenDirty(t *testing.T) {
	env, err := kv.Open(t.TempDir(), kv.ReadWriteNew, nil)
	require.NoError(t, err)
	defer env.Close()
	table := env.Table("hash_filter")

	f := New(16)
	require.NoError(t, f.Flush(table))
	_, found, err := table.Get(blobKey)
	require.NoError(t, err)
	assert.False(t, found, "flush with no inserts should not write")

	f.Insert([]byte("x"))
	require.NoError(t, f.Flush(table))
	_, found, err = table.Get(blobKey)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestLoadRoundTrip(t *testing.T) {
	env, err := kv.Open(t.TempDir(), kv.ReadWriteNew, nil)
	require.NoError(t, err)
	defer env.Close()
	table := env.Table("hash_filter")

	f := New(16)
	f.Insert([]byte("persisted"))
	require.NoError(t, f.Flush(table))

	loaded, err := Load(table, 16)
	require.NoError(t, err)
	assert.True(t, loaded.MaybeContains([]byte("persisted")))
}
