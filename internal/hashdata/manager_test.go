package hashdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/hashdb/internal/filter"
	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/kv"
)

func newTestManager(t *testing.T, caps Caps) *Manager {
	t.Helper()
	env, err := kv.Open(t.TempDir(), kv.ReadWriteNew, nil)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	f := filter.New(16)
	return New(env, env.Table("hash_data"), f, caps, nil)
}

// scenarioCaps mirrors spec §8's concrete scenarios: sector_size=512,
// max_sub_count=2, max_id_offset_pairs=2.
func scenarioCaps() Caps {
	return Caps{SectorSize: 512, MaxSubCount: 2, MaxIDOffsetPairs: 2}
}

var h = []byte("0000000000000000000000000000000000000000000000000000000000")

// TestS1FirstInsert covers S1: a fresh hash gets a single SourceEntry.
func TestS1FirstInsert(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters

	newCount, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), newCount)

	count, found, err := m.FindCount(h)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), count)

	rec, found, err := m.Find(h)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, rec.Sources, 1)
	assert.Equal(t, uint64(1), rec.Sources[0].SourceID)
	assert.Equal(t, uint64(1), rec.Sources[0].SubCount)
	assert.Equal(t, []uint64{512}, rec.Sources[0].FileOffsets)
}

// TestS2DuplicateOffset covers S2: reinserting the same offset bumps
// sub_count and duplicate_offset_detected, but not the offset set.
func TestS2DuplicateOffset(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters

	_, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)
	newCount, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), newCount)
	assert.Equal(t, uint64(1), ch.DuplicateOffsetDetected)

	rec, _, err := m.Find(h)
	require.NoError(t, err)
	assert.Equal(t, []uint64{512}, rec.Sources[0].FileOffsets)
}

// TestS3EntropyChange covers S3: a changed (entropy, label) pair for the
// same source overwrites the stored header and bumps data_changed.
func TestS3EntropyChange(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters
	_, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)

	_, err = m.Insert(h, 2.0, "label", 1, 512, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ch.DataChanged)

	rec, _, err := m.Find(h)
	require.NoError(t, err)
	assert.Equal(t, 2.0, rec.Entropy)
}

// TestS4PromotionToType2 covers S4: a second, distinct source promotes
// the record and yields two ascending SourceEntries.
func TestS4PromotionToType2(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters
	_, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)

	newCount, err := m.Insert(h, 1.0, "label", 2, 1024, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newCount)

	rec, _, err := m.Find(h)
	require.NoError(t, err)
	require.Len(t, rec.Sources, 2)
	assert.Equal(t, uint64(1), rec.Sources[0].SourceID)
	assert.Equal(t, uint64(2), rec.Sources[1].SourceID)
	assert.Equal(t, uint64(2), rec.Count)
}

// TestS5OverCapSourceRejected covers S5: once max_id_offset_pairs sources
// are recorded, a further distinct source still grows count but is not
// itself stored, and source_inserted does not count it.
func TestS5OverCapSourceRejected(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters
	_, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)
	_, err = m.Insert(h, 1.0, "label", 2, 1024, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ch.SourceInserted)

	newCount, err := m.Insert(h, 1.0, "label", 3, 1536, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), newCount)
	assert.Equal(t, uint64(2), ch.SourceInserted, "source_inserted must not count the rejected third source")

	rec, _, err := m.Find(h)
	require.NoError(t, err)
	assert.Len(t, rec.Sources, 2)
}

// TestS6MisalignedOffset covers S6: a misaligned offset is a no-op that
// returns 0 and leaves no trace.
func TestS6MisalignedOffset(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters

	newCount, err := m.Insert(h, 1.0, "label", 1, 513, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), newCount)

	_, found, err := m.FindCount(h)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEmptyHashIsANoop(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters
	newCount, err := m.Insert(nil, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), newCount)
}

func TestMaxSubCountDropsOffsetsButKeepsSubCount(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters
	_, err := m.Insert(h, 1.0, "label", 1, 512, &ch)
	require.NoError(t, err)
	_, err = m.Insert(h, 1.0, "label", 1, 1024, &ch)
	require.NoError(t, err)
	// max_sub_count=2 already reached; a third distinct offset is dropped.
	newCount, err := m.Insert(h, 1.0, "label", 1, 1536, &ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), newCount)

	rec, _, err := m.Find(h)
	require.NoError(t, err)
	assert.Len(t, rec.Sources[0].FileOffsets, 2)
}

func TestFirstAndNextHash(t *testing.T) {
	m := newTestManager(t, scenarioCaps())
	var ch changes.Counters
	h1 := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	h2 := []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	_, err := m.Insert(h1, 1.0, "l", 1, 512, &ch)
	require.NoError(t, err)
	_, err = m.Insert(h2, 1.0, "l", 2, 1024, &ch)
	require.NoError(t, err)

	first, ok := m.First()
	require.True(t, ok)
	assert.Equal(t, h1, first)

	next, ok := m.Next(first)
	require.True(t, ok)
	assert.Equal(t, h2, next)

	_, ok = m.Next(next)
	assert.False(t, ok)
}
