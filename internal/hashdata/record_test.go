package hashdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceEntryRoundTrip(t *testing.T) {
	se := SourceEntry{SourceID: 42, SubCount: 5, FileOffsets: []uint64{512, 1024, 1536}}
	buf := encodeSourceEntry(nil, se, 512)
	got, n, err := decodeSourceEntry(buf, 512)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, se, got)
}

func TestType1RoundTrip(t *testing.T) {
	se := SourceEntry{SourceID: 1, SubCount: 3, FileOffsets: []uint64{512}}
	buf := encodeType1(1.5, "label", se, 512)
	rec, err := decodeType1(buf, 512)
	require.NoError(t, err)
	assert.Equal(t, 1.5, rec.Entropy)
	assert.Equal(t, "label", rec.BlockLabel)
	assert.Equal(t, uint64(3), rec.Count)
	assert.Equal(t, []SourceEntry{se}, rec.Sources)
}

func TestType2RoundTrip(t *testing.T) {
	first := SourceEntry{SourceID: 1, SubCount: 1, FileOffsets: []uint64{512}}
	hdr := type2Header{Entropy: 0.5, BlockLabel: "x", Count: 2, NSources: 2}
	buf := encodeType2(hdr, first, 512)
	gotHdr, gotFirst, err := decodeType2(buf, 512)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, first, gotFirst)
}

func TestOffsetAddRespectsCapAndDedup(t *testing.T) {
	se := SourceEntry{}
	assert.True(t, se.addOffset(512, 2))
	assert.True(t, se.addOffset(256, 2))
	assert.False(t, se.addOffset(256, 2), "duplicate must not be re-added")
	assert.False(t, se.addOffset(1024, 2), "cap of 2 already reached")
	assert.Equal(t, []uint64{256, 512}, se.FileOffsets)
}

func TestContinuationKeyIsLongerThanPrimaryKey(t *testing.T) {
	hash := []byte("0123456789abcdef")
	key := continuationKey(hash, 7)
	assert.Len(t, key, len(hash)+8)
	assert.Equal(t, hash, key[:len(hash)])
}

// TestContinuationKeysSortBySourceID documents why the suffix is fixed
// width, big-endian: two continuation keys for the same hash must sort in
// ascending source_id order.
func TestContinuationKeysSortBySourceID(t *testing.T) {
	hash := []byte("0123456789abcdef")
	low := continuationKey(hash, 1)
	high := continuationKey(hash, 300)
	assert.Less(t, string(low), string(high))
}
