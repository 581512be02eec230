package hashdb

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/hashdb/internal/sourcedata"
)

// TestS7FindExpandedHash reproduces spec §8's S7 scenario: after a
// Type-1 -> Type-2 promotion (source 1 at offset 512, source 2 at offset
// 1024), find_expanded_hash's id_offset_pairs is [1,512,2,1024] and its
// source_list_id is CRC32 over LE64(1) || LE64(2).
func TestS7FindExpandedHash(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{MaxSubCount: 2, MaxIDOffsetPairs: 2})
	require.True(t, ok, reason)

	imp, err := OpenImportSession(dir, "test", OpenOptions{})
	require.NoError(t, err)

	h := []byte("0000000000000000000000000000000000000000000000000000000000")
	_, err = imp.InsertHash(h, 1.0, "l", 1, 512)
	require.NoError(t, err)
	_, err = imp.InsertHash(h, 1.0, "l", 2, 1024)
	require.NoError(t, err)
	require.NoError(t, imp.Close())

	scan, err := OpenScanSession(dir, OpenOptions{})
	require.NoError(t, err)
	defer scan.Close()

	out, err := scan.FindExpandedHash(h)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var doc []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc, 3)

	var listIDObj struct {
		SourceListID uint32 `json:"source_list_id"`
	}
	require.NoError(t, json.Unmarshal(doc[0], &listIDObj))

	var pairsObj struct {
		IDOffsetPairs []uint64 `json:"id_offset_pairs"`
	}
	require.NoError(t, json.Unmarshal(doc[2], &pairsObj))
	assert.Equal(t, []uint64{1, 512, 2, 1024}, pairsObj.IDOffsetPairs)

	expected := make([]byte, 16)
	binary.LittleEndian.PutUint64(expected[0:8], 1)
	binary.LittleEndian.PutUint64(expected[8:16], 2)
	assert.Equal(t, crc32.ChecksumIEEE(expected), listIDObj.SourceListID)
}

func TestFindExpandedHashMemoizesRepeatedCalls(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{})
	require.True(t, ok, reason)

	imp, err := OpenImportSession(dir, "test", OpenOptions{})
	require.NoError(t, err)
	h := []byte("1111111111111111111111111111111111111111111111111111111111")
	_, err = imp.InsertHash(h, 1.0, "l", 1, 512)
	require.NoError(t, err)
	require.NoError(t, imp.Close())

	scan, err := OpenScanSession(dir, OpenOptions{})
	require.NoError(t, err)
	defer scan.Close()

	first, err := scan.FindExpandedHash(h)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := scan.FindExpandedHash(h)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestFindExpandedHashIncludesSourceMetadataAndNames(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{})
	require.True(t, ok, reason)

	imp, err := OpenImportSession(dir, "test", OpenOptions{})
	require.NoError(t, err)
	fileHash := []byte("source-file")
	_, sourceID, err := imp.InsertSourceID(fileHash)
	require.NoError(t, err)
	_, err = imp.InsertSourceData(sourcedata.Record{SourceID: sourceID, FileHash: fileHash, Filesize: 10, FileType: "text/plain"})
	require.NoError(t, err)
	_, err = imp.InsertSourceName(sourceID, "repo", "name.txt")
	require.NoError(t, err)

	h := []byte("2222222222222222222222222222222222222222222222222222222222")
	_, err = imp.InsertHash(h, 1.0, "l", sourceID, 512)
	require.NoError(t, err)
	require.NoError(t, imp.Close())

	scan, err := OpenScanSession(dir, OpenOptions{})
	require.NoError(t, err)
	defer scan.Close()

	out, err := scan.FindExpandedHash(h)
	require.NoError(t, err)

	var doc []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	var sourcesObj struct {
		Sources []expandedSource `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(doc[1], &sourcesObj))
	require.Len(t, sourcesObj.Sources, 1)
	assert.Equal(t, "text/plain", sourcesObj.Sources[0].FileType)
	require.Len(t, sourcesObj.Sources[0].Names, 1)
	assert.Equal(t, "name.txt", sourcesObj.Sources[0].Names[0].Filename)
}
