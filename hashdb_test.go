package hashdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/hashdb/internal/sourcedata"
)

func TestCreateRefusesExistingDirectory(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{})
	require.True(t, ok, reason)

	ok, reason = Create(dir, CreateOptions{})
	assert.False(t, ok)
	assert.Contains(t, reason, "already exists")
}

func TestIsValidAfterCreate(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{})
	require.True(t, ok, reason)

	ok, reason = IsValid(dir)
	assert.True(t, ok, reason)
}

func TestIsValidOnMissingDirectory(t *testing.T) {
	ok, reason := IsValid(t.TempDir() + "/does-not-exist")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestReadSettingsReflectsCreateOptions(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{SectorSize: 4096, MaxSubCount: 10})
	require.True(t, ok, reason)

	s, ok, reason := ReadSettings(dir)
	require.True(t, ok, reason)
	assert.Equal(t, uint32(4096), s.SectorSize)
	assert.Equal(t, uint32(10), s.MaxSubCount)
}

func TestImportThenScanRoundTrip(t *testing.T) {
	dir := t.TempDir() + "/db"
	ok, reason := Create(dir, CreateOptions{})
	require.True(t, ok, reason)

	imp, err := OpenImportSession(dir, "test_import", OpenOptions{})
	require.NoError(t, err)

	fileHash := []byte("source-file-hash")
	_, sourceID, err := imp.InsertSourceID(fileHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sourceID)

	_, err = imp.InsertSourceData(sourcedata.Record{
		SourceID: sourceID,
		FileHash: fileHash,
		Filesize: 4096,
		FileType: "application/octet-stream",
	})
	require.NoError(t, err)

	_, err = imp.InsertSourceName(sourceID, "repo", "file.bin")
	require.NoError(t, err)

	contentHash := []byte("0000000000000000000000000000000000000000000000000000000000")
	newCount, err := imp.InsertHash(contentHash, 3.2, "high-entropy", sourceID, 512)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), newCount)

	require.NoError(t, imp.Close())

	scan, err := OpenScanSession(dir, OpenOptions{})
	require.NoError(t, err)
	defer scan.Close()

	rec, found, err := scan.FindHash(contentHash)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, rec.Sources, 1)
	assert.Equal(t, sourceID, rec.Sources[0].SourceID)
	assert.Contains(t, rec.Sources[0].FileOffsets, uint64(512))

	found, gotID, err := scan.FindSourceID(fileHash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sourceID, gotID)

	sd, err := scan.FindSourceData(sourceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), sd.Filesize)

	names, err := scan.FindSourceNames(sourceID)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "file.bin", names[0].Filename)
}

func TestOpenImportSessionOnMissingDatabase(t *testing.T) {
	_, err := OpenImportSession(t.TempDir()+"/nope", "x", OpenOptions{})
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
}
