package hashdb

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/hashdb/internal/hashdata"
	"github.com/i5heu/hashdb/internal/sourcedata"
	"github.com/i5heu/hashdb/internal/sourcename"
	"github.com/i5heu/hashdb/pkg/kv"
)

// ScanSession is the read-only query handle (spec §4.J / §6): a database
// opened RO, so it may run concurrently with at most one writer's
// ImportSession thanks to the KV layer's MVCC snapshots.
type ScanSession struct {
	env *env

	mu       sync.Mutex
	seenHash map[string]struct{}
	seenSrc  map[uint64]struct{}

	closed bool
}

// OpenScanSession opens dir read-only.
func OpenScanSession(dir string, opts OpenOptions) (*ScanSession, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	e, err := openEnv(dir, kv.ReadOnly, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &ScanSession{
		env:      e,
		seenHash: make(map[string]struct{}),
		seenSrc:  make(map[uint64]struct{}),
	}, nil
}

// Close closes the environment. Safe to call once; a repeat call is a
// no-op.
func (s *ScanSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.env.close()
}

// FindHash is find_hash: the full decoded record for hash.
func (s *ScanSession) FindHash(hash []byte) (rec hashdata.Record, found bool, err error) {
	rec, found, err = s.env.hashData.Find(hash)
	return rec, found, wrapCorruption(err)
}

// FindCount is find_count: the aggregate occurrence count for hash.
func (s *ScanSession) FindCount(hash []byte) (count uint64, found bool, err error) {
	count, found, err = s.env.hashData.FindCount(hash)
	return count, found, wrapCorruption(err)
}

// FindSourceData is find_source_data.
func (s *ScanSession) FindSourceData(sourceID uint64) (sourcedata.Record, error) {
	return s.env.sourceData.Find(sourceID)
}

// FindSourceNames is find_source_names.
func (s *ScanSession) FindSourceNames(sourceID uint64) ([]sourcename.NamePair, error) {
	return s.env.sourceName.Find(sourceID)
}

// FindSourceID is find_source_id: the source id assigned to fileHash, if
// any.
func (s *ScanSession) FindSourceID(fileHash []byte) (found bool, sourceID uint64, err error) {
	return s.env.sourceID.Find(fileHash)
}

// HashBegin is hash_begin: the smallest hash present, if any.
func (s *ScanSession) HashBegin() (hash []byte, ok bool) {
	return s.env.hashData.First()
}

// HashNext is hash_next: the next hash after prev, if any.
func (s *ScanSession) HashNext(prev []byte) (hash []byte, ok bool) {
	return s.env.hashData.Next(prev)
}

// SourceBegin is source_begin: the smallest source id present, if any.
func (s *ScanSession) SourceBegin() (sourceID uint64, ok bool) {
	return s.env.sourceData.First()
}

// SourceNext is source_next: the next source id after prev, if any.
func (s *ScanSession) SourceNext(prev uint64) (sourceID uint64, ok bool) {
	return s.env.sourceData.Next(prev)
}

// Sizes is sizes(): the approximate on-disk footprint of the whole
// environment as (lsmBytes, valueLogBytes), the same figure §4.A's
// per-table size() generalizes to when every table shares one Badger
// environment.
func (s *ScanSession) Sizes() (lsmBytes, valueLogBytes int64) {
	return s.env.kv.Size()
}

// Size is size(): the total on-disk footprint in bytes.
func (s *ScanSession) Size() int64 {
	lsm, vlog := s.env.kv.Size()
	return lsm + vlog
}

// expandedSource is one entry of find_expanded_hash's "sources" array.
type expandedSource struct {
	SourceID        uint64                   `json:"source_id"`
	FileHash        string                   `json:"file_hash"`
	Filesize        uint64                   `json:"filesize"`
	FileType        string                   `json:"file_type"`
	LowEntropyCount uint64                   `json:"low_entropy_count"`
	Names           []expandedSourceNamePair `json:"names"`
}

type expandedSourceNamePair struct {
	RepositoryName string `json:"repository_name"`
	Filename       string `json:"filename"`
}

// FindExpandedHash is find_expanded_hash (spec §4.J/§6): it composes a
// three-object JSON document — a checksum-based source_list_id, the
// per-source metadata/name expansions, and the raw (source_id, offset)
// pairs, ordered ascending by source_id and then by offset (spec §8
// property 7). Expansions are memoized for this session's lifetime: a
// second or later call for the same hash returns an empty string, and a
// source already expanded for an earlier hash is left out of the
// "sources" array while its (source_id, offset) pairs are still listed.
// First-seen handling is left to the caller.
func (s *ScanSession) FindExpandedHash(hash []byte) (string, error) {
	s.mu.Lock()
	key := string(hash)
	if _, seen := s.seenHash[key]; seen {
		s.mu.Unlock()
		return "", nil
	}
	s.seenHash[key] = struct{}{}
	s.mu.Unlock()

	rec, found, err := s.env.hashData.Find(hash)
	if err != nil {
		return "", fmt.Errorf("hashdb: find_expanded_hash: %w", wrapCorruption(err))
	}
	if !found {
		return "", nil
	}

	var sourceIDs []uint64
	var idOffsetPairs []uint64
	var sources []expandedSource

	for _, se := range rec.Sources {
		for _, off := range se.FileOffsets {
			sourceIDs = append(sourceIDs, se.SourceID)
			idOffsetPairs = append(idOffsetPairs, se.SourceID, off)
		}

		s.mu.Lock()
		_, alreadyExpanded := s.seenSrc[se.SourceID]
		s.seenSrc[se.SourceID] = struct{}{}
		s.mu.Unlock()
		if alreadyExpanded {
			continue
		}

		sd, err := s.env.sourceData.Find(se.SourceID)
		if err != nil {
			return "", fmt.Errorf("hashdb: find_expanded_hash: %w", err)
		}
		names, err := s.env.sourceName.Find(se.SourceID)
		if err != nil {
			return "", fmt.Errorf("hashdb: find_expanded_hash: %w", err)
		}
		expandedNames := make([]expandedSourceNamePair, 0, len(names))
		for _, np := range names {
			expandedNames = append(expandedNames, expandedSourceNamePair{RepositoryName: np.RepositoryName, Filename: np.Filename})
		}

		sources = append(sources, expandedSource{
			SourceID:        se.SourceID,
			FileHash:        hex.EncodeToString(sd.FileHash),
			Filesize:        sd.Filesize,
			FileType:        sd.FileType,
			LowEntropyCount: sd.LowEntropyCount,
			Names:           expandedNames,
		})
	}

	listID := sourceListID(sourceIDs)

	doc := []interface{}{
		map[string]uint32{"source_list_id": listID},
		map[string][]expandedSource{"sources": sources},
		map[string][]uint64{"id_offset_pairs": idOffsetPairs},
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("hashdb: find_expanded_hash: encoding: %w", err)
	}
	return string(out), nil
}

// sourceListID is CRC-32 (IEEE) over the little-endian 64-bit source ids,
// in the order they appear in id_offset_pairs, per spec §6.
func sourceListID(sourceIDs []uint64) uint32 {
	buf := make([]byte, 8*len(sourceIDs))
	for i, id := range sourceIDs {
		binary.LittleEndian.PutUint64(buf[i*8:], id)
	}
	return crc32.ChecksumIEEE(buf)
}
