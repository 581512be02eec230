package hashdata

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/i5heu/hashdb/pkg/codec"
)

// maxBlockLabelLen bounds the stored block label, per spec §3's example
// budget ("truncated to an implementation-chosen maximum, e.g. 10 bytes").
const maxBlockLabelLen = 10

const (
	tagType1 byte = 1
	tagType2 byte = 2
	tagType3 byte = 3
)

// SourceEntry is one source's occurrence record within a hash-data record:
// how many times the hash was seen in that source (SubCount), and a
// bounded set of the byte offsets it was seen at (FileOffsets, ascending,
// deduplicated, each a multiple of the database's sector size).
type SourceEntry struct {
	SourceID    uint64
	SubCount    uint64
	FileOffsets []uint64
}

// hasOffset reports whether off is already recorded.
func (se *SourceEntry) hasOffset(off uint64) bool {
	i := sort.Search(len(se.FileOffsets), func(i int) bool { return se.FileOffsets[i] >= off })
	return i < len(se.FileOffsets) && se.FileOffsets[i] == off
}

// addOffset inserts off into the set in sorted position if it is not
// already present and the cap allows it. It reports whether off was
// newly added.
func (se *SourceEntry) addOffset(off, maxSubCount uint64) bool {
	if se.hasOffset(off) {
		return false
	}
	if uint64(len(se.FileOffsets)) >= maxSubCount {
		return false
	}
	i := sort.Search(len(se.FileOffsets), func(i int) bool { return se.FileOffsets[i] >= off })
	se.FileOffsets = append(se.FileOffsets, 0)
	copy(se.FileOffsets[i+1:], se.FileOffsets[i:])
	se.FileOffsets[i] = off
	return true
}

// Record is the logical, tier-independent view of a hash-data row: it is
// what find() returns, regardless of whether the row is currently stored
// as Type 1 or Type 2/3 on disk.
type Record struct {
	Entropy    float64
	BlockLabel string
	Count      uint64
	Sources    []SourceEntry // ascending SourceID
}

func encodeEntropy(dst []byte, e float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(e))
	return append(dst, b[:]...)
}

func decodeEntropy(buf []byte) (float64, int, error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("hashdata: truncated entropy field: %w", ErrCorrupt)
	}
	bits := binary.LittleEndian.Uint64(buf[:8])
	return math.Float64frombits(bits), 8, nil
}

func encodeSourceEntry(dst []byte, se SourceEntry, sectorSize uint64) []byte {
	dst = codec.AppendUvarint(dst, se.SourceID)
	dst = codec.AppendUvarint(dst, se.SubCount)
	dst = codec.AppendUvarint(dst, uint64(len(se.FileOffsets)))
	for _, off := range se.FileOffsets {
		dst = codec.AppendUvarint(dst, off/sectorSize)
	}
	return dst
}

func decodeSourceEntry(buf []byte, sectorSize uint64) (SourceEntry, int, error) {
	var se SourceEntry
	total := 0

	id, n, err := codec.Uvarint(buf)
	if err != nil {
		return se, 0, fmt.Errorf("hashdata: decode source_id: %w: %w", ErrCorrupt, err)
	}
	se.SourceID = id
	buf, total = buf[n:], total+n

	sub, n, err := codec.Uvarint(buf)
	if err != nil {
		return se, 0, fmt.Errorf("hashdata: decode sub_count: %w: %w", ErrCorrupt, err)
	}
	se.SubCount = sub
	buf, total = buf[n:], total+n

	count, n, err := codec.Uvarint(buf)
	if err != nil {
		return se, 0, fmt.Errorf("hashdata: decode offset count: %w: %w", ErrCorrupt, err)
	}
	buf, total = buf[n:], total+n

	se.FileOffsets = make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		v, n, err := codec.Uvarint(buf)
		if err != nil {
			return se, 0, fmt.Errorf("hashdata: decode offset %d: %w: %w", i, ErrCorrupt, err)
		}
		se.FileOffsets = append(se.FileOffsets, v*sectorSize)
		buf, total = buf[n:], total+n
	}

	return se, total, nil
}

// encodeType1 encodes a single-source record that fits within the Type 1
// caps.
func encodeType1(entropy float64, blockLabel string, se SourceEntry, sectorSize uint64) []byte {
	buf := []byte{tagType1}
	buf = encodeEntropy(buf, entropy)
	buf = codec.AppendString(buf, blockLabel)
	buf = encodeSourceEntry(buf, se, sectorSize)
	return buf
}

func decodeType1(buf []byte, sectorSize uint64) (Record, error) {
	entropy, n, err := decodeEntropy(buf[1:])
	if err != nil {
		return Record{}, err
	}
	buf = buf[1+n:]

	label, n, err := codec.ReadString(buf)
	if err != nil {
		return Record{}, fmt.Errorf("hashdata: decode block_label: %w: %w", ErrCorrupt, err)
	}
	buf = buf[n:]

	se, _, err := decodeSourceEntry(buf, sectorSize)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Entropy:    entropy,
		BlockLabel: label,
		Count:      se.SubCount,
		Sources:    []SourceEntry{se},
	}, nil
}

// type2Header is the aggregate portion of a Type 2 record: everything
// stored at the primary key except the first SourceEntry, which callers
// decode/encode alongside it.
type type2Header struct {
	Entropy    float64
	BlockLabel string
	Count      uint64
	NSources   uint64
}

func encodeType2(hdr type2Header, first SourceEntry, sectorSize uint64) []byte {
	buf := []byte{tagType2}
	buf = encodeEntropy(buf, hdr.Entropy)
	buf = codec.AppendString(buf, hdr.BlockLabel)
	buf = codec.AppendUvarint(buf, hdr.Count)
	buf = codec.AppendUvarint(buf, hdr.NSources)
	buf = encodeSourceEntry(buf, first, sectorSize)
	return buf
}

func decodeType2(buf []byte, sectorSize uint64) (type2Header, SourceEntry, error) {
	var hdr type2Header
	entropy, n, err := decodeEntropy(buf[1:])
	if err != nil {
		return hdr, SourceEntry{}, err
	}
	buf = buf[1+n:]
	hdr.Entropy = entropy

	label, n, err := codec.ReadString(buf)
	if err != nil {
		return hdr, SourceEntry{}, fmt.Errorf("hashdata: decode block_label: %w: %w", ErrCorrupt, err)
	}
	buf = buf[n:]
	hdr.BlockLabel = label

	count, n, err := codec.Uvarint(buf)
	if err != nil {
		return hdr, SourceEntry{}, fmt.Errorf("hashdata: decode count: %w: %w", ErrCorrupt, err)
	}
	buf = buf[n:]
	hdr.Count = count

	nsrc, n, err := codec.Uvarint(buf)
	if err != nil {
		return hdr, SourceEntry{}, fmt.Errorf("hashdata: decode n_sources: %w: %w", ErrCorrupt, err)
	}
	buf = buf[n:]
	hdr.NSources = nsrc

	first, _, err := decodeSourceEntry(buf, sectorSize)
	if err != nil {
		return hdr, SourceEntry{}, err
	}

	return hdr, first, nil
}

func encodeType3(se SourceEntry, sectorSize uint64) []byte {
	buf := []byte{tagType3}
	buf = encodeSourceEntry(buf, se, sectorSize)
	return buf
}

func decodeType3(buf []byte, sectorSize uint64) (SourceEntry, error) {
	se, _, err := decodeSourceEntry(buf[1:], sectorSize)
	return se, err
}

// continuationKey builds the Type-3 storage key for (hash, sourceID): the
// hash bytes followed by a fixed-width big-endian source id. Fixed width
// (rather than the varint the record body uses for source_id) is
// deliberate: varint's low-order-first byte layout does not preserve
// numeric order for multi-byte values, so a byte-lexicographic range scan
// over varint-keyed continuations would not visit them in ascending
// source_id order. Big-endian keys make "the Type-3 continuations follow
// directly" (spec §4.A) true both in storage order and in numeric order.
func continuationKey(hash []byte, sourceID uint64) []byte {
	key := make([]byte, len(hash)+8)
	copy(key, hash)
	binary.BigEndian.PutUint64(key[len(hash):], sourceID)
	return key
}
