// Package hashdata implements the hash-data manager (spec §4.I): the
// central table mapping a content hash to the sources it was seen in and
// the offsets within each. Storage is polymorphic across three tiers
// (Type 1/2/3, see record.go) that trade compactness for the ability to
// hold many sources per hash, up to max_id_offset_pairs.
package hashdata

import (
	"errors"
	"fmt"
	"sort"

	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/kv"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/hashdb/internal/filter"
)

// ErrCorrupt is wrapped into every error returned because a stored record
// failed to decode: a truncated field, an unrecognized tier tag, or an
// empty row. Callers can test for it with errors.Is.
var ErrCorrupt = errors.New("hashdata: corrupt record")

// Caps bounds how large a single hash-data record is allowed to grow, per
// spec §3's settings (max_sub_count per source, max_id_offset_pairs
// sources per hash) and the sector size used to compact stored offsets.
type Caps struct {
	SectorSize       uint64
	MaxSubCount      uint64
	MaxIDOffsetPairs uint64
}

// Manager owns the primary hash-data table (Type 1/2 header rows plus
// Type 3 continuation rows share one keyspace, see continuationKey) and
// keeps the presence filter in front of it up to date. env is used to
// make Type-1 -> Type-2/3 promotions atomic across the header and
// continuation rows they touch.
type Manager struct {
	env    *kv.Env
	table  *kv.Table
	filter *filter.Filter
	caps   Caps
	logger *logrus.Logger
}

// New wraps table and f under caps. env must be the same environment
// table was opened from.
func New(env *kv.Env, table *kv.Table, f *filter.Filter, caps Caps, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{env: env, table: table, filter: f, caps: caps, logger: logger}
}

// Find returns the full logical record for hash, or a zero Record with
// found=false if hash has never been inserted. Sources is always
// returned in ascending SourceID order, regardless of storage tier. The
// presence filter is consulted first (spec §4.E): a miss short-circuits
// the probe without touching the hash-data table at all.
func (m *Manager) Find(hash []byte) (rec Record, found bool, err error) {
	if !m.filter.MaybeContains(hash) {
		return Record{}, false, nil
	}

	raw, ok, err := m.table.Get(hash)
	if err != nil {
		return Record{}, false, fmt.Errorf("hashdata: find: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}
	if len(raw) == 0 {
		return Record{}, false, fmt.Errorf("hashdata: find: empty record for hash: %w", ErrCorrupt)
	}

	switch raw[0] {
	case tagType1:
		rec, err := decodeType1(raw, m.caps.SectorSize)
		if err != nil {
			return Record{}, false, fmt.Errorf("hashdata: find: %w", err)
		}
		return rec, true, nil

	case tagType2:
		hdr, first, err := decodeType2(raw, m.caps.SectorSize)
		if err != nil {
			return Record{}, false, fmt.Errorf("hashdata: find: %w", err)
		}
		sources := []SourceEntry{first}
		cont, err := m.readContinuations(hash)
		if err != nil {
			return Record{}, false, err
		}
		sources = append(sources, cont...)
		sort.Slice(sources, func(i, j int) bool { return sources[i].SourceID < sources[j].SourceID })
		return Record{
			Entropy:    hdr.Entropy,
			BlockLabel: hdr.BlockLabel,
			Count:      hdr.Count,
			Sources:    sources,
		}, true, nil

	default:
		return Record{}, false, fmt.Errorf("hashdata: find: unknown record tag %d: %w", raw[0], ErrCorrupt)
	}
}

// FindCount is find_count from spec §4.I: the aggregate occurrence count
// without materializing per-source detail. Like Find, it consults the
// presence filter first and short-circuits on a miss.
func (m *Manager) FindCount(hash []byte) (count uint64, found bool, err error) {
	if !m.filter.MaybeContains(hash) {
		return 0, false, nil
	}

	raw, ok, err := m.table.Get(hash)
	if err != nil {
		return 0, false, fmt.Errorf("hashdata: find_count: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	if len(raw) == 0 {
		return 0, false, fmt.Errorf("hashdata: find_count: empty record for hash: %w", ErrCorrupt)
	}
	switch raw[0] {
	case tagType1:
		rec, err := decodeType1(raw, m.caps.SectorSize)
		if err != nil {
			return 0, false, err
		}
		return rec.Count, true, nil
	case tagType2:
		hdr, _, err := decodeType2(raw, m.caps.SectorSize)
		if err != nil {
			return 0, false, err
		}
		return hdr.Count, true, nil
	default:
		return 0, false, fmt.Errorf("hashdata: find_count: unknown record tag %d: %w", raw[0], ErrCorrupt)
	}
}

func (m *Manager) readContinuations(hash []byte) ([]SourceEntry, error) {
	c := m.table.NewCursor()
	defer c.Close()

	var out []SourceEntry
	for ok := c.Seek(hash); ok; ok = c.Next() {
		k := c.Key()
		if len(k) == len(hash) {
			if string(k) == string(hash) {
				// The primary Type-2 header row itself; continuations
				// follow it.
				continue
			}
			// A different hash's primary row: we have scanned past this
			// hash's region entirely, since no continuation row (always
			// len(hash)+8 bytes) can sort here.
			break
		}
		if len(k) < len(hash) || string(k[:len(hash)]) != string(hash) {
			break
		}
		val, err := c.Value()
		if err != nil {
			return nil, fmt.Errorf("hashdata: reading continuation row: %w", err)
		}
		se, err := decodeType3(val, m.caps.SectorSize)
		if err != nil {
			return nil, fmt.Errorf("hashdata: corrupt continuation row: %w", err)
		}
		out = append(out, se)
	}
	return out, nil
}

// First returns the smallest hash present, if any.
func (m *Manager) First() (hash []byte, ok bool) {
	c := m.table.NewCursor()
	defer c.Close()
	if !c.First() {
		return nil, false
	}
	return append([]byte(nil), c.Key()...), true
}

// Next returns the next primary hash-data key strictly after prev,
// skipping over prev's own Type-3 continuation rows. Primary keys are
// always exactly len(prev) bytes; continuation keys are always 8 bytes
// longer, so the two are unambiguous by length alone regardless of hash
// value.
func (m *Manager) Next(prev []byte) (hash []byte, ok bool) {
	c := m.table.NewCursor()
	defer c.Close()
	primaryLen := len(prev)
	if !c.Seek(prev) {
		return nil, false
	}
	if string(c.Key()) == string(prev) {
		if !c.Next() {
			return nil, false
		}
	}
	for {
		k := c.Key()
		if len(k) == primaryLen {
			return append([]byte(nil), k...), true
		}
		if !c.Next() {
			return nil, false
		}
	}
}

func (m *Manager) truncateLabel(label string) string {
	if len(label) <= maxBlockLabelLen {
		return label
	}
	return label[:maxBlockLabelLen]
}

// Insert is the single-offset insert() of spec §4.I: exactly one
// occurrence of hash in source sourceID at fileOffset. It validates hash
// and fileOffset, then delegates to the bulk state machine with a
// sub-count contribution of 1.
func (m *Manager) Insert(hash []byte, entropy float64, blockLabel string, sourceID, fileOffset uint64, ch *changes.Counters) (newCount uint64, err error) {
	if len(hash) == 0 {
		m.logger.Warn("hashdata: insert: empty hash, ignoring")
		return 0, nil
	}
	if m.caps.SectorSize != 0 && fileOffset%m.caps.SectorSize != 0 {
		m.logger.WithFields(logrus.Fields{"offset": fileOffset, "sector_size": m.caps.SectorSize}).
			Warn("hashdata: insert: misaligned file_offset, ignoring")
		return 0, nil
	}
	return m.InsertBulk(hash, entropy, blockLabel, sourceID, 1, []uint64{fileOffset}, ch)
}

// InsertBulk is the bulk/merge insert of spec §4.I: an already-aggregated
// contribution for one source (subCount occurrences, offsets a subset of
// them), typically produced by merging another partial ingest of the same
// hash. It runs the full Type1 -> Type2/3 promotion state machine.
func (m *Manager) InsertBulk(hash []byte, entropy float64, blockLabel string, sourceID, subCount uint64, offsets []uint64, ch *changes.Counters) (newCount uint64, err error) {
	if len(hash) == 0 {
		m.logger.Warn("hashdata: insert_bulk: empty hash, ignoring")
		return 0, nil
	}
	if uint64(len(offsets)) > subCount {
		// The caller's claim is internally inconsistent: sub_count must
		// upper-bound the number of distinct offsets it accounts for.
		// The update is still applied additively.
		ch.MismatchedSubCountDetected++
	}
	blockLabel = m.truncateLabel(blockLabel)

	raw, found, err := m.table.Get(hash)
	if err != nil {
		return 0, fmt.Errorf("hashdata: insert_bulk: %w", err)
	}

	if !found {
		se := SourceEntry{SourceID: sourceID, SubCount: subCount}
		se.FileOffsets = dedupSorted(offsets, m.caps.MaxSubCount)
		if err := m.writeSingleSource(hash, entropy, blockLabel, se.SubCount, se); err != nil {
			return 0, fmt.Errorf("hashdata: insert_bulk: %w", err)
		}
		ch.SourceInserted++
		ch.OffsetInserted += uint64(len(se.FileOffsets))
		m.filter.Insert(hash)
		return se.SubCount, nil
	}

	if len(raw) == 0 {
		return 0, fmt.Errorf("hashdata: insert_bulk: empty record for hash: %w", ErrCorrupt)
	}

	switch raw[0] {
	case tagType1:
		return m.mergeIntoType1(hash, raw, entropy, blockLabel, sourceID, subCount, offsets, ch)
	case tagType2:
		return m.mergeIntoType2(hash, raw, entropy, blockLabel, sourceID, subCount, offsets, ch)
	default:
		return 0, fmt.Errorf("hashdata: insert_bulk: unknown record tag %d: %w", raw[0], ErrCorrupt)
	}
}

func dedupSorted(offsets []uint64, cap uint64) []uint64 {
	se := SourceEntry{}
	for _, off := range offsets {
		if !se.addOffset(off, cap) {
			continue
		}
	}
	return se.FileOffsets
}

// writeSingleSource stores se as the sole source of hash. Type 1 only
// fits a SourceEntry whose sub_count is within max_sub_count (spec §3);
// once a lone source's sub_count grows past that cap the record no
// longer fits the Type-1 shape and is written as a one-source Type 2
// instead, with no Type-3 continuation row needed.
func (m *Manager) writeSingleSource(hash []byte, entropy float64, blockLabel string, count uint64, se SourceEntry) error {
	if m.caps.MaxSubCount != 0 && se.SubCount > m.caps.MaxSubCount {
		hdr := type2Header{Entropy: entropy, BlockLabel: blockLabel, Count: count, NSources: 1}
		return m.table.Put(hash, encodeType2(hdr, se, m.caps.SectorSize))
	}
	return m.table.Put(hash, encodeType1(entropy, blockLabel, se, m.caps.SectorSize))
}

// mergeIntoType1 handles insertion against an existing single-source
// record. If sourceID matches the existing entry's, the entry is updated
// in place. Otherwise the record is promoted to Type 2, with the
// existing entry kept inline as the header's "first" SourceEntry and the
// new source written as a Type 3 continuation.
func (m *Manager) mergeIntoType1(hash, raw []byte, entropy float64, blockLabel string, sourceID, subCount uint64, offsets []uint64, ch *changes.Counters) (uint64, error) {
	existing, err := decodeType1(raw, m.caps.SectorSize)
	if err != nil {
		return 0, fmt.Errorf("hashdata: %w", err)
	}
	se := existing.Sources[0]

	if existing.Entropy != entropy || existing.BlockLabel != blockLabel {
		ch.DataChanged++
	} else {
		entropy, blockLabel = existing.Entropy, existing.BlockLabel
	}

	if se.SourceID == sourceID {
		added := m.applyContribution(&se, subCount, offsets, ch)
		newCount := existing.Count + added
		if err := m.writeSingleSource(hash, entropy, blockLabel, newCount, se); err != nil {
			return 0, fmt.Errorf("hashdata: mergeIntoType1: %w", err)
		}
		m.filter.Insert(hash)
		return newCount, nil
	}

	// New source: promote to Type 2. The pre-existing entry keeps its
	// slot as the header's inline first entry; the newcomer becomes a
	// Type-3 continuation regardless of numeric source id order (find()
	// sorts by SourceID when it reassembles a record).
	newEntry := SourceEntry{SourceID: sourceID, SubCount: subCount}
	newEntry.FileOffsets = dedupSorted(offsets, m.caps.MaxSubCount)

	hdr := type2Header{
		Entropy:    entropy,
		BlockLabel: blockLabel,
		Count:      existing.Count + newEntry.SubCount,
		NSources:   2,
	}

	err = m.env.Update(func(txn *kv.Txn) error {
		if err := txn.Put(m.table, hash, encodeType2(hdr, se, m.caps.SectorSize)); err != nil {
			return err
		}
		return txn.Put(m.table, continuationKey(hash, sourceID), encodeType3(newEntry, m.caps.SectorSize))
	})
	if err != nil {
		return 0, fmt.Errorf("hashdata: mergeIntoType1: %w", err)
	}
	ch.SourceInserted++
	ch.OffsetInserted += uint64(len(newEntry.FileOffsets))
	m.filter.Insert(hash)
	return hdr.Count, nil
}

// mergeIntoType2 handles insertion against an already-promoted record. If
// sourceID matches the header's inline entry or an existing continuation,
// that entry is updated. Otherwise a new source is added, subject to the
// max_id_offset_pairs cap: once NSources has reached the cap, the
// aggregate count still grows but no new SourceEntry row is created and
// source_inserted is not incremented, per spec §4.I scenario S5.
func (m *Manager) mergeIntoType2(hash, raw []byte, entropy float64, blockLabel string, sourceID, subCount uint64, offsets []uint64, ch *changes.Counters) (uint64, error) {
	hdr, first, err := decodeType2(raw, m.caps.SectorSize)
	if err != nil {
		return 0, fmt.Errorf("hashdata: %w", err)
	}

	if hdr.Entropy != entropy || hdr.BlockLabel != blockLabel {
		ch.DataChanged++
		hdr.Entropy, hdr.BlockLabel = entropy, blockLabel
	}

	if first.SourceID == sourceID {
		added := m.applyContribution(&first, subCount, offsets, ch)
		hdr.Count += added
		if err := m.table.Put(hash, encodeType2(hdr, first, m.caps.SectorSize)); err != nil {
			return 0, fmt.Errorf("hashdata: mergeIntoType2: %w", err)
		}
		m.filter.Insert(hash)
		return hdr.Count, nil
	}

	ck := continuationKey(hash, sourceID)
	contRaw, found, err := m.table.Get(ck)
	if err != nil {
		return 0, fmt.Errorf("hashdata: mergeIntoType2: %w", err)
	}
	if found {
		se, err := decodeType3(contRaw, m.caps.SectorSize)
		if err != nil {
			return 0, fmt.Errorf("hashdata: mergeIntoType2: %w", err)
		}
		added := m.applyContribution(&se, subCount, offsets, ch)
		hdr.Count += added
		err = m.env.Update(func(txn *kv.Txn) error {
			if err := txn.Put(m.table, ck, encodeType3(se, m.caps.SectorSize)); err != nil {
				return err
			}
			return txn.Put(m.table, hash, encodeType2(hdr, first, m.caps.SectorSize))
		})
		if err != nil {
			return 0, fmt.Errorf("hashdata: mergeIntoType2: %w", err)
		}
		m.filter.Insert(hash)
		return hdr.Count, nil
	}

	if m.caps.MaxIDOffsetPairs != 0 && hdr.NSources >= m.caps.MaxIDOffsetPairs {
		hdr.Count += subCount
		if err := m.table.Put(hash, encodeType2(hdr, first, m.caps.SectorSize)); err != nil {
			return 0, fmt.Errorf("hashdata: mergeIntoType2: %w", err)
		}
		m.filter.Insert(hash)
		return hdr.Count, nil
	}

	newEntry := SourceEntry{SourceID: sourceID, SubCount: subCount}
	newEntry.FileOffsets = dedupSorted(offsets, m.caps.MaxSubCount)

	hdr.NSources++
	hdr.Count += newEntry.SubCount

	err = m.env.Update(func(txn *kv.Txn) error {
		if err := txn.Put(m.table, ck, encodeType3(newEntry, m.caps.SectorSize)); err != nil {
			return err
		}
		return txn.Put(m.table, hash, encodeType2(hdr, first, m.caps.SectorSize))
	})
	if err != nil {
		return 0, fmt.Errorf("hashdata: mergeIntoType2: %w", err)
	}
	ch.SourceInserted++
	ch.OffsetInserted += uint64(len(newEntry.FileOffsets))
	m.filter.Insert(hash)
	return hdr.Count, nil
}

// applyContribution merges a repeat contribution for an already-known
// source into se: sub_count is added, duplicate offsets are flagged and
// dropped, and new offsets are added up to the per-source cap. It returns
// the sub_count delta actually applied to the record's aggregate count.
func (m *Manager) applyContribution(se *SourceEntry, subCount uint64, offsets []uint64, ch *changes.Counters) uint64 {
	se.SubCount += subCount
	for _, off := range offsets {
		if se.hasOffset(off) {
			ch.DuplicateOffsetDetected++
			continue
		}
		if se.addOffset(off, m.caps.MaxSubCount) {
			ch.OffsetInserted++
		}
	}
	return subCount
}
