// Package sourcedata implements the source data manager (spec §4.G):
// per-source-id metadata (the file's binary hash, size, file type, and
// low-entropy block count).
package sourcedata

import (
	"bytes"
	"fmt"

	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/codec"
	"github.com/i5heu/hashdb/pkg/kv"
)

// Record is one source's metadata tuple.
type Record struct {
	SourceID        uint64
	FileHash        []byte
	Filesize        uint64
	FileType        string
	LowEntropyCount uint64
}

// Manager stores one Record per source id, keyed by varint(source_id).
type Manager struct {
	table *kv.Table
}

// New wraps table (key: varint(source_id), value: encoded Record body).
func New(table *kv.Table) *Manager {
	return &Manager{table: table}
}

func key(sourceID uint64) []byte {
	return codec.AppendUvarint(nil, sourceID)
}

func encode(r Record) []byte {
	buf := codec.AppendUvarint(nil, r.Filesize)
	buf = codec.AppendBytes(buf, r.FileHash)
	buf = codec.AppendString(buf, r.FileType)
	buf = codec.AppendUvarint(buf, r.LowEntropyCount)
	return buf
}

func decode(sourceID uint64, buf []byte) (Record, error) {
	r := Record{SourceID: sourceID}
	filesize, n, err := codec.Uvarint(buf)
	if err != nil {
		return Record{}, fmt.Errorf("sourcedata: decode filesize: %w", err)
	}
	r.Filesize = filesize
	buf = buf[n:]

	fh, n, err := codec.ReadBytes(buf)
	if err != nil {
		return Record{}, fmt.Errorf("sourcedata: decode file hash: %w", err)
	}
	r.FileHash = fh
	buf = buf[n:]

	ft, n, err := codec.ReadString(buf)
	if err != nil {
		return Record{}, fmt.Errorf("sourcedata: decode file type: %w", err)
	}
	r.FileType = ft
	buf = buf[n:]

	lec, _, err := codec.Uvarint(buf)
	if err != nil {
		return Record{}, fmt.Errorf("sourcedata: decode low entropy count: %w", err)
	}
	r.LowEntropyCount = lec

	return r, nil
}

// Find returns the stored record for sourceID, or a zero-valued Record if
// none is present.
func (m *Manager) Find(sourceID uint64) (Record, error) {
	data, found, err := m.table.Get(key(sourceID))
	if err != nil {
		return Record{}, fmt.Errorf("sourcedata: find: %w", err)
	}
	if !found {
		return Record{}, nil
	}
	return decode(sourceID, data)
}

// Insert write-through's rec. If no record exists for rec.SourceID, one is
// created and SourceDataInserted is bumped. If a record exists but differs
// from rec, it is overwritten and SourceDataChanged is bumped. Reinserting
// an identical tuple is a no-op change-wise (round 2 of spec §8's
// idempotent-replay property).
func (m *Manager) Insert(rec Record, ch *changes.Counters) (changed bool, err error) {
	existingRaw, found, err := m.table.Get(key(rec.SourceID))
	if err != nil {
		return false, fmt.Errorf("sourcedata: insert: %w", err)
	}

	newRaw := encode(rec)

	if !found {
		if err := m.table.Put(key(rec.SourceID), newRaw); err != nil {
			return false, fmt.Errorf("sourcedata: insert: %w", err)
		}
		ch.SourceDataInserted++
		return true, nil
	}

	if bytes.Equal(existingRaw, newRaw) {
		return false, nil
	}

	if err := m.table.Put(key(rec.SourceID), newRaw); err != nil {
		return false, fmt.Errorf("sourcedata: insert: %w", err)
	}
	ch.SourceDataChanged++
	return true, nil
}

// First returns the smallest source id present, if any.
func (m *Manager) First() (sourceID uint64, ok bool) {
	c := m.table.NewCursor()
	defer c.Close()
	if !c.First() {
		return 0, false
	}
	id, _, err := codec.Uvarint(c.Key())
	if err != nil {
		return 0, false
	}
	return id, true
}

// Next returns the next source id after prev, if any. Iteration order is
// the table's key-byte order, not necessarily prev+1 or numeric order,
// per spec §4.G's cursor contract.
func (m *Manager) Next(prev uint64) (sourceID uint64, ok bool) {
	c := m.table.NewCursor()
	defer c.Close()
	if !c.Seek(key(prev)) {
		return 0, false
	}
	// Seek lands on prev itself if present; advance past it.
	if id, _, err := codec.Uvarint(c.Key()); err == nil && id == prev {
		if !c.Next() {
			return 0, false
		}
	}
	id, _, err := codec.Uvarint(c.Key())
	if err != nil {
		return 0, false
	}
	return id, true
}
