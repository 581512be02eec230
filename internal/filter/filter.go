// Package filter implements the hash presence filter that sits in front of
// the hash-data table (spec §4.E): a bounded bit array that is a
// conservative over-approximation of the hash-data table's key set.
// Inserts only ever set bits, so the filter is monotone by construction and
// can only produce false positives, never false negatives.
package filter

import (
	"sync"

	"github.com/i5heu/hashdb/pkg/kv"
)

// key under which the whole bitmap is stored as a single row. The physical
// layout of the presence-filter table is an implementation choice per
// spec §4.A; a single blob keeps the on-disk format simple while still
// satisfying the "byte-ordered table" contract trivially (one key).
var blobKey = []byte("bitmap")

// Filter is a fixed-size, in-memory bit array backed by one KV table row.
// It is intended for single-writer use: Insert mutates in-memory state
// only, and the caller is responsible for calling Flush to persist it
// (typically on session close, or periodically during a long ingest).
type Filter struct {
	mu      sync.RWMutex
	bits    []byte
	keyBits uint32 // number of address bits into the bitmap
	dirty   bool
}

// New creates a filter sized for keyBits address bits (2^keyBits total
// bits), all initially clear.
func New(keyBits uint32) *Filter {
	size := (uint64(1)<<keyBits + 7) / 8
	return &Filter{bits: make([]byte, size), keyBits: keyBits}
}

// Load reads the persisted bitmap from table, falling back to an all-clear
// filter of the configured size if no bitmap has been written yet.
func Load(table *kv.Table, keyBits uint32) (*Filter, error) {
	f := New(keyBits)
	data, found, err := table.Get(blobKey)
	if err != nil {
		return nil, err
	}
	if found {
		copy(f.bits, data)
	}
	return f, nil
}

// Flush persists the current bitmap to table if it has changed since the
// last Flush.
func (f *Filter) Flush(table *kv.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}
	if err := table.Put(blobKey, f.bits); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// indices derives two bit positions from hash: the first from a rolling
// hash over every byte, the second from a rolling hash over the
// even-indexed bytes mixed with the first. Requiring both bits lowers the
// false-positive rate versus a single-index scheme.
func (f *Filter) indices(hash []byte) (uint64, uint64) {
	mod := uint64(1) << f.keyBits
	var a, b uint64
	for i, bb := range hash {
		a = a*131 + uint64(bb)
		if i%2 == 0 {
			b = b*137 + uint64(bb)
		}
	}
	return a % mod, (b ^ (a >> 17)) % mod
}

// Insert marks hash as present. Idempotent: inserting the same hash twice
// leaves the bitmap unchanged after the first call.
func (f *Filter) Insert(hash []byte) {
	i1, i2 := f.indices(hash)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setBit(i1) {
		f.dirty = true
	}
	if f.setBit(i2) {
		f.dirty = true
	}
}

// setBit sets bit i and reports whether it was previously clear.
func (f *Filter) setBit(i uint64) bool {
	byteIdx := i / 8
	bitMask := byte(1) << (i % 8)
	if f.bits[byteIdx]&bitMask != 0 {
		return false
	}
	f.bits[byteIdx] |= bitMask
	return true
}

// MaybeContains reports whether hash may have been inserted. It always
// returns true for a hash that was inserted; it may return true for a
// hash that was not (a false positive) but never false for one that was.
func (f *Filter) MaybeContains(hash []byte) bool {
	i1, i2 := f.indices(hash)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bitSet(i1) && f.bitSet(i2)
}

func (f *Filter) bitSet(i uint64) bool {
	return f.bits[i/8]&(byte(1)<<(i%8)) != 0
}
