// Package sourceid implements the source id manager (spec §4.F): the
// translation of a file's binary hash into a dense, monotonically
// increasing 64-bit source id, with 0 reserved to mean "absent".
package sourceid

import (
	"fmt"

	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/codec"
	"github.com/i5heu/hashdb/pkg/kv"
)

// Two sub-keyspaces share the one "source_id" table the façade opens
// (spec §6 lists five top-level tables): a byte prefix distinguishes
// spec §4.F's "Table 1" (file hash -> source id) from its "Table 2" (the
// allocator counter), so the pair still behaves as two independent
// namespaces without costing a sixth table.
const (
	subByHash  byte = 0x00
	subCounter byte = 0x01
)

var counterRowKey = []byte{subCounter}

func hashKey(fileHash []byte) []byte {
	k := make([]byte, 0, 1+len(fileHash))
	k = append(k, subByHash)
	return append(k, fileHash...)
}

// Manager maps file binary hashes to source ids and owns the id
// allocator counter. There is no lookup from a source id back to its hash.
type Manager struct {
	table *kv.Table
	env   *kv.Env
}

// New wraps table (spec §6's "source_id" table) in an Env used to make id
// allocation atomic with the lookup insert.
func New(env *kv.Env, table *kv.Table) *Manager {
	return &Manager{env: env, table: table}
}

// Find reports whether fileHash has a source id assigned, and if so,
// which one.
func (m *Manager) Find(fileHash []byte) (found bool, sourceID uint64, err error) {
	data, found, err := m.table.Get(hashKey(fileHash))
	if err != nil {
		return false, 0, fmt.Errorf("sourceid: find: %w", err)
	}
	if !found {
		return false, 0, nil
	}
	id, _, err := codec.Uvarint(data)
	if err != nil {
		return false, 0, fmt.Errorf("sourceid: corrupt record for hash: %w", err)
	}
	return true, id, nil
}

// Insert returns the existing source id for fileHash if one is already
// assigned. Otherwise it atomically allocates the next id (starting at 1),
// records the mapping, and bumps the change counter.
func (m *Manager) Insert(fileHash []byte, ch *changes.Counters) (wasNew bool, sourceID uint64, err error) {
	err = m.env.Update(func(txn *kv.Txn) error {
		hk := hashKey(fileHash)
		existing, found, err := txn.Get(m.table, hk)
		if err != nil {
			return err
		}
		if found {
			id, _, err := codec.Uvarint(existing)
			if err != nil {
				return fmt.Errorf("corrupt record for hash: %w", err)
			}
			sourceID = id
			wasNew = false
			return nil
		}

		next := uint64(1)
		counterRaw, found, err := txn.Get(m.table, counterRowKey)
		if err != nil {
			return err
		}
		if found {
			n, _, err := codec.Uvarint(counterRaw)
			if err != nil {
				return fmt.Errorf("corrupt id counter: %w", err)
			}
			next = n
		}

		sourceID = next
		wasNew = true

		if err := txn.Put(m.table, hk, codec.AppendUvarint(nil, sourceID)); err != nil {
			return err
		}
		if err := txn.Put(m.table, counterRowKey, codec.AppendUvarint(nil, next+1)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("sourceid: insert: %w", err)
	}
	if wasNew {
		ch.SourceIDInserted++
	}
	return wasNew, sourceID, nil
}
