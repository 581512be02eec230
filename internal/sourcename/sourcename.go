// Package sourcename implements the source name manager (spec §4.H): the
// set-valued mapping from a source id to the (repository name, filename)
// pairs it has been observed under. Uniqueness of a name pair is a
// function of the key alone — the value is always empty.
package sourcename

import (
	"fmt"

	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/codec"
	"github.com/i5heu/hashdb/pkg/kv"
)

// NamePair is one (repository name, filename) observation.
type NamePair struct {
	RepositoryName string
	Filename       string
}

// Manager stores name pairs keyed by varint(source_id) ‖ prefixed repo ‖
// prefixed filename, with an empty value.
type Manager struct {
	table *kv.Table
}

// New wraps table.
func New(table *kv.Table) *Manager {
	return &Manager{table: table}
}

func keyPrefix(sourceID uint64) []byte {
	return codec.AppendUvarint(nil, sourceID)
}

func key(sourceID uint64, np NamePair) []byte {
	k := keyPrefix(sourceID)
	k = codec.AppendString(k, np.RepositoryName)
	k = codec.AppendString(k, np.Filename)
	return k
}

// Insert adds the name pair for sourceID if it is not already present.
// It reports wasNew and bumps SourceNameInserted exactly when a new key
// was written — reinserting the same pair leaves the key set unchanged
// and the counter untouched (spec §8's idempotent-replay property for
// names).
func (m *Manager) Insert(sourceID uint64, np NamePair, ch *changes.Counters) (wasNew bool, err error) {
	k := key(sourceID, np)
	_, found, err := m.table.Get(k)
	if err != nil {
		return false, fmt.Errorf("sourcename: insert: %w", err)
	}
	if found {
		return false, nil
	}
	if err := m.table.Put(k, []byte{}); err != nil {
		return false, fmt.Errorf("sourcename: insert: %w", err)
	}
	ch.SourceNameInserted++
	return true, nil
}

// Find returns every name pair recorded for sourceID.
func (m *Manager) Find(sourceID uint64) ([]NamePair, error) {
	prefix := keyPrefix(sourceID)
	c := m.table.NewCursor()
	defer c.Close()

	var out []NamePair
	for ok := c.Seek(prefix); ok; ok = c.Next() {
		k := c.Key()
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}
		rest := k[len(prefix):]
		repo, n, err := codec.ReadString(rest)
		if err != nil {
			return nil, fmt.Errorf("sourcename: corrupt key for source %d: %w", sourceID, err)
		}
		rest = rest[n:]
		filename, _, err := codec.ReadString(rest)
		if err != nil {
			return nil, fmt.Errorf("sourcename: corrupt key for source %d: %w", sourceID, err)
		}
		out = append(out, NamePair{RepositoryName: repo, Filename: filename})
	}
	return out, nil
}
