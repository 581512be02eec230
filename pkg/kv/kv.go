// Package kv provides the ordered key/value table abstraction that every
// hashdb component is built on: one Badger environment per database
// directory, subdivided into independent byte-prefixed tables, with
// transactional writes and forward cursors over byte-ordered keys.
package kv

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Mode selects how an Env is opened.
type Mode int

const (
	// ReadOnly opens an existing environment for queries only. Any write
	// attempted through this Env fails with ErrReadOnly.
	ReadOnly Mode = iota
	// ReadWriteNew creates a brand new environment; the directory must
	// not already contain one.
	ReadWriteNew
	// ReadWriteModify opens an existing environment for read and write.
	ReadWriteModify
)

// ErrReadOnly is returned by any mutating call issued against an Env
// opened with ReadOnly.
var ErrReadOnly = errors.New("kv: write attempted on read-only environment")

// Env owns one Badger database and hands out Table handles that are
// namespaced by key prefix within it.
type Env struct {
	db       *badger.DB
	mode     Mode
	log      *logrus.Logger
	readOnly bool
}

// Open opens (or creates, for ReadWriteNew) the Badger environment rooted
// at dir. logger may be nil, in which case a default logrus.Logger is used.
func Open(dir string, mode Mode, logger *logrus.Logger) (*Env, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // hashdb does its own structured logging
	opts.SyncWrites = mode != ReadOnly

	if mode == ReadOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: opening environment at %q: %w", dir, err)
	}

	logger.WithFields(logrus.Fields{"dir": dir, "mode": mode}).Debug("kv environment opened")

	return &Env{
		db:       db,
		mode:     mode,
		log:      logger,
		readOnly: mode == ReadOnly,
	}, nil
}

// Close flushes and closes the underlying Badger environment.
func (e *Env) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("kv: closing environment: %w", err)
	}
	return nil
}

// Size reports the approximate on-disk size of the environment as
// (lsmBytes, valueLogBytes).
func (e *Env) Size() (int64, int64) {
	return e.db.Size()
}

// Table returns a handle to the logical table named name, backed by a
// byte-prefix within the shared environment.
func (e *Env) Table(name string) *Table {
	return &Table{env: e, prefix: append([]byte(name), ':')}
}

// Table is one logical, byte-ordered keyspace within an Env.
type Table struct {
	env    *Env
	prefix []byte
}

func (t *Table) key(k []byte) []byte {
	full := make([]byte, 0, len(t.prefix)+len(k))
	full = append(full, t.prefix...)
	full = append(full, k...)
	return full
}

// Get looks up key and reports whether it was present.
func (t *Table) Get(key []byte) (value []byte, found bool, err error) {
	err = t.env.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv: get: %w", err)
	}
	return value, found, nil
}

// Put writes key/value in its own transaction.
func (t *Table) Put(key, value []byte) error {
	if t.env.readOnly {
		return ErrReadOnly
	}
	err := t.env.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.key(key), value)
	})
	if err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

// Delete removes key, if present, in its own transaction.
func (t *Table) Delete(key []byte) error {
	if t.env.readOnly {
		return ErrReadOnly
	}
	err := t.env.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.key(key))
	})
	if err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

// Txn is a single Badger transaction spanning one or more tables. Use
// Env.Update to run one.
type Txn struct {
	env *Env
	txn *badger.Txn
}

// Update runs fn inside a single atomic transaction over the environment.
// Any table reached through txn.Get/Put/Delete participates in the same
// commit; either all of fn's writes land or none do.
func (e *Env) Update(fn func(txn *Txn) error) error {
	if e.readOnly {
		return ErrReadOnly
	}
	err := e.db.Update(func(bt *badger.Txn) error {
		return fn(&Txn{env: e, txn: bt})
	})
	if err != nil {
		return fmt.Errorf("kv: transaction: %w", err)
	}
	return nil
}

// View runs fn inside a read-only MVCC snapshot transaction.
func (e *Env) View(fn func(txn *Txn) error) error {
	err := e.db.View(func(bt *badger.Txn) error {
		return fn(&Txn{env: e, txn: bt})
	})
	if err != nil {
		return fmt.Errorf("kv: view: %w", err)
	}
	return nil
}

// Get reads key from table within the transaction.
func (txn *Txn) Get(table *Table, key []byte) ([]byte, bool, error) {
	item, err := txn.txn.Get(table.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put writes key/value in table within the transaction.
func (txn *Txn) Put(table *Table, key, value []byte) error {
	return txn.txn.Set(table.key(key), value)
}

// Delete removes key from table within the transaction.
func (txn *Txn) Delete(table *Table, key []byte) error {
	return txn.txn.Delete(table.key(key))
}

// Cursor is a restartable forward iterator over one table's keys, in
// byte-lexicographic order. It borrows a read snapshot for its lifetime;
// callers must Close it.
type Cursor struct {
	table *Table
	txn   *badger.Txn
	it    *badger.Iterator
}

// NewCursor opens a cursor over table, positioned before the first key.
func (t *Table) NewCursor() *Cursor {
	txn := t.env.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = t.prefix
	it := txn.NewIterator(opts)
	return &Cursor{table: t, txn: txn, it: it}
}

// Close releases the cursor's read snapshot.
func (c *Cursor) Close() {
	c.it.Close()
	c.txn.Discard()
}

// First positions the cursor at the smallest key in the table and
// reports whether such a key exists.
func (c *Cursor) First() bool {
	c.it.Seek(c.table.prefix)
	return c.it.ValidForPrefix(c.table.prefix)
}

// Seek positions the cursor at the smallest key >= key and reports
// whether such a key exists within the table.
func (c *Cursor) Seek(key []byte) bool {
	c.it.Seek(c.table.key(key))
	return c.it.ValidForPrefix(c.table.prefix)
}

// Next advances the cursor and reports whether a key remains.
func (c *Cursor) Next() bool {
	c.it.Next()
	return c.it.ValidForPrefix(c.table.prefix)
}

// Key returns the current row's key with the table's prefix stripped.
func (c *Cursor) Key() []byte {
	full := c.it.Item().KeyCopy(nil)
	return full[len(c.table.prefix):]
}

// Value returns the current row's value.
func (c *Cursor) Value() ([]byte, error) {
	return c.it.Item().ValueCopy(nil)
}
