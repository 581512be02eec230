package hashdb

import (
	"errors"
	"fmt"

	"github.com/i5heu/hashdb/internal/hashdata"
)

// Sentinel errors returned by the database lifecycle and session
// operations. Manager-level codec/corruption errors are wrapped with
// %w and satisfy errors.Is(err, ErrCorruption) where applicable.
var (
	// ErrDatabaseExists is named in Create's failure reason when dir
	// already exists, whether or not it holds a database.
	ErrDatabaseExists = errors.New("hashdb: database already exists")
	// ErrDatabaseNotFound is returned by OpenImportSession and
	// OpenScanSession when settings.json in dir cannot be opened.
	ErrDatabaseNotFound = errors.New("hashdb: database not found")
	// ErrSettingsUnreadable is returned when settings.json exists but does
	// not parse.
	ErrSettingsUnreadable = errors.New("hashdb: settings unreadable")
	// ErrVersionMismatch is returned when a database's data_store_version
	// is older than this build supports.
	ErrVersionMismatch = errors.New("hashdb: incompatible data_store_version")
	// ErrReadOnly names the write-on-read-only condition. No call in this
	// package returns it: ScanSession has no mutating methods, and a write
	// through a read-only kv.Env fails with kv.ErrReadOnly instead.
	ErrReadOnly = errors.New("hashdb: write attempted on read-only session")
	// ErrCorruption is returned when a stored record fails to decode.
	ErrCorruption = errors.New("hashdb: corrupt record")
)

// wrapCorruption rewraps an internal/hashdata decode error so that
// callers outside this module can test for it with
// errors.Is(err, ErrCorruption) without importing internal/hashdata.
// Errors that are not hashdata.ErrCorrupt pass through unchanged.
func wrapCorruption(err error) error {
	if err == nil || !errors.Is(err, hashdata.ErrCorrupt) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruption, err)
}
