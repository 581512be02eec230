// Package hashdb implements a single-writer, content-addressed block-hash
// index: for every hash a scanner has seen, which sources it appeared in,
// at which offsets, and how often. It owns one Badger environment per
// database directory, subdivided into five byte-ordered tables, plus a
// bounded presence filter that lets lookups skip the KV layer entirely
// for hashes that were never inserted.
package hashdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/hashdb/internal/filter"
	"github.com/i5heu/hashdb/internal/hashdata"
	"github.com/i5heu/hashdb/internal/sourcedata"
	"github.com/i5heu/hashdb/internal/sourceid"
	"github.com/i5heu/hashdb/internal/sourcename"
	"github.com/i5heu/hashdb/pkg/kv"
	"github.com/i5heu/hashdb/pkg/settingsstore"
)

const (
	tableHashData   = "hash_data"
	tableHashFilter = "hash_filter"
	tableSourceData = "source_data"
	tableSourceID   = "source_id"
	tableSourceName = "source_name"
)

// env bundles one open KV environment with the five managers built on top
// of it. Both ImportSession and ScanSession embed one; the only
// difference between them is the Badger open mode and which methods the
// façade exposes.
type env struct {
	dir      string
	kv       *kv.Env
	settings settingsstore.Settings
	logger   *logrus.Logger

	filterTable *kv.Table

	filter     *filter.Filter
	hashData   *hashdata.Manager
	sourceID   *sourceid.Manager
	sourceData *sourcedata.Manager
	sourceName *sourcename.Manager
}

func openEnv(dir string, mode kv.Mode, logger *logrus.Logger) (*env, error) {
	if logger == nil {
		logger = logrus.New()
	}

	settings, err := settingsstore.ReadErr(dir)
	if err != nil {
		switch {
		case errors.Is(err, settingsstore.ErrVersionOlder):
			return nil, fmt.Errorf("%w: %v", ErrVersionMismatch, err)
		case errors.Is(err, settingsstore.ErrNotFound):
			return nil, fmt.Errorf("%w: %v", ErrDatabaseNotFound, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrSettingsUnreadable, err)
		}
	}

	kvEnv, err := kv.Open(dir, mode, logger)
	if err != nil {
		return nil, fmt.Errorf("hashdb: opening environment: %w", err)
	}

	filterTable := kvEnv.Table(tableHashFilter)
	f, err := filter.Load(filterTable, settings.HashManagerKeyBits)
	if err != nil {
		kvEnv.Close()
		return nil, fmt.Errorf("hashdb: loading presence filter: %w", err)
	}

	sourceIDTable := kvEnv.Table(tableSourceID)
	sourceDataTable := kvEnv.Table(tableSourceData)
	sourceNameTable := kvEnv.Table(tableSourceName)
	hashDataTable := kvEnv.Table(tableHashData)

	caps := hashdata.Caps{
		SectorSize:       uint64(settings.SectorSize),
		MaxSubCount:      uint64(settings.MaxSubCount),
		MaxIDOffsetPairs: uint64(settings.MaxIDOffsetPairs),
	}

	return &env{
		dir:         dir,
		kv:          kvEnv,
		settings:    settings,
		logger:      logger,
		filterTable: filterTable,
		filter:      f,
		hashData:    hashdata.New(kvEnv, hashDataTable, f, caps, logger),
		sourceID:    sourceid.New(kvEnv, sourceIDTable),
		sourceData:  sourcedata.New(sourceDataTable),
		sourceName:  sourcename.New(sourceNameTable),
	}, nil
}

// close flushes the presence filter and closes the environment.
func (e *env) close() error {
	if err := e.filter.Flush(e.filterTable); err != nil {
		return fmt.Errorf("hashdb: flushing presence filter: %w", err)
	}
	if err := e.kv.Close(); err != nil {
		return err
	}
	return nil
}

// Create is create_hashdb (spec §6): it refuses to proceed if dir already
// exists, otherwise creates the directory, settings.json, and the Badger
// environment that holds the five tables.
func Create(dir string, opts CreateOptions) (ok bool, reason string) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	if _, err := os.Stat(dir); err == nil {
		return false, fmt.Sprintf("%s: %q already exists", ErrDatabaseExists, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Sprintf("hashdb: creating directory %q: %v", dir, err)
	}

	settings := settingsstore.Default()
	if opts.SectorSize != 0 {
		settings.SectorSize = opts.SectorSize
	}
	if opts.BlockSize != 0 {
		settings.BlockSize = opts.BlockSize
	}
	if opts.MaxIDOffsetPairs != 0 {
		settings.MaxIDOffsetPairs = opts.MaxIDOffsetPairs
	}
	if opts.MaxSubCount != 0 {
		settings.MaxSubCount = opts.MaxSubCount
	}
	if opts.HashPrefixBits != 0 {
		settings.HashManagerKeyBits = opts.HashPrefixBits
	}
	if opts.HashSuffixBytes != 0 {
		settings.HashManagerHashBytes = opts.HashSuffixBytes
	}
	if opts.HashDigestSize != 0 {
		settings.HashDigestSize = opts.HashDigestSize
	}

	if ok, reason := settingsstore.Write(dir, settings, opts.Logger); !ok {
		return false, reason
	}

	kvEnv, err := kv.Open(dir, kv.ReadWriteNew, opts.Logger)
	if err != nil {
		return false, fmt.Sprintf("hashdb: initializing tables: %v", err)
	}
	defer kvEnv.Close()

	// Tables are key prefixes inside the one environment; building the
	// handles writes nothing, and a table has no stored rows until its
	// first Put.
	for _, name := range []string{tableHashData, tableHashFilter, tableSourceData, tableSourceID, tableSourceName} {
		_ = kvEnv.Table(name)
	}

	opts.Logger.WithField("dir", dir).Info("hashdb: database created")
	return true, ""
}

// IsValid is is_valid_hashdb (spec §6): a shallow check that settings.json
// exists, parses, and is version-compatible.
func IsValid(dir string) (ok bool, reason string) {
	_, ok, reason = settingsstore.Read(dir)
	return ok, reason
}

// IsValidDeep additionally opens every table read-only and confirms the
// environment is a well-formed Badger store, surfacing corruption per
// spec §7 kind 5 without mutating anything. This supplements
// is_valid_hashdb, which spec.md leaves to a shallow settings check.
func IsValidDeep(dir string) (ok bool, reason string) {
	if ok, reason := IsValid(dir); !ok {
		return false, reason
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	e, err := openEnv(dir, kv.ReadOnly, logger)
	if err != nil {
		return false, fmt.Sprintf("hashdb: deep check failed to open environment: %v", err)
	}
	defer e.close()

	for _, name := range []string{tableHashData, tableSourceData, tableSourceID, tableSourceName} {
		c := e.kv.Table(name).NewCursor()
		c.First()
		c.Close()
	}

	return true, ""
}

// ReadSettings is hashdb_settings (spec §6): a read-only accessor
// independent of opening a session.
func ReadSettings(dir string) (settingsstore.Settings, bool, string) {
	return settingsstore.Read(dir)
}
