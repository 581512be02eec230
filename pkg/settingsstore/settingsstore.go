// Package settingsstore persists the versioned settings envelope every
// hashdb database carries in settings.json, following the same
// read-whole-file/json.Unmarshal/defaulting shape the pack uses for its own
// config files (compare kv-engine's internal/config and ouroboros-db's
// internal/config), adapted to the JSON, comment-tolerant, rename-before-
// overwrite format hashdb's on-disk layout requires.
package settingsstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ExpectedDataStoreVersion is the minimum data_store_version this build
// can read.
const ExpectedDataStoreVersion = 3

// Sentinel errors returned by ReadErr, distinguishing "no database here"
// from "a database is here but this build cannot read it" from "the file
// is present but malformed". hashdb's own openEnv maps these onto its own
// exported sentinels (ErrDatabaseNotFound, ErrVersionMismatch,
// ErrSettingsUnreadable) with errors.Is.
var (
	ErrNotFound     = errors.New("settingsstore: settings.json not found")
	ErrUnreadable   = errors.New("settingsstore: settings.json unreadable")
	ErrVersionOlder = errors.New("settingsstore: data_store_version older than this build supports")
)

const (
	settingsFilename    = "settings.json"
	oldSettingsFilename = "_old_settings.json"
)

// Settings is the on-disk, read-only-after-creation envelope for one
// hashdb database.
type Settings struct {
	DataStoreVersion     uint32 `json:"data_store_version"`
	SectorSize           uint32 `json:"sector_size"`
	BlockSize            uint32 `json:"block_size"`
	MaxIDOffsetPairs     uint32 `json:"max_id_offset_pairs"`
	MaxSubCount          uint32 `json:"max_sub_count"`
	HashManagerKeyBits   uint32 `json:"hash_manager_key_bits"`
	HashManagerHashBytes uint32 `json:"hash_manager_hash_bytes"`
	HashDigestSize       uint32 `json:"hash_digest_size"`
}

// Default returns the settings hashdb uses when the caller does not
// override a field: a 512-byte sector, 4096-byte block, up to 60 sources
// per hash record and 55 offsets per source, and a 2^24-bit presence
// filter. hash_manager_hash_bytes is recorded as 3; the filter derives its
// bit positions from every byte of the hash and does not read that field.
func Default() Settings {
	return Settings{
		DataStoreVersion:     ExpectedDataStoreVersion,
		SectorSize:           512,
		BlockSize:            4096,
		MaxIDOffsetPairs:     60,
		MaxSubCount:          55,
		HashManagerKeyBits:   24,
		HashManagerHashBytes: 3,
		HashDigestSize:       32,
	}
}

// ReadErr loads settings.json from dir, distinguishing why a read failed
// via the sentinel errors ErrNotFound, ErrUnreadable, and ErrVersionOlder
// (test with errors.Is). Lines beginning with '#' before the JSON line
// are treated as comments and skipped, per the on-disk grammar.
func ReadErr(dir string) (Settings, error) {
	path := filepath.Join(dir, settingsFilename)
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: path %q: %v", ErrNotFound, dir, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var line string
	for scanner.Scan() {
		l := scanner.Text()
		if len(l) == 0 || l[0] == '#' {
			continue
		}
		line = l
		break
	}
	if err := scanner.Err(); err != nil {
		return Settings{}, fmt.Errorf("%w: reading settings file at %q: %v", ErrUnreadable, dir, err)
	}
	if line == "" {
		return Settings{}, fmt.Errorf("%w: empty settings file at %q", ErrUnreadable, path)
	}

	var s Settings
	if err := json.Unmarshal([]byte(line), &s); err != nil {
		return Settings{}, fmt.Errorf("%w: invalid settings file at %q: %v", ErrUnreadable, path, err)
	}

	if s.DataStoreVersion < ExpectedDataStoreVersion {
		return Settings{}, fmt.Errorf("%w: the hashdb at %q is not compatible: version %d < %d",
			ErrVersionOlder, dir, s.DataStoreVersion, ExpectedDataStoreVersion)
	}

	return s, nil
}

// Read is the string-reason wrapper over ReadErr, kept for callers that
// only need a human-readable diagnostic rather than a distinguishable
// error type.
func Read(dir string) (Settings, bool, string) {
	s, err := ReadErr(dir)
	if err != nil {
		return Settings{}, false, err.Error()
	}
	return s, true, ""
}

// Write persists settings as the single JSON line of settings.json. Any
// existing settings.json is first renamed to _old_settings.json.
func Write(dir string, s Settings, logger *logrus.Logger) (bool, string) {
	if logger == nil {
		logger = logrus.New()
	}

	path := filepath.Join(dir, settingsFilename)
	oldPath := filepath.Join(dir, oldSettingsFilename)

	if _, err := os.Stat(path); err == nil {
		os.Remove(oldPath)
		if err := os.Rename(path, oldPath); err != nil {
			return false, fmt.Sprintf("unable to preserve prior settings at %q: %v", oldPath, err)
		}
		logger.WithField("dir", dir).Debug("preserved prior settings.json as _old_settings.json")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return false, fmt.Sprintf("unable to encode settings: %v", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return false, fmt.Sprintf("unable to write settings file at %q: %v", path, err)
	}

	return true, ""
}
