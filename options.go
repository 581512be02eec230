package hashdb

import "github.com/sirupsen/logrus"

// CreateOptions configures create_hashdb (spec §6). Zero-valued fields
// fall back to settingsstore.Default().
type CreateOptions struct {
	SectorSize       uint32
	BlockSize        uint32
	MaxIDOffsetPairs uint32
	MaxSubCount      uint32
	HashPrefixBits   uint32 // hash_manager_key_bits
	HashSuffixBytes  uint32 // hash_manager_hash_bytes
	HashDigestSize   uint32
	Logger           *logrus.Logger
}

// OpenOptions configures OpenImportSession and OpenScanSession, analogous
// to the teacher's keyValStore.StoreConfig.
type OpenOptions struct {
	ReadOnly bool
	Logger   *logrus.Logger
}
