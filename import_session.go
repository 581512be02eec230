package hashdb

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/hashdb/internal/sourcedata"
	"github.com/i5heu/hashdb/internal/sourcename"
	"github.com/i5heu/hashdb/pkg/changes"
	"github.com/i5heu/hashdb/pkg/kv"
	"github.com/i5heu/hashdb/pkg/sessionlog"
)

// ImportSession is the single-writer ingest handle (spec §4.J / §6): one
// open environment plus the change counters and session log entry for
// this invocation.
type ImportSession struct {
	env     *env
	log     *sessionlog.Log
	changes changes.Counters
	closed  bool
}

// OpenImportSession opens dir for writing and starts a session log entry
// under command (e.g. "hashimport"). The database must already exist;
// use Create first.
func OpenImportSession(dir, command string, opts OpenOptions) (*ImportSession, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	e, err := openEnv(dir, kv.ReadWriteModify, opts.Logger)
	if err != nil {
		return nil, err
	}

	l, err := sessionlog.Open(dir, command)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("hashdb: opening session log: %w", err)
	}

	return &ImportSession{env: e, log: l}, nil
}

// InsertSourceID is insert_source_id: get-or-allocate the dense source id
// for fileHash.
func (s *ImportSession) InsertSourceID(fileHash []byte) (wasNew bool, sourceID uint64, err error) {
	return s.env.sourceID.Insert(fileHash, &s.changes)
}

// InsertSourceName is insert_source_name: record a (repository, filename)
// observation for sourceID.
func (s *ImportSession) InsertSourceName(sourceID uint64, repositoryName, filename string) (wasNew bool, err error) {
	return s.env.sourceName.Insert(sourceID, sourcename.NamePair{RepositoryName: repositoryName, Filename: filename}, &s.changes)
}

// InsertSourceData is insert_source_data: write-through per-source
// metadata.
func (s *ImportSession) InsertSourceData(rec sourcedata.Record) (changed bool, err error) {
	return s.env.sourceData.Insert(rec, &s.changes)
}

// InsertHash is the single-offset insert_hash of spec §4.I.
func (s *ImportSession) InsertHash(hash []byte, entropy float64, blockLabel string, sourceID, fileOffset uint64) (newCount uint64, err error) {
	newCount, err = s.env.hashData.Insert(hash, entropy, blockLabel, sourceID, fileOffset, &s.changes)
	return newCount, wrapCorruption(err)
}

// InsertHashBulk is the bulk/merge form of insert_hash: subCount
// occurrences of hash in sourceID, of which offsets is the (bounded) set
// of known positions.
func (s *ImportSession) InsertHashBulk(hash []byte, entropy float64, blockLabel string, sourceID, subCount uint64, offsets []uint64) (newCount uint64, err error) {
	newCount, err = s.env.hashData.InsertBulk(hash, entropy, blockLabel, sourceID, subCount, offsets, &s.changes)
	return newCount, wrapCorruption(err)
}

// Sizes reports the approximate on-disk size of the environment as
// (lsmBytes, valueLogBytes), per spec §6's sizes() surface.
func (s *ImportSession) Sizes() (lsmBytes, valueLogBytes int64) {
	return s.env.kv.Size()
}

// Changes returns a snapshot of this session's change counters so far.
func (s *ImportSession) Changes() changes.Counters {
	return s.changes.Snapshot()
}

// Close flushes the presence filter, appends the final change counters to
// log.json, and closes the environment. Close is safe to call once;
// calling it again is a no-op.
func (s *ImportSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	logErr := s.log.Close(s.changes.Snapshot())
	envErr := s.env.close()
	if logErr != nil {
		return fmt.Errorf("hashdb: closing session log: %w", logErr)
	}
	return envErr
}
