// Command hashimport replays already-produced (hash, source, offset)
// tuple files into a hashdb database. It does not scan files itself; the
// block-hash scanner that produces its input remains an external
// collaborator, per the boundary in spec.md's Non-goals.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/hashdb"
	"github.com/i5heu/hashdb/internal/sourcedata"
)

func main() {
	jobPath := flag.String("job", "", "path to a YAML job descriptor (see jobconfig.go)")
	flag.Parse()

	logger := logrus.New()

	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "usage: hashimport -job <job.yaml>")
		os.Exit(1)
	}

	cfg, err := LoadJobConfig(*jobPath)
	if err != nil {
		logger.WithError(err).Error("hashimport: loading job config")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("hashimport: run failed")
		os.Exit(1)
	}
}

func run(cfg JobConfig, logger *logrus.Logger) error {
	session, err := hashdb.OpenImportSession(cfg.Database, cfg.Command, hashdb.OpenOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("opening import session: %w", err)
	}
	defer session.Close()

	for _, path := range cfg.TupleFiles {
		if err := importTupleFile(session, path, logger); err != nil {
			return fmt.Errorf("importing %q: %w", path, err)
		}
	}

	changes := session.Changes()
	logger.WithFields(logrus.Fields{
		"source_inserted":  changes.SourceInserted,
		"offset_inserted":  changes.OffsetInserted,
		"source_id_inserted": changes.SourceIDInserted,
	}).Info("hashimport: job complete")
	return nil
}

func importTupleFile(session *hashdb.ImportSession, path string, logger *logrus.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return readTuples(f, func(t tuple) error {
		_, sourceID, err := session.InsertSourceID(t.SourceFileHash)
		if err != nil {
			return fmt.Errorf("insert_source_id: %w", err)
		}

		if _, err := session.InsertSourceData(sourcedata.Record{
			SourceID:        sourceID,
			FileHash:        t.SourceFileHash,
			Filesize:        t.Filesize,
			FileType:        t.FileType,
			LowEntropyCount: t.LowEntropyCount,
		}); err != nil {
			return fmt.Errorf("insert_source_data: %w", err)
		}

		if t.RepositoryName != "" || t.Filename != "" {
			if _, err := session.InsertSourceName(sourceID, t.RepositoryName, t.Filename); err != nil {
				return fmt.Errorf("insert_source_name: %w", err)
			}
		}

		if _, err := session.InsertHash(t.Hash, 0, "", sourceID, t.Offset); err != nil {
			return fmt.Errorf("insert_hash: %w", err)
		}
		return nil
	})
}
