package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// tuple is one line of a tuple file: one occurrence of hash within the
// source identified by sourceFileHash, per SPEC_FULL.md's bulk-import
// supplement. Fields are tab-separated:
//
//	hash-hex  source-file-hash-hex  filesize  file_type  low_entropy_count  repository_name  filename  offset
type tuple struct {
	Hash            []byte
	SourceFileHash  []byte
	Filesize        uint64
	FileType        string
	LowEntropyCount uint64
	RepositoryName  string
	Filename        string
	Offset          uint64
}

func parseTuple(line string) (tuple, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 8 {
		return tuple{}, fmt.Errorf("expected 8 tab-separated fields, got %d", len(fields))
	}

	hash, err := hex.DecodeString(fields[0])
	if err != nil {
		return tuple{}, fmt.Errorf("hash: %w", err)
	}
	sourceHash, err := hex.DecodeString(fields[1])
	if err != nil {
		return tuple{}, fmt.Errorf("source file hash: %w", err)
	}
	filesize, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return tuple{}, fmt.Errorf("filesize: %w", err)
	}
	lowEntropyCount, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return tuple{}, fmt.Errorf("low_entropy_count: %w", err)
	}
	offset, err := strconv.ParseUint(fields[7], 10, 64)
	if err != nil {
		return tuple{}, fmt.Errorf("offset: %w", err)
	}

	return tuple{
		Hash:            hash,
		SourceFileHash:  sourceHash,
		Filesize:        filesize,
		FileType:        fields[3],
		LowEntropyCount: lowEntropyCount,
		RepositoryName:  fields[5],
		Filename:        fields[6],
		Offset:          offset,
	}, nil
}

// readTuples parses every non-empty, non-comment line of r and calls fn
// for each one, stopping at the first parse or callback error.
func readTuples(r io.Reader, fn func(tuple) error) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := parseTuple(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(t); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}
