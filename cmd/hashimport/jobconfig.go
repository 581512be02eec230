package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// JobConfig describes one bulk-ingest run: which database to write into,
// under what session-log command name, and which tuple files to replay
// through it. This gives a home to yaml.v2 in the ambient stack without
// touching settings.json's on-disk format, which stays JSON per spec.
type JobConfig struct {
	Database   string   `yaml:"database"`
	Command    string   `yaml:"command"`
	TupleFiles []string `yaml:"tuple_files"`
}

// LoadJobConfig reads and validates a YAML job descriptor from path.
func LoadJobConfig(path string) (JobConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return JobConfig{}, fmt.Errorf("hashimport: reading job config %q: %w", path, err)
	}

	var cfg JobConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return JobConfig{}, fmt.Errorf("hashimport: parsing job config %q: %w", path, err)
	}

	if cfg.Database == "" {
		return JobConfig{}, fmt.Errorf("hashimport: job config %q: database is required", path)
	}
	if cfg.Command == "" {
		cfg.Command = "hashimport"
	}
	if len(cfg.TupleFiles) == 0 {
		return JobConfig{}, fmt.Errorf("hashimport: job config %q: at least one tuple_files entry is required", path)
	}

	return cfg, nil
}
