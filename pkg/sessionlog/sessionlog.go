// Package sessionlog appends one JSON object per session invocation and,
// on close, the flushed change counters, to log.json in the database
// directory. This supplements spec.md's external-interface listing of
// log.json, which names the file but leaves its record shape to the
// implementation.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/i5heu/hashdb/pkg/changes"
)

const filename = "log.json"

// Entry is one line appended to log.json.
type Entry struct {
	Command   string            `json:"command"`
	StartedAt time.Time         `json:"started_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
	Changes   *changes.Counters `json:"changes,omitempty"`
}

// Log is an append-only writer over one database's log.json.
type Log struct {
	path  string
	entry Entry
}

// Open records the start of a new session under command (e.g.
// "import_session" or "scan_session") and appends the opening entry.
func Open(dir, command string) (*Log, error) {
	l := &Log{
		path:  filepath.Join(dir, filename),
		entry: Entry{Command: command, StartedAt: nowFunc()},
	}
	if err := l.append(l.entry); err != nil {
		return nil, err
	}
	return l, nil
}

// Close appends the closing entry with the final change counters.
func (l *Log) Close(final changes.Counters) error {
	closedAt := nowFunc()
	l.entry.ClosedAt = &closedAt
	l.entry.Changes = &final
	return l.append(l.entry)
}

func (l *Log) append(e Entry) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("sessionlog: opening %q: %w", l.path, err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sessionlog: encoding entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("sessionlog: writing %q: %w", l.path, err)
	}
	return nil
}

// nowFunc is a var so tests can pin timestamps.
var nowFunc = time.Now
