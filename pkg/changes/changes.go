// Package changes holds the plain, owned change-accounting counters that
// record the effect of one ingest session. It is not persisted directly;
// hashdb's façade flushes a Snapshot to the session log on close.
package changes

// Counters tallies the effects of a single writer session across the
// source id, source data, source name and hash-data managers. It is not
// safe for concurrent use — hashdb is single-writer, and managers receive
// it by exclusive reference for the duration of one call.
type Counters struct {
	SourceInserted             uint64
	OffsetInserted             uint64
	DataChanged                uint64
	DuplicateOffsetDetected    uint64
	MismatchedSubCountDetected uint64
	SourceNameInserted         uint64
	SourceDataInserted         uint64
	SourceDataChanged          uint64
	SourceIDInserted           uint64
}

// Snapshot returns a copy of the counters suitable for logging or
// serializing; it does not reset them.
func (c *Counters) Snapshot() Counters {
	return *c
}

// Reset zeroes every counter, e.g. between sessions sharing one process.
func (c *Counters) Reset() {
	*c = Counters{}
}
