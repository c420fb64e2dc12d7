// Package lsn wraps the Postgres write-ahead-log position as an opaque,
// totally ordered value so that callers outside the wire layer never
// reason about it as a raw integer.
package lsn

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
)

// LSN is a 64-bit monotonically increasing position in the Postgres WAL.
// The zero value means "no progress yet".
type LSN uint64

// Zero is the sentinel used as a resumption checkpoint before any CDC
// progress has been made.
const Zero LSN = 0

// Next returns the LSN immediately following l. Replication is resumed
// from the first LSN not yet consumed, so callers resuming from a
// last-acknowledged position must call Next before starting the stream.
func (l LSN) Next() LSN {
	return l + 1
}

// Compare returns -1, 0, or 1 as l is less than, equal to, or greater
// than other.
func (l LSN) Compare(other LSN) int {
	switch {
	case l < other:
		return -1
	case l > other:
		return 1
	default:
		return 0
	}
}

func (l LSN) String() string {
	return pglogrepl.LSN(l).String()
}

// FromWire converts a pglogrepl LSN as received off the replication
// connection into our opaque type.
func FromWire(w pglogrepl.LSN) LSN {
	return LSN(w)
}

// ToWire converts back to the pglogrepl representation required by
// StartReplication and standby status updates.
func (l LSN) ToWire() pglogrepl.LSN {
	return pglogrepl.LSN(l)
}

// Parse parses the Postgres textual LSN form ("16/B374D848").
func Parse(s string) (LSN, error) {
	w, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return 0, fmt.Errorf("parse lsn %q: %w", s, err)
	}
	return LSN(w), nil
}

// Lag calculates the byte distance between two LSN positions.
func Lag(current, latest LSN) uint64 {
	if latest <= current {
		return 0
	}
	return uint64(latest - current)
}

// FormatLag returns a human-friendly representation of replication lag.
func FormatLag(bytes uint64, latency time.Duration) string {
	var size string
	switch {
	case bytes >= 1<<30:
		size = fmt.Sprintf("%.2f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		size = fmt.Sprintf("%.2f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		size = fmt.Sprintf("%.2f KB", float64(bytes)/float64(1<<10))
	default:
		size = fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%s (latency: %s)", size, latency.Truncate(time.Millisecond))
}
