// Package segmentstore implements the append-only segment catalog a
// Transcoder publishes into and an HLS server reads from. Unlike a sliding
// playback buffer, entries are never evicted to make room while a session
// is active: older payloads spill from memory to a disk-backed file (via
// pkg/diskslice) rather than being dropped. A published index stays
// reachable until the SegmentTTL sweep reaps it (see Store.Sweep).
package segmentstore

import (
	"fmt"
	"time"
)

// Segment is one committed MPEG-TS segment's payload and timing metadata.
// Data is nil for a reserved-but-not-yet-written slot; Complete is set once
// the payload is durably appended.
type Segment struct {
	Index     int
	StartPTS  float64 // seconds, Transcoder's session-relative clock
	Duration  float64 // seconds
	Data      []byte
	Size      int
	CreatedAt time.Time
	Complete  bool
}

// IsEmpty reports whether the segment has no payload yet.
func (s Segment) IsEmpty() bool {
	return len(s.Data) == 0
}

// ErrNotFound is returned by Get when index has never been published.
var ErrNotFound = fmt.Errorf("segmentstore: segment not found")
