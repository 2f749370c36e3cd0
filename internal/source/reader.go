// Package source presents a remote or local byte source to the demuxer
// through a synchronous pull-style Read/Seek contract.
package source

import "errors"

// Whence selects the reference point for Seek, mirroring io.Seeker plus a
// SizeQuery special case the demuxer uses to resolve total stream size.
type Whence int

const (
	// Absolute seeks to an offset from the start of the stream.
	Absolute Whence = iota
	// Relative seeks from the current position.
	Relative
	// FromEnd seeks from the end of the stream (negative offset).
	FromEnd
	// SizeQuery returns the total size without moving the position.
	SizeQuery
)

// Errors surfaced by SourceReader implementations.
var (
	// ErrSourceUnavailable means size could not be resolved, a non-200/206
	// status was returned, or the URL/descriptor was invalid. Surfaced at
	// Start; no session is created.
	ErrSourceUnavailable = errors.New("source: unavailable")
	// ErrSourceStalled means the idle timeout was exceeded.
	ErrSourceStalled = errors.New("source: stalled")
	// ErrSourceNotSynced means a LocalBlockStore descriptor named blocks
	// that are not yet fully present locally.
	ErrSourceNotSynced = errors.New("source: not synced")
	// ErrReaderCaughtUp means a synchronous Read would have to cross
	// writtenBytes and neither the tail window nor completion covers it.
	// The reader returns (0, nil) instead of blocking; callers treat a
	// zero-byte, no-error read as this condition when CaughtUp is true.
	ErrReaderCaughtUp = errors.New("source: reader caught up to download")
)

// Reader is the common capability set for all SourceReader variants.
// n==0 signals EOF-like (including ErrReaderCaughtUp); a negative return is
// never used in this Go rendition — fatal conditions are returned as errors
// instead.
type Reader interface {
	// Read fills buf and returns the number of bytes read. Returns
	// (0, nil) on true EOF or on the non-blocking caught-up condition;
	// callers distinguish the two via CaughtUp().
	Read(buf []byte) (n int, err error)

	// Seek repositions the reader per whence and returns the new
	// absolute position. Seek(0, SizeQuery) returns the total size
	// without changing position.
	Seek(offset int64, whence Whence) (newPos int64, err error)

	// AbsoluteSize returns the known or best-estimate total size.
	AbsoluteSize() int64

	// CaughtUp reports whether the most recent zero-byte Read was the
	// non-blocking "reader caught up to download" condition rather than
	// true end of stream.
	CaughtUp() bool

	// Close releases the reader's resources.
	Close() error
}

// Descriptor is the tagged variant input contract for selecting a Reader.
type Descriptor struct {
	Type string // "progressive-http", "local-block", "range-http"

	// progressive-http / range-http
	URL             string
	WaitForComplete bool

	// local-block
	BlocksCoreKey string
	BlockOffset   int64
	BlockLength   int64
	ByteOffset    int64
	ByteLength    int64
}

const (
	// DescriptorProgressiveHTTP is the default, modern source variant.
	DescriptorProgressiveHTTP = "progressive-http"
	// DescriptorLocalBlock reads from an append-only local block log.
	DescriptorLocalBlock = "local-block"
	// DescriptorRangeHTTP is the compatibility variant.
	DescriptorRangeHTTP = "range-http"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
