package source

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jmylchreest/hlsrelay/pkg/bytesize"
	"github.com/jmylchreest/hlsrelay/pkg/httpclient"
)

// fetchPriority labels a RangeCache fetch. fetchRange accepts it but does
// not order fetches by it.
type fetchPriority int

const (
	priorityNormal fetchPriority = iota
	priorityHigh
)

// RangeCacheConfig configures the sparse byte-range cache.
type RangeCacheConfig struct {
	Capacity           int // max cached ranges before LRU eviction
	StartPrefetchBytes bytesize.Size
	TailPrefetchBytes  bytesize.Size
	PrefetchAheadBytes bytesize.Size
}

// DefaultRangeCacheConfig returns sensible defaults.
func DefaultRangeCacheConfig() RangeCacheConfig {
	return RangeCacheConfig{
		Capacity:           256,
		StartPrefetchBytes: bytesize.Size(2 * 1024 * 1024),
		TailPrefetchBytes:  bytesize.Size(10 * 1024 * 1024),
		PrefetchAheadBytes: bytesize.Size(4 * 1024 * 1024),
	}
}

// byteRange is an immutable cached interval [start, end).
type byteRange struct {
	start, end int64
	data       []byte
}

func (r byteRange) contains(off, length int64) bool {
	return off >= r.start && off+length <= r.end
}

// RangeCache maintains a sparse LRU cache of fetched byte ranges, backed by
// HTTP range requests. Each fetch is issued directly; there is no queue
// ordering fetches by priority. Misses are fatal on
// a cooperative-scheduler deployment — prefetch must stay ahead of
// the reader.
type RangeCache struct {
	cfg    RangeCacheConfig
	client *httpclient.Client
	logger *slog.Logger
	url    string

	totalSize int64

	mu      sync.Mutex
	ranges  *list.List // most-recently-used at the front, holds *byteRange
	byStart map[int64]*list.Element

	pos          int64
	lastReadEnd  int64
	cancelAhead  context.CancelFunc
}

// NewRangeCache resolves the content length and primes the start/tail
// prefetch windows at High priority before returning.
func NewRangeCache(ctx context.Context, client *httpclient.Client, logger *slog.Logger, url string, cfg RangeCacheConfig) (*RangeCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "source.rangecache"))

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	resp, err := client.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	resp.Body.Close()
	if resp.ContentLength <= 0 {
		return nil, fmt.Errorf("%w: unknown content length", ErrSourceUnavailable)
	}

	rc := &RangeCache{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		url:       url,
		totalSize: resp.ContentLength,
		ranges:    list.New(),
		byStart:   make(map[int64]*list.Element),
	}

	if err := rc.fetchRange(ctx, 0, int64(cfg.StartPrefetchBytes), priorityHigh); err != nil {
		return nil, fmt.Errorf("%w: prefetching start: %v", ErrSourceUnavailable, err)
	}
	tailStart := rc.totalSize - int64(cfg.TailPrefetchBytes)
	if tailStart < 0 {
		tailStart = 0
	}
	if err := rc.fetchRange(ctx, tailStart, rc.totalSize-tailStart, priorityHigh); err != nil {
		return nil, fmt.Errorf("%w: prefetching tail: %v", ErrSourceUnavailable, err)
	}

	return rc, nil
}

// fetchRange synchronously fetches [start, start+length) and inserts it,
// evicting the least-recently-used range if at capacity.
func (rc *RangeCache) fetchRange(ctx context.Context, start, length int64, _ fetchPriority) error {
	if length <= 0 {
		return nil
	}
	end := start + length
	if end > rc.totalSize {
		end = rc.totalSize
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	resp, err := rc.client.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("range fetch returned HTTP %d", resp.StatusCode)
	}

	data := make([]byte, 0, end-start)
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	r := &byteRange{start: start, end: start + int64(len(data)), data: data}
	elem := rc.ranges.PushFront(r)
	rc.byStart[start] = elem
	for rc.ranges.Len() > rc.cfg.Capacity {
		back := rc.ranges.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*byteRange)
		delete(rc.byStart, evicted.start)
		rc.ranges.Remove(back)
	}
	return nil
}

// lookup returns bytes fully satisfying [off, off+length) from cache, or
// nil if no single cached range covers it.
func (rc *RangeCache) lookup(off, length int64) []byte {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lookupLocked(off, length)
}

// lookupLocked is lookup's body; callers must already hold rc.mu.
func (rc *RangeCache) lookupLocked(off, length int64) []byte {
	for e := rc.ranges.Front(); e != nil; e = e.Next() {
		r := e.Value.(*byteRange)
		if r.contains(off, length) {
			rc.ranges.MoveToFront(e)
			out := make([]byte, length)
			copy(out, r.data[off-r.start:off-r.start+length])
			return out
		}
	}
	return nil
}

// Read implements Reader. A cache miss is treated as ReaderCaughtUp: on a
// cooperative-scheduler deployment this must be avoided by aggressive
// prefetch rather than resolved by a blocking fetch.
func (rc *RangeCache) Read(buf []byte) (int, error) {
	rc.mu.Lock()
	pos := rc.pos
	rc.mu.Unlock()

	if pos >= rc.totalSize {
		return 0, nil
	}
	want := int64(len(buf))
	if pos+want > rc.totalSize {
		want = rc.totalSize - pos
	}

	data := rc.lookup(pos, want)
	if data == nil {
		rc.mu.Lock()
		rc.pos = pos // unchanged
		rc.mu.Unlock()
		return 0, nil // caught up / miss: see ErrReaderCaughtUp
	}

	n := copy(buf, data)
	rc.mu.Lock()
	sequential := pos == rc.lastReadEnd
	rc.pos += int64(n)
	rc.lastReadEnd = rc.pos
	ahead := rc.pos
	var ctx context.Context
	if sequential {
		ctx, rc.cancelAhead = context.WithCancel(context.Background())
	}
	rc.mu.Unlock()

	if sequential {
		go func() {
			_ = rc.fetchRange(ctx, ahead, int64(rc.cfg.PrefetchAheadBytes), priorityNormal)
		}()
	}
	return n, nil
}

// Seek implements Reader. A large delta cancels pending Normal-priority
// fetches that no longer cover near-future reads.
func (rc *RangeCache) Seek(offset int64, whence Whence) (int64, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if whence == SizeQuery {
		return rc.totalSize, nil
	}

	var newPos int64
	switch whence {
	case Absolute:
		newPos = offset
	case Relative:
		newPos = rc.pos + offset
	case FromEnd:
		newPos = rc.totalSize + offset
	default:
		return 0, fmt.Errorf("source: unknown whence %d", whence)
	}

	delta := newPos - rc.pos
	if delta > int64(rc.cfg.PrefetchAheadBytes) || delta < -int64(rc.cfg.PrefetchAheadBytes) {
		if rc.cancelAhead != nil {
			rc.cancelAhead()
			rc.cancelAhead = nil
		}
	}

	rc.pos = clamp(newPos, 0, rc.totalSize)
	return rc.pos, nil
}

// AbsoluteSize implements Reader.
func (rc *RangeCache) AbsoluteSize() int64 { return rc.totalSize }

// CaughtUp implements Reader; RangeCache treats every miss as caught-up.
func (rc *RangeCache) CaughtUp() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.pos < rc.totalSize && rc.lookupLocked(rc.pos, 1) == nil
}

// Close releases cache state.
func (rc *RangeCache) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancelAhead != nil {
		rc.cancelAhead()
	}
	rc.ranges.Init()
	rc.byStart = nil
	return nil
}
