package segmentstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/hlsrelay/pkg/diskslice"
)

// Config tunes a Store's memory cap and disk spillover.
type Config struct {
	// MaxMemorySegments is the approximate number of segments kept
	// in-process before the catalog spills to a temp file. Translated into
	// pkg/diskslice's byte threshold via EstimatedSegmentBytes.
	MaxMemorySegments int
	// EstimatedSegmentBytes seeds diskslice's spill estimator; actual
	// per-segment size varies with bitrate and target segment duration.
	EstimatedSegmentBytes int
	// SegmentTTL bounds how long a completed segment stays servable after
	// it was committed. Zero disables the sweep.
	SegmentTTL time.Duration
	// TempDir is where the backing file is created once the cap is
	// exceeded. Empty uses the OS default.
	TempDir string
	// SpillNamePrefix identifies the owning session in the backing temp
	// file's name. Empty generates a fresh ULID: monotonic and sortable,
	// so spill files left behind by a crash can be matched back to
	// creation order during diagnostics without reading session metadata.
	SpillNamePrefix string
}

// DefaultConfig mirrors the teacher buffer's defaults, reinterpreted as a
// memory-cap-before-spill policy instead of an eviction policy.
func DefaultConfig() Config {
	return Config{
		MaxMemorySegments:     30,
		EstimatedSegmentBytes: 2 * 1024 * 1024,
		SegmentTTL:            2 * time.Hour,
		TempDir:               "",
	}
}

// Store is a session's append-only segment catalog. Segments are published
// in increasing Index order; once published, an index is never reassigned
// or removed for the life of the Store, though a segment past SegmentTTL
// may be reaped from the servable index (see Sweep).
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	slice  *diskslice.DiskSlice[Segment]
	logger *slog.Logger

	count           int
	highestComplete int
	reaped          map[int]bool

	clients   map[string]*PollerStat
	clientsMu sync.Mutex
}

// New creates a Store backed by pkg/diskslice with cfg's memory cap.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.MaxMemorySegments <= 0 {
		cfg.MaxMemorySegments = DefaultConfig().MaxMemorySegments
	}
	if cfg.EstimatedSegmentBytes <= 0 {
		cfg.EstimatedSegmentBytes = DefaultConfig().EstimatedSegmentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpillNamePrefix == "" {
		cfg.SpillNamePrefix = "hlsrelay-segments-" + ulid.Make().String()
	}

	slice, err := diskslice.New[Segment](diskslice.Options{
		MemoryThreshold:   int64(cfg.MaxMemorySegments) * int64(cfg.EstimatedSegmentBytes),
		TempDir:           cfg.TempDir,
		EstimatedItemSize: cfg.EstimatedSegmentBytes,
		Name:              cfg.SpillNamePrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("segmentstore: creating backing slice: %w", err)
	}

	return &Store{
		cfg:             cfg,
		slice:           slice,
		logger:          logger,
		highestComplete: -1,
		reaped:          make(map[int]bool),
		clients:         make(map[string]*PollerStat),
	}, nil
}

// Add publishes seg. The catalog is append-only: seg.Index must equal the
// next sequential index (Len()), matching the Transcoder's no-gaps
// invariant for committed segments.
func (st *Store) Add(seg Segment) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if seg.Index != st.count {
		return fmt.Errorf("segmentstore: out-of-order publish: got index %d, want %d", seg.Index, st.count)
	}
	seg.Size = len(seg.Data)
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}

	if err := st.slice.Append(seg); err != nil {
		return fmt.Errorf("segmentstore: appending segment %d: %w", seg.Index, err)
	}
	st.count++
	if seg.Complete && seg.Index > st.highestComplete {
		st.highestComplete = seg.Index
	}

	if st.slice.IsSpilled() {
		st.logger.Debug("segmentstore: catalog spilled to disk", "segments", st.count)
	}
	return nil
}

// Len returns the number of segments ever published.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.count
}

// Has reports whether index has been published and hasn't been reaped.
func (st *Store) Has(index int) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return index >= 0 && index < st.count && !st.reaped[index]
}

// HighestComplete returns the largest published index marked Complete, or
// -1 if none have been committed yet.
func (st *Store) HighestComplete() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.highestComplete
}

// Get retrieves the segment at index. Returns ErrNotFound if index was
// never published or has since been reaped by the TTL sweep.
func (st *Store) Get(index int) (*Segment, error) {
	st.mu.RLock()
	reaped := st.reaped[index]
	inRange := index >= 0 && index < st.count
	st.mu.RUnlock()

	if !inRange || reaped {
		return nil, ErrNotFound
	}

	seg, err := st.slice.Get(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return seg, nil
}

// Sweep drops segments older than cfg.SegmentTTL from the servable index.
// Their bytes remain in the backing diskslice file (which only supports
// sequential append, not in-place deletion) until the Store is closed; the
// sweep bounds what the HTTP layer will serve, not on-disk usage. A no-op
// when SegmentTTL is zero.
func (st *Store) Sweep() int {
	if st.cfg.SegmentTTL <= 0 {
		return 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-st.cfg.SegmentTTL)
	reapedNow := 0
	for i := 0; i < st.count; i++ {
		if st.reaped[i] {
			continue
		}
		seg, err := st.slice.Get(i)
		if err != nil {
			continue
		}
		if seg.CreatedAt.Before(cutoff) {
			st.reaped[i] = true
			reapedNow++
		}
	}
	if reapedNow > 0 {
		st.logger.Debug("segmentstore: swept expired segments", "count", reapedNow)
	}
	return reapedNow
}

// RunSweeper starts a goroutine that calls Sweep on the given interval
// until stop is closed.
func (st *Store) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 || st.cfg.SegmentTTL <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Close releases the backing disk file. Call once the session it belongs
// to has fully stopped.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.slice.Close()
}
