package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	"github.com/jmylchreest/hlsrelay/internal/ffmpegproc"
	"github.com/jmylchreest/hlsrelay/internal/httpapi"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
	"github.com/jmylchreest/hlsrelay/internal/source"
	"github.com/jmylchreest/hlsrelay/internal/transcoder"
	"github.com/jmylchreest/hlsrelay/pkg/diskslice"
	"github.com/jmylchreest/hlsrelay/pkg/httpclient"
)

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// SessionTTL is how long a terminal (Complete/Error) session's segment
	// catalog stays servable before the Manager drops it from the registry.
	SessionTTL time.Duration
	// CleanupInterval is how often expired sessions are swept.
	CleanupInterval time.Duration
	// HistoryMemoryThreshold bounds the in-memory size of the session
	// history log before it spills to disk, mirroring segmentstore's
	// memory-cap-then-spill policy.
	HistoryMemoryThreshold int64

	Source       source.Config
	Transcoder   transcoder.Config
	SegmentStore segmentstore.Config
	HTTPClient   *httpclient.Client

	// CodecDefaults supplies the bitrate/HWAccel knobs every session's
	// codecadapter.Params is seeded with; Classify only ever toggles
	// VideoTranscode/AudioTranscode on top of these.
	CodecDefaults codecadapter.Params

	// SingleActiveSession, when true, cancels every session for a different
	// source before starting a new one, so the process only ever serves one
	// stream at a time. Sessions for the same source are reused, never torn
	// down, regardless of this setting.
	SingleActiveSession bool
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SessionTTL:             10 * time.Minute,
		CleanupInterval:        30 * time.Second,
		HistoryMemoryThreshold: 8 * 1024 * 1024,
		Source:                 source.DefaultConfig(),
		Transcoder:             transcoder.DefaultConfig(),
		SegmentStore:           segmentstore.DefaultConfig(),
		HTTPClient:             httpclient.NewWithDefaults(),
	}
}

// Manager owns every live Session in the process. It is the process-wide
// registry: a single lock-guarded map with explicit init (NewManager) and
// explicit teardown (Close), not something left to garbage collection.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	ffmpeg *ffmpegproc.Adapter

	mu       sync.RWMutex
	sessions map[string]*Session
	done     map[string]struct{}

	dedup singleflight.Group

	history *diskslice.DiskSlice[Record]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager and starts its cleanup loop.
func NewManager(cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	history, err := diskslice.New[Record](diskslice.Options{
		MemoryThreshold:   cfg.HistoryMemoryThreshold,
		EstimatedItemSize: 512,
		Name:              "hlsrelay-session-history",
	})
	if err != nil {
		return nil, fmt.Errorf("session: creating history log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "session_manager")),
		ffmpeg:   ffmpegproc.NewAdapter(logger),
		sessions: make(map[string]*Session),
		done:     make(map[string]struct{}),
		history:  history,
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m, nil
}

// Start begins a new session for descriptor, or returns the existing
// session if one is already running for the same descriptor+title key —
// two concurrent Start calls for the same source collapse onto a single
// transcoder task via singleflight, satisfying the reused-session
// invariant without a second lock-and-scan of the registry.
func (m *Manager) Start(ctx context.Context, d source.Descriptor, title string, lanHost string) (*Session, error) {
	key := d.URL + "|" + d.BlocksCoreKey + "|" + title

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := m.dedup.Do(key, func() (any, error) {
		if existing := m.findByKey(key); existing != nil {
			return existing, nil
		}
		if m.cfg.SingleActiveSession {
			m.stopOtherSessions(key)
		}
		return m.createSession(d, title, lanHost)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// stopOtherSessions cancels every live session whose descriptor+title key
// differs from key, enforcing the single-active-session policy before a new
// session is created.
func (m *Manager) stopOtherSessions(key string) {
	m.mu.RLock()
	var others []*Session
	for _, s := range m.sessions {
		sKey := s.Descriptor.URL + "|" + s.Descriptor.BlocksCoreKey + "|" + s.Title
		if sKey != key && s.Status() != StatusComplete && s.Status() != StatusError {
			others = append(others, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range others {
		s.cancel()
	}
}

func (m *Manager) findByKey(key string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Descriptor.URL+"|"+s.Descriptor.BlocksCoreKey+"|"+s.Title == key {
			if s.Status() != StatusComplete && s.Status() != StatusError {
				return s
			}
		}
	}
	return nil
}

func (m *Manager) createSession(d source.Descriptor, title, lanHost string) (*Session, error) {
	classification := Classify(d.URL, title)

	sessCtx, cancel := context.WithCancel(m.ctx)
	sess := &Session{
		ID:             uuid.New().String(),
		Descriptor:     d,
		Title:          title,
		LANHost:        lanHost,
		CreatedAt:      time.Now(),
		Classification: classification,
		status:         StatusStarting,
		cancel:         cancel,
	}

	store, err := segmentstore.New(m.cfg.SegmentStore, newSessionLogger(m.logger, sess.ID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("session: creating segment store: %w", err)
	}
	sess.store = store
	store.RunSweeper(m.cfg.CleanupInterval, sessCtx.Done())

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	go m.run(sessCtx, sess)

	return sess, nil
}

// run drives one session's source-open → transcode lifecycle, recording the
// terminal status and appending a history Record when it ends.
func (m *Manager) run(ctx context.Context, sess *Session) {
	logger := newSessionLogger(m.logger, sess.ID)

	sess.setStatus(StatusDownloading)
	reader, err := source.Open(ctx, m.cfg.HTTPClient, logger, nil, sess.Descriptor, m.cfg.Source)
	if err != nil {
		sess.fail(fmt.Errorf("session: opening source: %w", err))
		m.finish(sess)
		return
	}
	defer reader.Close()
	sess.setTotalSize(reader.AbsoluteSize())

	sess.setStatus(StatusInitializing)
	params := codecParams(sess.Classification, m.cfg.CodecDefaults)
	sess.setParams(params)
	tc := transcoder.New(m.ffmpeg, sess.store, m.cfg.Transcoder, logger)
	sess.tc = tc

	sess.setStatus(StatusTranscoding)
	if err := tc.Run(ctx, asReadSeeker(reader), reader.AbsoluteSize(), params); err != nil {
		sess.fail(fmt.Errorf("session: transcoding: %w", err))
		m.finish(sess)
		return
	}

	sess.setStatus(StatusComplete)
	m.finish(sess)
}

func (m *Manager) finish(sess *Session) {
	m.mu.Lock()
	m.done[sess.ID] = struct{}{}
	m.mu.Unlock()
}

// Get returns a live or recently-finished session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Lookup satisfies internal/httpapi.SessionLookup, the only point where
// this package names a type from internal/httpapi — httpapi itself never
// imports internal/session, so the dependency runs one way.
func (m *Manager) Lookup(id string) (httpapi.Session, bool) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

var _ httpapi.SessionLookup = (*Manager)(nil)

// List returns every currently registered session.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Stop cancels a running session immediately, without waiting for it to
// reach a natural terminal state.
func (m *Manager) Stop(id string) error {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.cancel()
	return nil
}

// CommandPreview returns the resolved ffmpeg command for a live session,
// for operator diagnostics on a stuck Transcoding state.
func (m *Manager) CommandPreview(ctx context.Context, id string) (CommandPreview, error) {
	sess, ok := m.Get(id)
	if !ok {
		return CommandPreview{}, ErrSessionNotFound
	}
	preview, ok := sess.CommandPreview(ctx, m.ffmpeg)
	if !ok {
		return CommandPreview{}, fmt.Errorf("session: %s has no active command yet", id)
	}
	return preview, nil
}

// History returns the recorded history of every session that has ever
// ended in this process, oldest first.
func (m *Manager) History() ([]Record, error) {
	return m.history.ToSlice()
}

// Close cancels every live session and waits for their goroutines to exit,
// fanning in their shutdown via errgroup rather than a bare WaitGroup so the
// first session-level error (if any arises from a future Close hook) is
// still observable.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, s := range sessions {
		sess := s
		g.Go(func() error {
			sess.cancel()
			return nil
		})
	}
	err := g.Wait()

	m.wg.Wait()
	m.history.Close()
	return err
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops sessions that finished more than SessionTTL ago, recording
// each as a history Record first.
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var toRemove []string
	for id := range m.done {
		sess, ok := m.sessions[id]
		if !ok {
			delete(m.done, id)
			continue
		}
		if endedAt := sess.EndedAt(); !endedAt.IsZero() && now.Sub(endedAt) > m.cfg.SessionTTL {
			toRemove = append(toRemove, id)
		}
	}
	var removed []*Session
	for _, id := range toRemove {
		removed = append(removed, m.sessions[id])
		delete(m.sessions, id)
		delete(m.done, id)
	}
	m.mu.Unlock()

	for _, sess := range removed {
		if err := m.history.Append(toRecord(sess, sess.EndedAt())); err != nil {
			m.logger.Warn("appending session history", slog.String("session", sess.ID), slog.Any("error", err))
		}
		sess.store.Close()
	}
}
