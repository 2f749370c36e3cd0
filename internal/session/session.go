// Package session owns the lifecycle of one on-demand transcoding run: it
// opens a source, classifies it, drives an internal/transcoder.Transcoder
// against it, and exposes the result to internal/httpapi through the narrow
// Session/SessionLookup interfaces that package defines.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	"github.com/jmylchreest/hlsrelay/internal/ffmpegproc"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
	"github.com/jmylchreest/hlsrelay/internal/source"
	"github.com/jmylchreest/hlsrelay/internal/transcoder"
)

// Status is the session-level state machine, a superset of
// transcoder.State: Starting and Downloading precede the Transcoder even
// being constructed, since the source must be opened and its initial
// buffer threshold satisfied first.
type Status int

const (
	StatusStarting Status = iota
	StatusDownloading
	StatusInitializing
	StatusTranscoding
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusDownloading:
		return "downloading"
	case StatusInitializing:
		return "initializing"
	case StatusTranscoding:
		return "transcoding"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// statusProgress is the coarse progress percentage assigned on entry to
// each status; Session.progress changes only on these transitions.
var statusProgress = map[Status]int{
	StatusStarting:      0,
	StatusDownloading:   10,
	StatusInitializing:  25,
	StatusTranscoding:   50,
	StatusComplete:      100,
}

// Session is one source-to-segments run. Its fields are mutated only by the
// owning goroutine started in Manager.Start; all external access goes
// through the accessor methods, which take mu.
type Session struct {
	ID             string
	Descriptor     source.Descriptor
	Title          string
	LANHost        string
	CreatedAt      time.Time
	Classification Classification

	store  *segmentstore.Store
	tc     *transcoder.Transcoder
	params codecadapter.Params

	mu        sync.RWMutex
	status    Status
	progress  int
	totalSize int64
	err       error
	endedAt   time.Time

	cancel context.CancelFunc
}

// Store returns the segment catalog, satisfying internal/httpapi.Session.
func (s *Session) Store() *segmentstore.Store {
	return s.store
}

// Complete reports whether the session finished successfully, satisfying
// internal/httpapi.Session.
func (s *Session) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusComplete
}

// Failed reports whether the session ended in error, satisfying
// internal/httpapi.Session.
func (s *Session) Failed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusError
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Progress returns the current coarse progress percentage, in [0,100].
func (s *Session) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Err returns the terminal error, if the session ended in StatusError.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// TotalSize returns the source's total byte size, or 0 if not yet known.
func (s *Session) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSize
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if p, ok := statusProgress[status]; ok {
		s.progress = p
	}
	if status == StatusComplete {
		s.endedAt = time.Now()
	}
}

// EndedAt returns the time the session reached a terminal status, or the
// zero time if it is still running.
func (s *Session) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

func (s *Session) setParams(p codecadapter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

func (s *Session) setTotalSize(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSize = n
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.err = err
	s.endedAt = time.Now()
}

// Record is the append-only history entry written once a session ends,
// independent of the live Session (which is dropped from the registry once
// its TTL expires). Kept for post-hoc diagnostics.
type Record struct {
	ID         string
	SourceURL  string
	Title      string
	Status     string
	Reason     string
	TotalBytes int64
	StartedAt  time.Time
	EndedAt    time.Time
	Err        string
}

func toRecord(s *Session, endedAt time.Time) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := Record{
		ID:         s.ID,
		SourceURL:  s.Descriptor.URL,
		Title:      s.Title,
		Status:     s.status.String(),
		Reason:     s.Classification.Reason,
		TotalBytes: s.totalSize,
		StartedAt:  s.CreatedAt,
		EndedAt:    endedAt,
	}
	if s.err != nil {
		rec.Err = s.err.Error()
	}
	return rec
}

// CommandPreview is the resolved ffmpeg invocation for a session's active
// transcoder, surfaced for operators debugging a stuck Transcoding state
// rather than adding a new API surface of its own.
type CommandPreview struct {
	Binary string
	Args   []string
}

// CommandPreview returns the ffmpeg command this session's transcoder is
// (or would be) running, or false if the session has no active codec
// adapter yet (still Starting/Downloading).
func (s *Session) CommandPreview(ctx context.Context, ffmpeg *ffmpegproc.Adapter) (CommandPreview, bool) {
	s.mu.RLock()
	started := s.tc != nil
	params := s.params
	s.mu.RUnlock()
	if !started {
		return CommandPreview{}, false
	}
	binary, args, err := ffmpeg.Preview(ctx, params)
	if err != nil {
		return CommandPreview{}, false
	}
	return CommandPreview{Binary: binary, Args: args}, true
}

// ErrSessionNotFound is returned by Manager.Stop and Manager.CommandPreview
// for an unknown or already-expired session id.
var ErrSessionNotFound = errors.New("session: not found")

func newSessionLogger(base *slog.Logger, id string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", "session"), slog.String("session", id))
}

// codecParams layers a Classification's remux/transcode decision onto the
// Manager's configured bitrate/HWAccel defaults.
func codecParams(c Classification, defaults codecadapter.Params) codecadapter.Params {
	p := defaults
	p.VideoTranscode = c.NeedsVideoTranscode
	p.AudioTranscode = c.NeedsAudioTranscode
	return p
}
