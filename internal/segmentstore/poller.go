package segmentstore

import (
	"strings"
	"time"
)

// PollerStat tracks one HLS client's segment-polling activity for
// diagnostics, adapted from the teacher buffer's per-client tracking but
// scoped to read-only counters (no write path touches the catalog here).
type PollerStat struct {
	ID          string
	UserAgent   string
	PlayerHint  string
	RemoteAddr  string
	ConnectedAt time.Time
	LastRequest time.Time
	LastSegment int
	BytesServed int64
}

// playerHints maps a User-Agent substring to a recognizable player name,
// for diagnostic logging only — it never feeds back into an encoding or
// packaging decision, unlike the teacher's format-negotiating detector.
var playerHints = []struct {
	substr string
	name   string
}{
	{"hls.js", "hls.js"},
	{"mpegts.js", "mpegts.js"},
	{"exoplayer", "ExoPlayer"},
	{"avplayer", "AVPlayer"},
	{"vlc", "VLC"},
	{"ffmpeg", "ffmpeg"},
	{"qt", "QuickTime"},
	{"applecoremedia", "AppleCoreMedia"},
}

// detectPlayerHint returns the first recognized player name for userAgent,
// or "" if none of the known substrings match.
func detectPlayerHint(userAgent string) string {
	lower := strings.ToLower(userAgent)
	for _, h := range playerHints {
		if strings.Contains(lower, h.substr) {
			return h.name
		}
	}
	return ""
}

// RecordRequest registers or updates the poller identified by id, to be
// called by the HTTP layer on every segment request it serves.
func (st *Store) RecordRequest(id, userAgent, remoteAddr string, segmentIndex int, bytes int) {
	st.clientsMu.Lock()
	defer st.clientsMu.Unlock()

	c, ok := st.clients[id]
	if !ok {
		c = &PollerStat{
			ID:          id,
			UserAgent:   userAgent,
			PlayerHint:  detectPlayerHint(userAgent),
			RemoteAddr:  remoteAddr,
			ConnectedAt: time.Now(),
		}
		st.clients[id] = c
	}
	c.LastRequest = time.Now()
	c.LastSegment = segmentIndex
	c.BytesServed += int64(bytes)
}

// Pollers returns a snapshot of all tracked pollers.
func (st *Store) Pollers() []PollerStat {
	st.clientsMu.Lock()
	defer st.clientsMu.Unlock()

	out := make([]PollerStat, 0, len(st.clients))
	for _, c := range st.clients {
		out = append(out, *c)
	}
	return out
}

// ForgetStalePollers drops pollers that haven't been seen since cutoff,
// keeping the diagnostics map bounded across a long-lived session.
func (st *Store) ForgetStalePollers(cutoff time.Time) {
	st.clientsMu.Lock()
	defer st.clientsMu.Unlock()

	for id, c := range st.clients {
		if c.LastRequest.Before(cutoff) {
			delete(st.clients, id)
		}
	}
}
