package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const segmentNotReadyRetryAfterSeconds = "1"

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	stats := collectPingStats(s.version)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "hlsrelay %s\n", s.version)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	sess, ok := s.sessions.Lookup(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	body := s.pl.Render(sess.Store(), sess.Complete())

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	sess, ok := s.sessions.Lookup(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid segment index", http.StatusBadRequest)
		return
	}

	store := sess.Store()
	if store.Has(index) {
		seg, err := store.Get(index)
		if err != nil {
			http.Error(w, "segment not found", http.StatusNotFound)
			return
		}
		store.RecordRequest(requestPollerID(r), r.UserAgent(), r.RemoteAddr, index, len(seg.Data))

		w.Header().Set("Content-Type", "video/MP2T")
		w.Header().Set("Content-Length", strconv.Itoa(len(seg.Data)))
		w.Header().Set("Cache-Control", "max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(seg.Data)
		return
	}

	// Index is within the published range but not servable: it was swept
	// by the TTL reaper, and it will never come back.
	if index <= store.HighestComplete() {
		http.Error(w, "segment no longer available", http.StatusNotFound)
		return
	}

	// Index is ahead of what's been published. If the session is still
	// running, the segment may simply not exist *yet* — ask the poller to
	// retry rather than treat this as a permanent 404.
	if sess.Complete() || sess.Failed() {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Retry-After", segmentNotReadyRetryAfterSeconds)
	http.Error(w, "segment not ready, retry shortly", http.StatusServiceUnavailable)
}

// requestPollerID identifies a polling client for poller-stat tracking. The
// request ID middleware already stamps one request header with a unique
// value per request, not per connection, so this falls back to the remote
// address when no stable client-supplied identifier is present.
func requestPollerID(r *http.Request) string {
	if id := r.Header.Get("X-Hlsrelay-Client-ID"); id != "" {
		return id
	}
	return r.RemoteAddr
}
