package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
)

type fakeSession struct {
	store    *segmentstore.Store
	complete bool
	failed   bool
}

func (f *fakeSession) Store() *segmentstore.Store { return f.store }
func (f *fakeSession) Complete() bool             { return f.complete }
func (f *fakeSession) Failed() bool               { return f.failed }

type fakeLookup map[string]*fakeSession

func (f fakeLookup) Lookup(id string) (Session, bool) {
	sess, ok := f[id]
	if !ok {
		return nil, false
	}
	return sess, true
}

func newTestStore(t *testing.T) *segmentstore.Store {
	t.Helper()
	cfg := segmentstore.DefaultConfig()
	cfg.SegmentTTL = 0
	st, err := segmentstore.New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("segmentstore.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestHandlePing(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", fakeLookup{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var stats pingStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding ping body: %v", err)
	}
	if stats.Status != "ok" {
		t.Errorf("status = %q, want %q", stats.Status, "ok")
	}
}

func TestHandlePlaylist_UnknownSession(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", fakeLookup{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/missing/stream.m3u8", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandlePlaylist_RendersCatalog(t *testing.T) {
	store := newTestStore(t)
	store.Add(segmentstore.Segment{Index: 0, Duration: 2, Data: []byte("x"), Complete: true})

	lookup := fakeLookup{"abc": {store: store}}
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", lookup)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/abc/stream.m3u8", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/vnd.apple.mpegurl" {
		t.Errorf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if got := rr.Body.String(); !strings.Contains(got, "#EXTM3U") {
		t.Errorf("expected a playlist body, got %q", got)
	}
}

func TestHandleSegment_ServesPublishedSegment(t *testing.T) {
	store := newTestStore(t)
	store.Add(segmentstore.Segment{Index: 0, Duration: 2, Data: []byte("tsdata"), Complete: true})

	lookup := fakeLookup{"abc": {store: store}}
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", lookup)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/abc/segment0.ts", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "tsdata" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "tsdata")
	}
	if rr.Header().Get("Content-Type") != "video/MP2T" {
		t.Errorf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
}

func TestHandleSegment_NotYetPublishedReturns503WithRetryAfter(t *testing.T) {
	store := newTestStore(t)
	lookup := fakeLookup{"abc": {store: store}}
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", lookup)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/abc/segment0.ts", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
}

func TestHandleSegment_NotYetPublishedButSessionCompleteReturns404(t *testing.T) {
	store := newTestStore(t)
	lookup := fakeLookup{"abc": {store: store, complete: true}}
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", lookup)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/abc/segment0.ts", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleSegment_UnreapedSegmentAtHighestCompleteReturns200(t *testing.T) {
	store := newTestStore(t)
	store.Add(segmentstore.Segment{Index: 0, Duration: 2, Data: []byte("x"), Complete: true})
	store.Add(segmentstore.Segment{Index: 1, Duration: 2, Data: []byte("y"), Complete: true})

	lookup := fakeLookup{"abc": {store: store}}
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", lookup)

	// index 1 is HighestComplete and, with SegmentTTL=0, is never swept,
	// so the handler serves it. This test documents the boundary at
	// HighestComplete; the swept-segment 404 branch is not exercised here.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/abc/segment1.ts", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a published, unreaped segment", rr.Code)
	}
}

func TestHandleSegment_InvalidIndex(t *testing.T) {
	store := newTestStore(t)
	lookup := fakeLookup{"abc": {store: store}}
	srv := NewServer(DefaultServerConfig(), slog.Default(), "test", lookup)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/abc/segmentabc.ts", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
