package session

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/source"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultManagerConfig()
	cfg.CleanupInterval = 50 * time.Millisecond
	cfg.SessionTTL = 50 * time.Millisecond
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerGetUnknownSession(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.Get("nonexistent"); ok {
		t.Error("Get(nonexistent) = true, want false")
	}
}

func TestManagerStopUnknownSession(t *testing.T) {
	m := newTestManager(t)
	if err := m.Stop("nonexistent"); err != ErrSessionNotFound {
		t.Errorf("Stop(nonexistent) = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerStartFailsForUnreachableSource(t *testing.T) {
	m := newTestManager(t)

	d := source.Descriptor{
		Type: source.DescriptorProgressiveHTTP,
		URL:  "http://127.0.0.1:1/does-not-exist.mp4",
	}

	sess, err := m.Start(context.Background(), d, "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Status() == StatusError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := sess.Status(); got != StatusError {
		t.Fatalf("Status() = %v, want StatusError", got)
	}
	if sess.Err() == nil {
		t.Error("Err() = nil, want the source-open failure")
	}
}

func TestManagerStartReusesSessionForSameSource(t *testing.T) {
	m := newTestManager(t)

	d := source.Descriptor{
		Type: source.DescriptorProgressiveHTTP,
		URL:  "http://127.0.0.1:1/does-not-exist.mp4",
	}

	first, err := m.Start(context.Background(), d, "same-title", "")
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	second, err := m.Start(context.Background(), d, "same-title", "")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected the same session for identical descriptor+title, got %s and %s", first.ID, second.ID)
	}
}

func TestManagerSingleActiveSessionCancelsOthers(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.SingleActiveSession = true
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	first, err := m.Start(context.Background(), source.Descriptor{
		Type: source.DescriptorProgressiveHTTP,
		URL:  "http://127.0.0.1:1/first.mp4",
	}, "", "")
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	_, err = m.Start(context.Background(), source.Descriptor{
		Type: source.DescriptorProgressiveHTTP,
		URL:  "http://127.0.0.1:1/second.mp4",
	}, "", "")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if first.Status() == StatusError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := first.Status(); got != StatusError {
		t.Errorf("first.Status() = %v, want StatusError after being superseded", got)
	}
}
