package transcoder

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
)

type fakeSession struct {
	streams []codecadapter.StreamInfo
	video   chan codecadapter.Packet
	audio   chan codecadapter.Packet
	err     error
}

func (s *fakeSession) Streams() []codecadapter.StreamInfo { return s.streams }
func (s *fakeSession) Video() <-chan codecadapter.Packet  { return s.video }
func (s *fakeSession) Audio() <-chan codecadapter.Packet  { return s.audio }
func (s *fakeSession) Err() error                         { return s.err }
func (s *fakeSession) Close() error                       { return nil }

type fakeAdapter struct {
	sess *fakeSession
}

func (a *fakeAdapter) Open(ctx context.Context, src io.ReadSeeker, totalSize int64, params codecadapter.Params) (codecadapter.Session, error) {
	return a.sess, nil
}

func (a *fakeAdapter) Probe(ctx context.Context, src io.ReadSeeker, totalSize int64) ([]codecadapter.StreamInfo, error) {
	return a.sess.streams, nil
}

// h264Frame builds one Annex-B access unit of the given NAL type, tagged as
// a keyframe when nalType is an IDR slice.
func h264Frame(nalType byte) []byte {
	return []byte{0x00, 0x00, 0x00, 0x01, nalType, 0xAA, 0xBB}
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

func TestTranscoder_RunProducesSegmentsOnKeyframeCuts(t *testing.T) {
	video := make(chan codecadapter.Packet, 8)
	audio := make(chan codecadapter.Packet, 8)

	// Two GOPs: keyframe at t=0, next keyframe at t=2.5s (past the 2s
	// target), forcing a soft cut on the second keyframe.
	video <- codecadapter.Packet{Kind: codecadapter.Video, Data: h264Frame(5), PTS: 0, IsKeyframe: true}
	video <- codecadapter.Packet{Kind: codecadapter.Video, Data: h264Frame(1), PTS: 45000}
	video <- codecadapter.Packet{Kind: codecadapter.Video, Data: h264Frame(5), PTS: 225000, IsKeyframe: true}
	video <- codecadapter.Packet{Kind: codecadapter.Video, Data: h264Frame(1), PTS: 270000}
	close(video)
	close(audio)

	sess := &fakeSession{
		streams: []codecadapter.StreamInfo{
			{Kind: codecadapter.Video, CodecName: "h264", TimeBaseNum: 1, TimeBaseDen: 90000, IsH264AnnexBReady: true},
		},
		video: video,
		audio: audio,
	}

	store := newTestStore(t)
	tr := New(&fakeAdapter{sess: sess}, store, DefaultConfig(), slog.Default())

	src := bytes.NewReader(make([]byte, 16))
	if err := tr.Run(context.Background(), src, int64(src.Len()), codecadapter.Params{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if tr.State() != StateComplete {
		t.Fatalf("final state = %v, want %v", tr.State(), StateComplete)
	}
	if store.Len() < 1 {
		t.Fatalf("expected at least one committed segment, got %d", store.Len())
	}

	seg, err := store.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if seg.Duration <= 0 {
		t.Errorf("expected segment 0 to have a positive duration, got %v", seg.Duration)
	}
}

func TestTranscoder_RunFailsWithNoUsableStream(t *testing.T) {
	video := make(chan codecadapter.Packet)
	audio := make(chan codecadapter.Packet)
	close(video)
	close(audio)

	sess := &fakeSession{video: video, audio: audio}
	store := newTestStore(t)
	tr := New(&fakeAdapter{sess: sess}, store, DefaultConfig(), slog.Default())

	src := bytes.NewReader(nil)
	err := tr.Run(context.Background(), src, 0, codecadapter.Params{})
	if err != ErrNoUsableStream {
		t.Fatalf("Run error = %v, want %v", err, ErrNoUsableStream)
	}
	if tr.State() != StateError {
		t.Fatalf("final state = %v, want %v", tr.State(), StateError)
	}
}

func TestTranscoder_RunDetectsStall(t *testing.T) {
	video := make(chan codecadapter.Packet)
	audio := make(chan codecadapter.Packet)
	// Never close or send on either channel: the stall timer must fire.

	sess := &fakeSession{
		streams: []codecadapter.StreamInfo{{Kind: codecadapter.Video, CodecName: "h264", TimeBaseDen: 90000, TimeBaseNum: 1}},
		video:   video,
		audio:   audio,
	}
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.StallTimeout = 10 * time.Millisecond
	tr := New(&fakeAdapter{sess: sess}, store, cfg, slog.Default())

	src := bytes.NewReader(make([]byte, 4))
	err := tr.Run(context.Background(), src, int64(src.Len()), codecadapter.Params{})
	if err == nil {
		t.Fatal("expected a stall error, got nil")
	}
	if tr.State() != StateError {
		t.Fatalf("final state = %v, want %v", tr.State(), StateError)
	}
}

func TestTranscoder_RunRespectsContextCancellation(t *testing.T) {
	video := make(chan codecadapter.Packet)
	audio := make(chan codecadapter.Packet)

	sess := &fakeSession{
		streams: []codecadapter.StreamInfo{{Kind: codecadapter.Video, CodecName: "h264", TimeBaseDen: 90000, TimeBaseNum: 1}},
		video:   video,
		audio:   audio,
	}
	store := newTestStore(t)
	tr := New(&fakeAdapter{sess: sess}, store, DefaultConfig(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := bytes.NewReader(make([]byte, 4))
	err := tr.Run(ctx, src, int64(src.Len()), codecadapter.Params{})
	if err != context.Canceled {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}
