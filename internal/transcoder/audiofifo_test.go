package transcoder

import "testing"

func TestAudioFIFO_ReconcileStampsSequentialPTS(t *testing.T) {
	f := newAudioFIFO(48000, 3)

	frames := [][]byte{{0x01}, {0x02}}
	out := f.Reconcile(0, frames)
	if len(out) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(out))
	}
	if out[0].PTS != 0 {
		t.Errorf("first frame PTS = %d, want 0", out[0].PTS)
	}
	// 1024 samples at 48kHz = 1024/48000 s = 1920 ticks at 90kHz.
	wantDelta := int64(1024) * mpegtsTimebaseDen / 48000
	if got := out[1].PTS - out[0].PTS; got != wantDelta {
		t.Errorf("PTS delta between consecutive frames = %d, want %d", got, wantDelta)
	}
}

func TestAudioFIFO_ReconcileContinuesAcrossCalls(t *testing.T) {
	f := newAudioFIFO(48000, 3)
	first := f.Reconcile(0, [][]byte{{0x01}})
	second := f.Reconcile(1024, [][]byte{{0x02}})

	if second[0].PTS <= first[0].PTS {
		t.Errorf("expected PTS to keep advancing across calls: first=%d second=%d", first[0].PTS, second[0].PTS)
	}
}

func TestAudioFIFO_ReconcileCapsFramesPerCall(t *testing.T) {
	f := newAudioFIFO(48000, 2)
	out := f.Reconcile(0, [][]byte{{0x01}, {0x02}, {0x03}, {0x04}})
	if len(out) != 2 {
		t.Errorf("expected frames truncated to maxFrames=2, got %d", len(out))
	}
}

func TestAudioFIFO_ReconcileDefaultsInvalidSampleRate(t *testing.T) {
	f := newAudioFIFO(0, 0)
	if f.sampleRate != 48000 {
		t.Errorf("expected default sample rate 48000, got %d", f.sampleRate)
	}
	if f.maxFrames != 3 {
		t.Errorf("expected default maxFrames 3, got %d", f.maxFrames)
	}
}
