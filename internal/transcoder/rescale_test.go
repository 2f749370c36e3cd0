package transcoder

import "testing"

func TestRescaleTimebase_NoOpWhenTimebasesMatch(t *testing.T) {
	if got := RescaleTimebase(12345, 1, 90000, 1, 90000); got != 12345 {
		t.Errorf("RescaleTimebase with identical timebases = %d, want 12345", got)
	}
}

func TestRescaleTimebase_SecondsToMPEGTS(t *testing.T) {
	// One second at a 1/1 "seconds" timebase should land on exactly one
	// MPEG-TS tick count (90000).
	if got := RescaleTimebase(1, 1, 1, 1, 90000); got != 90000 {
		t.Errorf("RescaleTimebase(1s -> 90kHz) = %d, want 90000", got)
	}
}

func TestToMPEGTSTimebase_FromSampleRate(t *testing.T) {
	// 48000 samples at a 1/48000 timebase is exactly 1 second, i.e. 90000
	// ticks in the MPEG-TS clock.
	if got := ToMPEGTSTimebase(48000, 1, 48000); got != 90000 {
		t.Errorf("ToMPEGTSTimebase(48000 @ 1/48000) = %d, want 90000", got)
	}
}

func TestToMPEGTSTimebase_RoundsToNearest(t *testing.T) {
	// 1 tick at 1/1000 (1ms) should round to 90 ticks at 1/90000.
	if got := ToMPEGTSTimebase(1, 1, 1000); got != 90 {
		t.Errorf("ToMPEGTSTimebase(1ms) = %d, want 90", got)
	}
}
