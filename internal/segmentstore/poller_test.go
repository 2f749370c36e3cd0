package segmentstore

import "testing"

func TestDetectPlayerHint(t *testing.T) {
	cases := []struct {
		userAgent string
		want      string
	}{
		{"Mozilla/5.0 hls.js/1.5.0", "hls.js"},
		{"ExoPlayerLib/2.19.1 (Linux; Android 13)", "ExoPlayer"},
		{"VLC/3.0.18 LibVLC/3.0.18", "VLC"},
		{"curl/8.1.2", ""},
	}
	for _, c := range cases {
		if got := detectPlayerHint(c.userAgent); got != c.want {
			t.Errorf("detectPlayerHint(%q) = %q, want %q", c.userAgent, got, c.want)
		}
	}
}

func TestStore_RecordRequestSetsPlayerHint(t *testing.T) {
	st, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer st.Close()

	st.RecordRequest("client-1", "mpegts.js/1.0", "10.0.0.5:1234", 3, 512)

	pollers := st.Pollers()
	if len(pollers) != 1 {
		t.Fatalf("Pollers() len = %d, want 1", len(pollers))
	}
	if pollers[0].PlayerHint != "mpegts.js" {
		t.Errorf("PlayerHint = %q, want %q", pollers[0].PlayerHint, "mpegts.js")
	}
}
