package bitstream

import "testing"

var (
	h265VPS = []byte{0x40, 0x01, 0x0c, 0x01, 0xff, 0xff}
	h265SPS = []byte{0x42, 0x01, 0x01, 0x01, 0x60, 0x00}
	h265PPS = []byte{0x44, 0x01, 0xc1, 0x72, 0xb4, 0x62}
	h265IDR = []byte{0x26, 0x01, 0xaf, 0x00, 0x00}
)

func TestParamStore_ExtractH264Params(t *testing.T) {
	s := NewParamStore()
	if s.HasH264Params() {
		t.Fatal("expected no params initially")
	}

	extracted := s.ExtractFromNALUs([][]byte{h264SPS, h264PPS, h264IDR}, false)
	if !extracted {
		t.Error("expected params to be extracted")
	}
	if !s.HasH264Params() {
		t.Fatal("expected H264 params to be available")
	}

	sps, pps := s.H264Params()
	if !bytesEqual(sps, h264SPS) || !bytesEqual(pps, h264PPS) {
		t.Error("stored params don't match input")
	}
}

func TestParamStore_ExtractH265Params(t *testing.T) {
	s := NewParamStore()
	s.ExtractFromNALUs([][]byte{h265VPS, h265SPS, h265PPS, h265IDR}, true)
	if !s.HasH265Params() {
		t.Fatal("expected H265 params to be available")
	}
}

func TestParamStore_ExtractNoOpWhenUnchanged(t *testing.T) {
	s := NewParamStore()
	s.ExtractFromNALUs([][]byte{h264SPS, h264PPS}, false)
	if s.ExtractFromNALUs([][]byte{h264SPS, h264PPS}, false) {
		t.Error("expected no new extraction when params are unchanged")
	}
}

func TestParamStore_PrependParamsToKeyframe(t *testing.T) {
	s := NewParamStore()
	s.SetH264Params(h264SPS, h264PPS)

	out := s.PrependParamsToKeyframeNALUs([][]byte{h264IDR}, false)
	if len(out) != 3 {
		t.Fatalf("expected SPS+PPS+IDR, got %d NALUs", len(out))
	}
	if !bytesEqual(out[0], h264SPS) || !bytesEqual(out[1], h264PPS) {
		t.Error("expected SPS/PPS prepended ahead of the keyframe")
	}
}

func TestParamStore_PrependSkipsNonKeyframe(t *testing.T) {
	s := NewParamStore()
	s.SetH264Params(h264SPS, h264PPS)

	out := s.PrependParamsToKeyframeNALUs([][]byte{h264NonIDR}, false)
	if len(out) != 1 {
		t.Errorf("expected non-keyframe access unit left untouched, got %d NALUs", len(out))
	}
}

func TestParamStore_PrependNoOpWithoutStoredParams(t *testing.T) {
	s := NewParamStore()
	out := s.PrependParamsToKeyframeNALUs([][]byte{h264IDR}, false)
	if len(out) != 1 {
		t.Errorf("expected keyframe emitted unpatched when no params seen yet, got %d NALUs", len(out))
	}
}

func TestParamStore_PrependSkipsWhenAlreadyPresent(t *testing.T) {
	s := NewParamStore()
	s.SetH264Params(h264SPS, h264PPS)

	out := s.PrependParamsToKeyframeNALUs([][]byte{h264SPS, h264PPS, h264IDR}, false)
	if len(out) != 3 {
		t.Errorf("expected no duplicate SPS/PPS, got %d NALUs", len(out))
	}
}
