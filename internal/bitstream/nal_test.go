package bitstream

import "testing"

var (
	h264SPS    = []byte{0x67, 0x42, 0x00, 0x1f, 0x96, 0x54, 0x05, 0x01}
	h264PPS    = []byte{0x68, 0xce, 0x3c, 0x80}
	h264IDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x00, 0x03}
	h264NonIDR = []byte{0x41, 0x9a, 0x00, 0x00}
)

func buildAnnexB(nalus ...[]byte) []byte {
	return BuildAnnexB(nalus)
}

func buildAVCC(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		l := len(n)
		out = append(out, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
		out = append(out, n...)
	}
	return out
}

func TestH264Type(t *testing.T) {
	if got := H264Type(h264SPS); got != H264NALTypeSPS {
		t.Errorf("H264Type(sps) = %d, want %d", got, H264NALTypeSPS)
	}
	if got := H264Type(h264IDR); got != H264NALTypeIDR {
		t.Errorf("H264Type(idr) = %d, want %d", got, H264NALTypeIDR)
	}
	if H264Type(nil) != 0 {
		t.Error("H264Type(nil) should be 0")
	}
}

func TestIsH264Keyframe(t *testing.T) {
	if !IsH264Keyframe(h264IDR) {
		t.Error("expected IDR to be a keyframe")
	}
	if IsH264Keyframe(h264NonIDR) {
		t.Error("expected non-IDR slice not to be a keyframe")
	}
}

func TestParseAnnexB(t *testing.T) {
	data := buildAnnexB(h264SPS, h264PPS, h264IDR)
	nalus := ParseAnnexB(data)
	if len(nalus) != 3 {
		t.Fatalf("ParseAnnexB returned %d NALUs, want 3", len(nalus))
	}
	if !bytesEqual(nalus[0], h264SPS) || !bytesEqual(nalus[1], h264PPS) || !bytesEqual(nalus[2], h264IDR) {
		t.Error("ParseAnnexB did not preserve NALU boundaries")
	}
}

func TestParseAnnexB_ThreeByteStartCode(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01}
	data = append(data, h264IDR...)
	nalus := ParseAnnexB(data)
	if len(nalus) != 1 || !bytesEqual(nalus[0], h264IDR) {
		t.Fatalf("ParseAnnexB with 3-byte start code = %v, want [%v]", nalus, h264IDR)
	}
}

func TestParseAVCC(t *testing.T) {
	data := buildAVCC(h264SPS, h264PPS, h264IDR)
	nalus := ParseAVCC(data)
	if len(nalus) != 3 {
		t.Fatalf("ParseAVCC returned %d NALUs, want 3", len(nalus))
	}
	if !bytesEqual(nalus[2], h264IDR) {
		t.Error("ParseAVCC did not recover the IDR NALU")
	}
}

func TestParseAVCC_TruncatedLengthStopsCleanly(t *testing.T) {
	data := buildAVCC(h264SPS)
	data = append(data, 0x00, 0x00, 0x00, 0x20) // length that overruns the buffer
	nalus := ParseAVCC(data)
	if len(nalus) != 1 {
		t.Fatalf("ParseAVCC with truncated trailer returned %d NALUs, want 1", len(nalus))
	}
}

func TestBuildAnnexB_RoundTrips(t *testing.T) {
	built := BuildAnnexB([][]byte{h264SPS, h264PPS})
	nalus := ParseAnnexB(built)
	if len(nalus) != 2 || !bytesEqual(nalus[0], h264SPS) || !bytesEqual(nalus[1], h264PPS) {
		t.Errorf("round trip through BuildAnnexB/ParseAnnexB lost data: %v", nalus)
	}
}
