package bitstream

import "sync"

// ParamStore tracks the most recently observed H.264 SPS/PPS or H.265
// VPS/SPS/PPS and prepends them to keyframes that arrive without one,
// so every committed segment carries the parameter sets a decoder needs
// even after the segment that originally introduced them has been
// evicted from the catalog. One ParamStore is shared across the whole
// session's muxer, never reset per segment.
type ParamStore struct {
	mu sync.RWMutex

	h264SPS []byte
	h264PPS []byte

	h265VPS []byte
	h265SPS []byte
	h265PPS []byte
}

// NewParamStore returns an empty ParamStore.
func NewParamStore() *ParamStore {
	return &ParamStore{}
}

// ExtractFromNALUs scans nalus for parameter sets and stores any that
// changed from what was previously observed. Returns true if anything new
// was captured.
func (s *ParamStore) ExtractFromNALUs(nalus [][]byte, isH265 bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	extracted := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			switch H265Type(nalu) {
			case H265NALTypeVPS:
				if !bytesEqual(s.h265VPS, nalu) {
					s.h265VPS = copyBytes(nalu)
					extracted = true
				}
			case H265NALTypeSPS:
				if !bytesEqual(s.h265SPS, nalu) {
					s.h265SPS = copyBytes(nalu)
					extracted = true
				}
			case H265NALTypePPS:
				if !bytesEqual(s.h265PPS, nalu) {
					s.h265PPS = copyBytes(nalu)
					extracted = true
				}
			}
			continue
		}
		switch H264Type(nalu) {
		case H264NALTypeSPS:
			if !bytesEqual(s.h264SPS, nalu) {
				s.h264SPS = copyBytes(nalu)
				extracted = true
			}
		case H264NALTypePPS:
			if !bytesEqual(s.h264PPS, nalu) {
				s.h264PPS = copyBytes(nalu)
				extracted = true
			}
		}
	}
	return extracted
}

// HasH264Params reports whether both SPS and PPS have been observed.
func (s *ParamStore) HasH264Params() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h264SPS != nil && s.h264PPS != nil
}

// HasH265Params reports whether VPS, SPS, and PPS have all been observed.
func (s *ParamStore) HasH265Params() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h265VPS != nil && s.h265SPS != nil && s.h265PPS != nil
}

// H264Params returns copies of the stored SPS/PPS.
func (s *ParamStore) H264Params() (sps, pps []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBytes(s.h264SPS), copyBytes(s.h264PPS)
}

// H265Params returns copies of the stored VPS/SPS/PPS.
func (s *ParamStore) H265Params() (vps, sps, pps []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBytes(s.h265VPS), copyBytes(s.h265SPS), copyBytes(s.h265PPS)
}

// SetH264Params seeds SPS/PPS directly, used when a hardware encoder's
// codec parameters carry them out of band rather than inline in the
// bitstream.
func (s *ParamStore) SetH264Params(sps, pps []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h264SPS = copyBytes(sps)
	s.h264PPS = copyBytes(pps)
}

// PrependParamsToKeyframeNALUs prepends the stored parameter sets ahead of
// nalus if they contain a keyframe and don't already carry them. Returns
// nalus unchanged if it isn't a keyframe, or if no parameter sets are
// available yet (the caller's BitstreamPatchFailure path: log and emit
// unpatched rather than block the segment).
func (s *ParamStore) PrependParamsToKeyframeNALUs(nalus [][]byte, isH265 bool) [][]byte {
	if !containsKeyframe(nalus, isH265) {
		return nalus
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if isH265 {
		if s.h265VPS == nil || s.h265SPS == nil || s.h265PPS == nil {
			return nalus
		}
		if hasH265Params(nalus) {
			return nalus
		}
		out := make([][]byte, 0, len(nalus)+3)
		out = append(out, copyBytes(s.h265VPS), copyBytes(s.h265SPS), copyBytes(s.h265PPS))
		return append(out, nalus...)
	}

	if s.h264SPS == nil || s.h264PPS == nil {
		return nalus
	}
	if hasH264Params(nalus) {
		return nalus
	}
	out := make([][]byte, 0, len(nalus)+2)
	out = append(out, copyBytes(s.h264SPS), copyBytes(s.h264PPS))
	return append(out, nalus...)
}

func containsKeyframe(nalus [][]byte, isH265 bool) bool {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			if IsH265Keyframe(nalu) {
				return true
			}
		} else if IsH264Keyframe(nalu) {
			return true
		}
	}
	return false
}

func hasH265Params(nalus [][]byte) bool {
	var vps, sps, pps bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch H265Type(nalu) {
		case H265NALTypeVPS:
			vps = true
		case H265NALTypeSPS:
			sps = true
		case H265NALTypePPS:
			pps = true
		}
	}
	return vps && sps && pps
}

func hasH264Params(nalus [][]byte) bool {
	var sps, pps bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch H264Type(nalu) {
		case H264NALTypeSPS:
			sps = true
		case H264NALTypePPS:
			pps = true
		}
	}
	return sps && pps
}
