package bitstream

import "fmt"

// aacSampleRates is the ISO/IEC 14496-3 sample-rate index table used by
// both AudioSpecificConfig and ADTS headers.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AACObjectTypeLC is the MPEG-4 Audio Object Type for AAC-LC, the only
// profile this pipeline's encoder path targets.
const AACObjectTypeLC = 2

// SampleRateIndex returns the ISO-14496-3 table index for sampleRate, or
// false if the rate isn't one of the 13 standard entries.
func SampleRateIndex(sampleRate int) (int, bool) {
	for i, rate := range aacSampleRates {
		if rate == sampleRate {
			return i, true
		}
	}
	return 0, false
}

// SynthesizeASC builds a 2-byte MPEG-4 AudioSpecificConfig for AAC-LC when
// the encoder didn't populate one on the stream's codec parameters (a
// requirement before the muxer's writeHeader — see the Transcoder
// component). channelConfig is the MPEG-4 channel configuration index
// (1=mono, 2=stereo, ...; 0 means "not specified, signaled out of band",
// which mediacommon's fork resolves via its own channel-count table).
func SynthesizeASC(sampleRate, channelConfig int) ([]byte, error) {
	idx, ok := SampleRateIndex(sampleRate)
	if !ok {
		return nil, fmt.Errorf("bitstream: unsupported AAC sample rate %d", sampleRate)
	}
	if channelConfig < 0 || channelConfig > 7 {
		return nil, fmt.Errorf("bitstream: invalid AAC channel config %d", channelConfig)
	}

	b0 := byte(AACObjectTypeLC<<3) | byte(idx>>1)
	b1 := byte(idx&0x1)<<7 | byte(channelConfig)<<3
	return []byte{b0, b1}, nil
}

// ChannelConfigForCount maps a decoded channel count to the MPEG-4 channel
// configuration index for the common layouts this pipeline encodes to
// (mono/stereo/5.1/7.1); anything else falls back to 0 (unspecified).
func ChannelConfigForCount(channels int) int {
	switch channels {
	case 1:
		return 1
	case 2:
		return 2
	case 6:
		return 6
	case 8:
		return 7
	default:
		return 0
	}
}

// SplitAACFrames splits data into individual raw AAC access units, detecting
// an ADTS-framed buffer (several frames back to back, as ffmpeg's AAC
// encoder emits on its ES pipe) versus a single already-raw frame.
func SplitAACFrames(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		return SplitADTSFrames(data)
	}
	return [][]byte{data}
}

// SplitADTSFrames walks data as a back-to-back sequence of ADTS frames and
// returns each frame's raw payload with the ADTS header stripped.
func SplitADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	offset := 0
	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}
		protectionAbsent := data[offset+1]&0x01 != 0
		headerSize := 9
		if protectionAbsent {
			headerSize = 7
		}
		frameLen := int(data[offset+3]&0x03)<<11 | int(data[offset+4])<<3 | int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}
		if raw := data[offset+headerSize : offset+frameLen]; len(raw) > 0 {
			frames = append(frames, raw)
		}
		offset += frameLen
	}
	return frames
}
