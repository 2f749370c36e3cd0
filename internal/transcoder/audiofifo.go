package transcoder

import "github.com/jmylchreest/hlsrelay/internal/codecadapter"

// audioFIFO reconciles variable-sized audio packets into per-frame PTS
// stamps without a raw-sample buffer: the ffmpegproc encoder already emits
// fixed 1024-sample
// AAC-LC frames on its ES pipe (ADTS-framed), one or more of which arrive
// bundled in a single codecadapter.Packet. What's missing, and what this
// type supplies, is the per-frame output PTS in the muxer's 1/90000 clock:
// basePtsMs (captured once from the first audio packet and never
// re-derived) converted to 90kHz ticks, plus the running output-sample
// count converted directly to 90kHz ticks, so frame spacing carries no
// millisecond rounding.
type audioFIFO struct {
	sampleRate int
	maxFrames  int

	basePtsMs     int64
	haveBase      bool
	samplesOutput int64
}

const aacFrameSamples = 1024

func newAudioFIFO(sampleRate int, maxFramesPerPacket int) *audioFIFO {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if maxFramesPerPacket <= 0 {
		maxFramesPerPacket = 3
	}
	return &audioFIFO{sampleRate: sampleRate, maxFrames: maxFramesPerPacket}
}

// Reconcile stamps each of pkt's already-demarcated AAC frames (pkt.Data may
// carry several ADTS frames back to back, pre-split by the caller into
// frames) with an output PTS in the muxer's 1/90000 timebase. firstPacketPTS
// is pkt.PTS in the stream's declared timebase (1/sampleRate for audio),
// used only to seed basePtsMs on the very first call. Frames past maxFrames
// are dropped as a runaway-loop ceiling.
func (f *audioFIFO) Reconcile(firstPacketPTS int64, frames [][]byte) []codecadapter.Packet {
	if !f.haveBase {
		f.basePtsMs = firstPacketPTS * 1000 / int64(f.sampleRate)
		f.haveBase = true
	}

	if len(frames) > f.maxFrames {
		frames = frames[:f.maxFrames]
	}

	out := make([]codecadapter.Packet, 0, len(frames))
	for _, frame := range frames {
		pts90k := f.basePtsMs*mpegtsTimebaseDen/1000 + f.samplesOutput*mpegtsTimebaseDen/int64(f.sampleRate)
		out = append(out, codecadapter.Packet{
			Kind: codecadapter.Audio,
			Data: frame,
			PTS:  pts90k,
			DTS:  pts90k,
		})
		f.samplesOutput += aacFrameSamples
	}
	return out
}
