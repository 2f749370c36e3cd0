package transcoder

import "time"

// Config holds the transcode-time knobs enumerated as configuration knobs:
// soft/hard segment cut thresholds, the cooperative yield cadence, and the
// audio reconciliation ceiling.
type Config struct {
	// TargetSegmentDuration is the soft cut threshold at a keyframe boundary.
	TargetSegmentDuration float64
	// MaxSegmentDuration forces a cut even without a keyframe.
	MaxSegmentDuration float64

	// YieldEveryNPackets is how often the packet-draining loop yields the
	// goroutine so HTTP handlers and downloader I/O make progress under a
	// cooperative scheduler; harmless (and a no-op in practice) under Go's
	// preemptive scheduler.
	YieldEveryNPackets int

	// MaxFramesPerAudioPacket caps AudioFIFO's per-packet emission to avoid
	// runaway loops on pathological inputs.
	MaxFramesPerAudioPacket int

	// StallTimeout bounds how long a transcode Session may emit no packets
	// before it's treated as a codec failure.
	StallTimeout time.Duration
}

// DefaultConfig returns recommended defaults: a 2s soft target and a 4s hard
// ceiling per segment, matching typical low-latency HLS tuning.
func DefaultConfig() Config {
	return Config{
		TargetSegmentDuration:  2.0,
		MaxSegmentDuration:     4.0,
		YieldEveryNPackets:     50,
		MaxFramesPerAudioPacket: 3,
		StallTimeout:           20 * time.Second,
	}
}
