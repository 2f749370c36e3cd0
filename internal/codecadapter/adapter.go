// Package codecadapter defines the decode/encode capability boundary between
// the transcoder and whatever concretely performs demux/decode/encode.
// The interface is deliberately framed around FFmpeg's model (stream probe,
// decoder/encoder selection, scale/resample, bitstream filtering) because
// that is the conformance target the rest of the pipeline is built against,
// but nothing above this package assumes a particular realization.
package codecadapter

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/codec"
)

// Errors surfaced by Adapter implementations.
var (
	// ErrCodecFailure means the source could not be decoded: unsupported
	// codec, corrupt bitstream, or the decode pipeline exited unexpectedly.
	ErrCodecFailure = errors.New("codecadapter: codec failure")
	// ErrUnsupportedStream means the probed stream has no usable video or
	// audio track for the requested operating mode.
	ErrUnsupportedStream = errors.New("codecadapter: unsupported stream")
)

// StreamKind distinguishes the two elementary stream types this pipeline
// cares about. Subtitle and data streams are never surfaced.
type StreamKind int

const (
	Video StreamKind = iota
	Audio
)

// StreamInfo describes one selected elementary stream as probed from the
// source, enough for the transcoder to decide remux-vs-transcode and to
// build the bitstream integrity patches.
type StreamInfo struct {
	Kind StreamKind

	CodecName  string // e.g. "h264", "hevc", "aac", "ac3"
	Profile    string
	Width      int
	Height     int
	SampleRate int
	Channels   int

	TimeBaseNum int // stream timebase numerator, e.g. 1
	TimeBaseDen int // stream timebase denominator, e.g. 1000 or 90000

	// IsH264AnnexBReady / IsAACADTSReady report whether the stream is
	// already in the on-wire form the muxer wants, making the operating
	// mode for that stream Remux rather than Transcode.
	IsH264AnnexBReady bool
	IsAACADTSReady    bool
}

// Packet is one encoded access unit emitted by the adapter on an elementary
// stream pipe: an H.264 Annex-B NAL-unit-delimited frame, or one AAC ADTS
// frame. PTS/DTS are in the stream's declared TimeBaseNum/Den.
type Packet struct {
	Kind       StreamKind
	Data       []byte
	PTS        int64
	DTS        int64
	IsKeyframe bool
}

// Session is one running demux+decode+encode pipeline over a single source.
// Packets are delivered on Video()/Audio(); callers must drain both
// concurrently or the adapter's internal pipes will block.
type Session interface {
	// Streams reports the selected video/audio streams once probing has
	// completed. Called once, before Video()/Audio() are read.
	Streams() []StreamInfo

	// Video returns encoded H.264 Annex-B access units. Closed when the
	// session ends (normally or on error); check Err() afterward.
	Video() <-chan Packet

	// Audio returns encoded AAC ADTS frames. Closed when the session ends.
	Audio() <-chan Packet

	// Err returns the terminal error, if any, after Video()/Audio() close.
	// Wraps ErrCodecFailure for decode/encode failures.
	Err() error

	// Close terminates the underlying process/resources. Safe to call
	// after normal completion.
	Close() error
}

// Params configures a transcode/remux operation. Bitrate is ignored for a
// stream operating in Remux mode.
type Params struct {
	VideoTranscode bool
	AudioTranscode bool

	VideoBitrate    int64 // bits/sec
	AudioBitrate    int64 // bits/sec
	AudioChannels   int
	AudioSampleRate int

	HWAccel      codec.HWAccel
	SoftwareOnly bool
}

// Adapter opens sessions against a byte-oriented source. io.ReadSeeker here
// is satisfied by internal/source.Reader's synchronous pull contract;
// implementations must tolerate (0, nil) short reads (the source's
// caught-up convention) without treating them as EOF.
type Adapter interface {
	// Open starts demux+decode+encode against src per params and returns a
	// running Session. Open blocks until the source's streams are probed
	// (ErrUnsupportedStream if nothing usable is found) or ctx is done.
	Open(ctx context.Context, src io.ReadSeeker, totalSize int64, params Params) (Session, error)

	// Probe inspects src far enough to report its streams without starting
	// a full transcode session, used by the pre-scan classifier.
	Probe(ctx context.Context, src io.ReadSeeker, totalSize int64) ([]StreamInfo, error)
}

// StallTimeout bounds how long a Session may emit no packets on either pipe
// before the caller should treat it as ErrCodecFailure, distinct from
// source-level ErrSourceStalled.
const StallTimeout = 20 * time.Second
