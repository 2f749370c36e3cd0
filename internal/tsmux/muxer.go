// Package tsmux maintains the single continuous MPEG-TS muxer each
// transcoding session feeds: segments are never produced by tearing down
// and recreating the muxer (that resets PTS tracking and encoder
// extradata state a strict receiver depends on) but by redirecting the
// muxer's output through a SwappableWriter and harvesting whatever bytes
// land in the current segment buffer between keyframe cuts.
package tsmux

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/hlsrelay/internal/bitstream"
	"github.com/jmylchreest/hlsrelay/internal/codec"
	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
)

// SwappableWriter is an io.Writer that can be redirected to a different
// underlying buffer without the muxer above it noticing, so one TSMuxer's
// continuity counters and PAT/PMT cadence survive across segment cuts.
type SwappableWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

// NewSwappableWriter returns a SwappableWriter over buf.
func NewSwappableWriter(buf *bytes.Buffer) *SwappableWriter {
	return &SwappableWriter{buf: buf}
}

// Write implements io.Writer.
func (w *SwappableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// SetBuffer redirects subsequent writes to buf. The transcoder's segment
// cutter does not call it: it keeps one buffer, copying and resetting it
// at each cut.
func (w *SwappableWriter) SetBuffer(buf *bytes.Buffer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = buf
}

// MPEG-TS constants.
const (
	PacketSize = 188
	SyncByte   = 0x47

	PATProgramID = 0x00
	PMTProgramID = 0x1000
	VideoPID     = 0x0100
	AudioPID     = 0x0101
	PCRPID       = VideoPID

	StreamTypeH264 = codec.StreamTypeH264
	StreamTypeH265 = codec.StreamTypeH265
	StreamTypeAAC  = codec.StreamTypeAAC
	StreamTypeAC3  = codec.StreamTypeAC3
	StreamTypeEAC3 = codec.StreamTypeEAC3
	StreamTypeMP3  = codec.StreamTypeMP3
)

func createVideoCodec(codecName string) mpegts.Codec {
	switch codecName {
	case "h265", "hevc":
		return &mpegts.CodecH265{}
	default:
		return &mpegts.CodecH264{}
	}
}

// createAudioCodec returns the mediacommon codec for codecName along with
// its normalized name. AAC is the fallback for any unrecognized name,
// synthesizing a default 48kHz stereo AudioSpecificConfig when the caller
// didn't provide one. The transcoder passes a config built from the probed
// sample rate and channel count, or nil when that rate has no standard AAC
// sampling-frequency index.
func createAudioCodec(codecName string, aacConfig *mpeg4audio.AudioSpecificConfig) (mpegts.Codec, string) {
	switch codecName {
	case "ac3":
		return &mpegts.CodecAC3{SampleRate: 48000, ChannelCount: 2}, "ac3"
	case "eac3", "ec-3", "ec3":
		return &mpegts.CodecEAC3{SampleRate: 48000, ChannelCount: 6}, "eac3"
	case "mp3":
		return &mpegts.CodecMPEG1Audio{}, "mp3"
	case "opus":
		return &mpegts.CodecOpus{ChannelCount: 2}, "opus"
	default:
		if aacConfig == nil {
			aacConfig = &mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
			}
		}
		return &mpegts.CodecMPEG4Audio{Config: *aacConfig}, "aac"
	}
}

// Config configures a Muxer.
type Config struct {
	VideoPID uint16
	AudioPID uint16
	Logger   *slog.Logger

	VideoCodec string // "h264", "h265"
	AudioCodec string // "aac", "ac3", "eac3", "mp3", "opus"; empty or unrecognized gives AAC (every Muxer has an audio track)

	AACConfig *mpeg4audio.AudioSpecificConfig

	// ParamStore is shared across the whole session so SPS/PPS survive
	// catalog eviction of the segment that first introduced them. If nil,
	// a new store is created.
	ParamStore *bitstream.ParamStore
}

// Muxer is the single continuous MPEG-TS writer for one transcoding
// session. Callers redirect its output with SwappableWriter across
// segment boundaries; the muxer itself is never recreated mid-session.
type Muxer struct {
	writer io.Writer
	config Config

	muxer *mpegts.Writer

	videoTrack *mpegts.Track
	audioTrack *mpegts.Track

	videoCodec string
	audioCodec string

	params *bitstream.ParamStore

	mu          sync.Mutex
	initialized bool
	tracks      []*mpegts.Track
}

// New returns a Muxer writing to w. Initialization (and the first PAT/PMT
// emission) is deferred to the first WriteVideo/WriteAudio call, or forced
// early via InitializeAndGetHeader for late-joining clients.
func New(w io.Writer, config Config) *Muxer {
	if config.VideoPID == 0 {
		config.VideoPID = VideoPID
	}
	if config.AudioPID == 0 {
		config.AudioPID = AudioPID
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.VideoCodec == "" {
		config.VideoCodec = "h264"
	}
	// AudioCodec is not defaulted here; initialize always creates an audio
	// track, and createAudioCodec maps an empty or unrecognized name to AAC.
	// There is no video-only mode.

	params := config.ParamStore
	if params == nil {
		params = bitstream.NewParamStore()
	}

	return &Muxer{
		writer:     w,
		config:     config,
		videoCodec: config.VideoCodec,
		audioCodec: config.AudioCodec,
		params:     params,
	}
}

func (m *Muxer) initialize() error {
	if m.initialized {
		return nil
	}

	m.videoTrack = &mpegts.Track{PID: m.config.VideoPID, Codec: createVideoCodec(m.videoCodec)}
	m.tracks = append(m.tracks, m.videoTrack)

	audioCodec, normalized := createAudioCodec(m.audioCodec, m.config.AACConfig)
	m.audioCodec = normalized
	m.audioTrack = &mpegts.Track{PID: m.config.AudioPID, Codec: audioCodec}
	m.tracks = append(m.tracks, m.audioTrack)

	m.muxer = &mpegts.Writer{W: m.writer, Tracks: m.tracks}
	if err := m.muxer.Initialize(); err != nil {
		return fmt.Errorf("tsmux: initializing mpegts writer: %w", err)
	}

	m.initialized = true
	m.config.Logger.Debug("tsmux initialized",
		slog.String("video_codec", m.videoCodec),
		slog.String("audio_codec", m.audioCodec))
	return nil
}

// SetAACConfig sets the AAC AudioSpecificConfig used at initialization.
// Has no effect once the muxer has already initialized.
func (m *Muxer) SetAACConfig(config *mpeg4audio.AudioSpecificConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.AACConfig = config
}

// WriteVideo writes one video access unit, prepending SPS/PPS (or
// VPS/SPS/PPS for H.265) ahead of keyframes that don't already carry
// them, per the bitstream conformance patch.
func (m *Muxer) WriteVideo(pkt codecadapter.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		if err := m.initialize(); err != nil {
			return err
		}
	}

	au := dataToAccessUnit(pkt.Data)
	if len(au) == 0 {
		return nil
	}

	_, isH265 := m.videoTrack.Codec.(*mpegts.CodecH265)
	m.params.ExtractFromNALUs(au, isH265)

	if pkt.IsKeyframe {
		au = m.params.PrependParamsToKeyframeNALUs(au, isH265)
	}

	switch m.videoTrack.Codec.(type) {
	case *mpegts.CodecH265:
		return m.muxer.WriteH265(m.videoTrack, pkt.PTS, pkt.DTS, au)
	default:
		return m.muxer.WriteH264(m.videoTrack, pkt.PTS, pkt.DTS, au)
	}
}

// WriteAudio writes one audio frame (ADTS-framed or raw, depending on the
// adapter that produced it).
func (m *Muxer) WriteAudio(pkt codecadapter.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		if err := m.initialize(); err != nil {
			return err
		}
	}
	if len(pkt.Data) == 0 {
		return nil
	}

	switch m.audioTrack.Codec.(type) {
	case *mpegts.CodecMPEG4Audio:
		aus := bitstream.SplitAACFrames(pkt.Data)
		if len(aus) == 0 {
			return nil
		}
		return m.muxer.WriteMPEG4Audio(m.audioTrack, pkt.PTS, aus)
	case *mpegts.CodecAC3:
		return m.muxer.WriteAC3(m.audioTrack, pkt.PTS, pkt.Data)
	case *mpegts.CodecEAC3:
		return m.muxer.WriteEAC3(m.audioTrack, pkt.PTS, pkt.Data)
	case *mpegts.CodecMPEG1Audio:
		return m.muxer.WriteMPEG1Audio(m.audioTrack, pkt.PTS, [][]byte{pkt.Data})
	case *mpegts.CodecOpus:
		return m.muxer.WriteOpus(m.audioTrack, pkt.PTS, [][]byte{pkt.Data})
	default:
		aus := bitstream.SplitAACFrames(pkt.Data)
		if len(aus) == 0 {
			return nil
		}
		return m.muxer.WriteMPEG4Audio(m.audioTrack, pkt.PTS, aus)
	}
}

// InitializeAndGetHeader forces initialization and returns PAT/PMT bytes
// for late-joining clients (a segment whose first packet doesn't carry
// PID 0 gets these prepended by the segment cutter's bitstream patch).
//
// VLC's demuxer requires at least 3 consecutive 188-byte-spaced sync
// bytes to validate the stream; PAT+PMT alone is only 2 packets, so null
// packets (PID 0x1FFF) pad the result to a 4-packet floor.
func (m *Muxer) InitializeAndGetHeader() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		if err := m.initialize(); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	tmp := &mpegts.Writer{W: &buf, Tracks: m.tracks}
	if err := tmp.Initialize(); err != nil {
		return nil, fmt.Errorf("tsmux: initializing header capture: %w", err)
	}
	if _, err := tmp.WriteTables(); err != nil {
		return nil, fmt.Errorf("tsmux: writing PAT/PMT tables: %w", err)
	}

	const minPackets = 4
	patPMT := buf.Bytes()
	packetsNeeded := minPackets - len(patPMT)/PacketSize
	if packetsNeeded <= 0 {
		return patPMT, nil
	}

	null := make([]byte, PacketSize)
	null[0] = SyncByte
	null[1] = 0x1F
	null[2] = 0xFF
	null[3] = 0x10
	for i := 4; i < PacketSize; i++ {
		null[i] = 0xFF
	}

	out := make([]byte, len(patPMT)+packetsNeeded*PacketSize)
	copy(out, patPMT)
	for i := 0; i < packetsNeeded; i++ {
		copy(out[len(patPMT)+i*PacketSize:], null)
	}
	return out, nil
}

// Reset clears initialization state for reuse with a fresh ParamStore.
// Not used on the hot path (the muxer is continuous for a session's
// lifetime) but kept for test harnesses that run several sessions against
// one Muxer value.
func (m *Muxer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.muxer = nil
	m.videoTrack = nil
	m.audioTrack = nil
	m.tracks = nil
	m.params = bitstream.NewParamStore()
}

// dataToAccessUnit splits pkt bytes into NAL units, detecting Annex-B
// (start-code prefixed, the form internal/ffmpegproc emits), then AVCC
// (length-prefixed, the form a remuxed MP4/MKV source stores), falling
// back to treating the whole buffer as one NAL unit.
func dataToAccessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if au := bitstream.ParseAnnexB(data); len(au) > 0 {
		return au
	}
	if au := bitstream.ParseAVCC(data); len(au) > 0 {
		return au
	}
	return [][]byte{data}
}

// VideoTrack returns the video track, valid only after initialization.
func (m *Muxer) VideoTrack() *mpegts.Track { return m.videoTrack }

// AudioTrack returns the audio track, valid only after initialization.
func (m *Muxer) AudioTrack() *mpegts.Track { return m.audioTrack }
