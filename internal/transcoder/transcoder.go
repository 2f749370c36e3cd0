// Package transcoder orchestrates the demux→decode→encode→mux pipeline for
// one session: it drives a codecadapter.Session's packet streams into a
// single continuous tsmux.Muxer, rescaling timebases, reconciling AAC frame
// sizes, applying bitstream conformance patches, and cutting the muxer's
// accumulated bytes into segmentstore.Segment entries at keyframe
// boundaries.
package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/hlsrelay/internal/bitstream"
	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
	"github.com/jmylchreest/hlsrelay/internal/tsmux"
)

// State is a session's position in the transcode lifecycle.
type State int

const (
	StateInitializing State = iota
	StateTranscoding
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateTranscoding:
		return "transcoding"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNoUsableStream means the probed source has neither a video nor an
// audio stream the muxer can carry.
var ErrNoUsableStream = errors.New("transcoder: source has no usable video or audio stream")

// Transcoder runs one session's pipeline to completion against a
// codecadapter.Adapter and publishes into a segmentstore.Store.
type Transcoder struct {
	adapter codecadapter.Adapter
	store   *segmentstore.Store
	cfg     Config
	logger  *slog.Logger

	mu    sync.RWMutex
	state State
	err   error
}

// New returns a Transcoder ready to Run against one opened session.
func New(adapter codecadapter.Adapter, store *segmentstore.Store, cfg Config, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		adapter: adapter,
		store:   store,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "transcoder")),
		state:   StateInitializing,
	}
}

// State reports the transcoder's current lifecycle state.
func (t *Transcoder) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Err returns the terminal error, set only once State() is StateError.
func (t *Transcoder) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *Transcoder) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transcoder) fail(err error) {
	t.mu.Lock()
	t.state = StateError
	t.err = err
	t.mu.Unlock()
}

// Run drives src through the adapter and into the segment store until the
// session ends (EOF, an error, or ctx cancellation). It blocks for the
// lifetime of the session; callers run it in its own goroutine.
func (t *Transcoder) Run(ctx context.Context, src io.ReadSeeker, totalSize int64, params codecadapter.Params) error {
	sess, err := t.adapter.Open(ctx, src, totalSize, params)
	if err != nil {
		t.fail(err)
		return err
	}
	defer sess.Close()

	streams := sess.Streams()
	var vInfo, aInfo *codecadapter.StreamInfo
	for i := range streams {
		switch streams[i].Kind {
		case codecadapter.Video:
			if vInfo == nil {
				vInfo = &streams[i]
			}
		case codecadapter.Audio:
			if aInfo == nil {
				aInfo = &streams[i]
			}
		}
	}
	if vInfo == nil && aInfo == nil {
		t.fail(ErrNoUsableStream)
		return ErrNoUsableStream
	}

	muxCfg := tsmux.Config{Logger: t.logger}
	if vInfo != nil {
		muxCfg.VideoCodec = vInfo.CodecName
	}

	var aacConfig *mpeg4audio.AudioSpecificConfig
	if aInfo != nil {
		muxCfg.AudioCodec = aInfo.CodecName
		if aInfo.CodecName == "aac" {
			if _, ok := bitstream.SampleRateIndex(aInfo.SampleRate); !ok {
				t.logger.Warn("transcoder: non-standard AAC sample rate, muxer will fall back to 48kHz/stereo",
					slog.Int("sample_rate", aInfo.SampleRate))
			} else {
				aacConfig = &mpeg4audio.AudioSpecificConfig{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   aInfo.SampleRate,
					ChannelCount: aInfo.Channels,
				}
			}
		}
	}
	muxCfg.AACConfig = aacConfig

	buf := &bytes.Buffer{}
	writer := tsmux.NewSwappableWriter(buf)
	mux := tsmux.New(writer, muxCfg)

	cutter, err := newSegmentCutter(mux, writer, buf, t.store, t.cfg, t.logger)
	if err != nil {
		t.fail(err)
		return err
	}

	t.setState(StateTranscoding)

	videoCh := sess.Video()
	audioCh := sess.Audio()
	fifo := newAudioFIFO(audioSampleRate(aInfo), t.cfg.MaxFramesPerAudioPacket)

	var lastVideoPTS, lastAudioPTS int64
	packets := 0

	stallTimeout := t.cfg.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = codecadapter.StallTimeout
	}
	stall := time.NewTimer(stallTimeout)
	defer stall.Stop()

	for videoCh != nil || audioCh != nil {
		if !stall.Stop() {
			select {
			case <-stall.C:
			default:
			}
		}
		stall.Reset(stallTimeout)

		select {
		case <-stall.C:
			err := fmt.Errorf("transcoder: %w: no packets for %s", codecadapter.ErrCodecFailure, stallTimeout)
			t.fail(err)
			return err

		case pkt, ok := <-videoCh:
			if !ok {
				videoCh = nil
				continue
			}
			if vInfo != nil {
				pkt.PTS = ToMPEGTSTimebase(pkt.PTS, vInfo.TimeBaseNum, vInfo.TimeBaseDen)
				pkt.DTS = pkt.PTS
			}
			lastVideoPTS = pkt.PTS
			if err := cutter.WriteVideo(pkt); err != nil {
				t.fail(err)
				return err
			}

		case pkt, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			rawPTS := pkt.PTS
			if aInfo != nil && aInfo.TimeBaseDen != audioSampleRate(aInfo) {
				rawPTS = RescaleTimebase(pkt.PTS, aInfo.TimeBaseNum, aInfo.TimeBaseDen, 1, audioSampleRate(aInfo))
			}
			frames := bitstream.SplitAACFrames(pkt.Data)
			for _, fpkt := range fifo.Reconcile(rawPTS, frames) {
				lastAudioPTS = fpkt.PTS
				if err := cutter.WriteAudio(fpkt); err != nil {
					t.fail(err)
					return err
				}
			}

		case <-ctx.Done():
			t.fail(ctx.Err())
			return ctx.Err()
		}

		packets++
		if t.cfg.YieldEveryNPackets > 0 && packets%t.cfg.YieldEveryNPackets == 0 {
			runtime.Gosched()
		}
		select {
		case <-ctx.Done():
			t.fail(ctx.Err())
			return ctx.Err()
		default:
		}
	}

	if sErr := sess.Err(); sErr != nil {
		t.fail(fmt.Errorf("%w: %v", codecadapter.ErrCodecFailure, sErr))
		return t.err
	}

	finalPTS := lastVideoPTS
	if finalPTS == 0 {
		finalPTS = lastAudioPTS
	}
	if err := cutter.Finalize(finalPTS); err != nil {
		t.fail(err)
		return err
	}

	t.setState(StateComplete)
	return nil
}

func audioSampleRate(info *codecadapter.StreamInfo) int {
	if info == nil || info.SampleRate <= 0 {
		return 48000
	}
	return info.SampleRate
}
