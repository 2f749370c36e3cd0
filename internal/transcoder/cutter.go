package transcoder

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
	"github.com/jmylchreest/hlsrelay/internal/tsmux"
)

// segmentCutter implements the output segment cutting protocol over a
// single continuous tsmux.Muxer: the buffer accumulated since the last cut
// is harvested as a committed segmentstore.Segment on the first keyframe
// once TargetSegmentDuration has elapsed, or unconditionally once
// MaxSegmentDuration is reached without one.
type segmentCutter struct {
	mux    *tsmux.Muxer
	writer *tsmux.SwappableWriter
	buf    *bytes.Buffer
	store  *segmentstore.Store
	logger *slog.Logger
	cfg    Config

	cachedHeader []byte

	index        int
	segStartPts  int64
	haveSegStart bool
}

func newSegmentCutter(mux *tsmux.Muxer, writer *tsmux.SwappableWriter, buf *bytes.Buffer, store *segmentstore.Store, cfg Config, logger *slog.Logger) (*segmentCutter, error) {
	header, err := mux.InitializeAndGetHeader()
	if err != nil {
		return nil, fmt.Errorf("transcoder: capturing PAT/PMT header: %w", err)
	}
	return &segmentCutter{
		mux: mux, writer: writer, buf: buf, store: store, cfg: cfg, logger: logger,
		cachedHeader: header,
	}, nil
}

// WriteVideo applies the soft/hard segment cut decision, then writes one
// rescaled video access unit, so the packet that triggers a cut opens the
// next segment.
func (c *segmentCutter) WriteVideo(pkt codecadapter.Packet) error {
	if !c.haveSegStart {
		c.segStartPts = pkt.PTS
		c.haveSegStart = true
	}

	segDur := ptsSeconds(pkt.PTS - c.segStartPts)
	var err error
	switch {
	case pkt.IsKeyframe && segDur >= c.cfg.TargetSegmentDuration:
		err = c.cut(pkt.PTS, segDur)
	case segDur >= c.cfg.MaxSegmentDuration:
		c.logger.Warn("transcoder: hard segment cap reached without a keyframe",
			slog.Float64("duration", segDur), slog.Int("segment", c.index))
		err = c.cut(pkt.PTS, segDur)
	}
	if err != nil {
		return err
	}

	if err := c.mux.WriteVideo(pkt); err != nil {
		return fmt.Errorf("transcoder: writing video packet: %w", err)
	}
	return nil
}

// WriteAudio writes one rescaled audio access unit; audio never drives a
// cut decision on its own.
func (c *segmentCutter) WriteAudio(pkt codecadapter.Packet) error {
	if err := c.mux.WriteAudio(pkt); err != nil {
		return fmt.Errorf("transcoder: writing audio packet: %w", err)
	}
	return nil
}

// Finalize drains the muxer's remaining buffered bytes into a final
// segment with its true measured duration, per the end-of-stream step of
// the cutting protocol. No-op if nothing was written since the last cut.
func (c *segmentCutter) Finalize(lastPTS int64) error {
	if c.buf.Len() == 0 {
		return nil
	}
	dur := ptsSeconds(lastPTS - c.segStartPts)
	return c.cut(lastPTS, dur)
}

func (c *segmentCutter) cut(pts int64, dur float64) error {
	payload := make([]byte, c.buf.Len())
	copy(payload, c.buf.Bytes())
	c.buf.Reset()

	payload = c.patchPATFirst(payload)

	if err := c.store.Add(segmentstore.Segment{
		Index:    c.index,
		StartPTS: ptsSeconds(c.segStartPts),
		Duration: dur,
		Data:     payload,
		Complete: true,
	}); err != nil {
		return fmt.Errorf("transcoder: committing segment %d: %w", c.index, err)
	}

	c.index++
	c.segStartPts = pts
	return nil
}

// patchPATFirst implements the PAT-first conformance requirement: prepend a
// PAT+PMT pair ahead of any segment whose first packet doesn't already
// carry PID 0. The cached header captured once at muxer initialization is
// the primary source; tsmux.RecoverPATPMT re-scanning the segment's own
// bytes is a defensive fallback for the (should-never-happen) case where
// that capture raced the first write.
func (c *segmentCutter) patchPATFirst(payload []byte) []byte {
	if len(payload) >= tsmux.PacketSize {
		if pid, ok := tsmux.PacketPID(payload[:tsmux.PacketSize]); ok && pid == tsmux.PATProgramID {
			return payload
		}
	}

	if len(c.cachedHeader) > 0 {
		return append(append([]byte{}, c.cachedHeader...), payload...)
	}

	pat, pmt, err := tsmux.RecoverPATPMT(payload)
	if err != nil {
		c.logger.Warn("transcoder: segment has no PAT/PMT available to prepend",
			slog.Int("segment", c.index), slog.String("error", err.Error()))
		return payload
	}
	header := append(append([]byte{}, pat...), pmt...)
	return append(header, payload...)
}

func ptsSeconds(ptsDelta int64) float64 {
	return float64(ptsDelta) / float64(mpegtsTimebaseDen)
}
