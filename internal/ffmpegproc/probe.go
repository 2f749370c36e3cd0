package ffmpegproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
)

// probeStream mirrors the subset of ffprobe's -show_streams JSON this
// pipeline needs.
type probeStream struct {
	Index       int    `json:"index"`
	CodecName   string `json:"codec_name"`
	CodecType   string `json:"codec_type"` // "video", "audio", ...
	Profile     string `json:"profile"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SampleRate  string `json:"sample_rate"`
	Channels    int    `json:"channels"`
	TimeBase    string `json:"time_base"` // "1/90000"
	CodecTagStr string `json:"codec_tag_string"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

// Probe runs ffprobe against src over stdin and returns the selected video
// and audio streams. ffprobe sees at most probeReadLimit bytes of the
// source — a full probe that reads the entire file is wasteful for large
// sources. An ffprobe failure is reported as ErrCodecFailure; a probe that
// finds no video or audio stream returns ErrUnsupportedStream.
func (a *Adapter) Probe(ctx context.Context, src io.ReadSeeker, totalSize int64) ([]codecadapter.StreamInfo, error) {
	info, err := a.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codecadapter.ErrCodecFailure, err)
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seeking source for probe: %v", codecadapter.ErrCodecFailure, err)
	}

	cmd := exec.CommandContext(ctx, info.FFprobePath, probeArgs()...)
	cmd.Stdin = &boundedSourceReader{src: src, limit: probeReadLimit}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v: %s", codecadapter.ErrCodecFailure, err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: parsing ffprobe output: %v", codecadapter.ErrCodecFailure, err)
	}

	var streams []codecadapter.StreamInfo
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			num, den := parseTimeBase(s.TimeBase)
			streams = append(streams, codecadapter.StreamInfo{
				Kind:              codecadapter.Video,
				CodecName:         s.CodecName,
				Profile:           s.Profile,
				Width:             s.Width,
				Height:            s.Height,
				TimeBaseNum:       num,
				TimeBaseDen:       den,
				IsH264AnnexBReady: s.CodecName == "h264",
			})
		case "audio":
			num, den := parseTimeBase(s.TimeBase)
			sampleRate, _ := strconv.Atoi(s.SampleRate)
			streams = append(streams, codecadapter.StreamInfo{
				Kind:           codecadapter.Audio,
				CodecName:      s.CodecName,
				SampleRate:     sampleRate,
				Channels:       s.Channels,
				TimeBaseNum:    num,
				TimeBaseDen:    den,
				IsAACADTSReady: s.CodecName == "aac",
			})
		}
	}

	if len(streams) == 0 {
		return nil, fmt.Errorf("%w: no usable video or audio stream", codecadapter.ErrUnsupportedStream)
	}
	return streams, nil
}

// probeReadLimit bounds how much of the source ffprobe may consume during
// pre-scan classification, so a multi-gigabyte source doesn't stall the
// decision on a slow progressive download.
const probeReadLimit = 32 * 1024 * 1024

// boundedSourceReader adapts a codecadapter source (which may return
// (0, nil) on the caught-up condition rather than blocking) into an
// io.Reader ffprobe's stdin pipe can consume, stopping after limit bytes.
type boundedSourceReader struct {
	src   io.Reader
	limit int64
	read  int64
}

func (b *boundedSourceReader) Read(p []byte) (int, error) {
	if b.read >= b.limit {
		return 0, io.EOF
	}
	if int64(len(p)) > b.limit-b.read {
		p = p[:b.limit-b.read]
	}
	for {
		n, err := b.src.Read(p)
		b.read += int64(n)
		if n > 0 || err != nil {
			return n, err
		}
		// Caught-up/no-data-yet: wait for the downloader rather than
		// busy-spinning or surfacing a non-EOF error to the pipe copier.
		time.Sleep(25 * time.Millisecond)
	}
}

func parseTimeBase(tb string) (num, den int) {
	parts := strings.SplitN(tb, "/", 2)
	if len(parts) != 2 {
		return 1, 1000
	}
	num, _ = strconv.Atoi(parts[0])
	den, _ = strconv.Atoi(parts[1])
	if den == 0 {
		den = 1000
	}
	return num, den
}
