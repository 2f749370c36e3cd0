package ffmpegproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/hlsrelay/internal/codec"
	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	pkgffmpeg "github.com/jmylchreest/hlsrelay/pkg/ffmpeg"
)

// Adapter is the ffmpeg-subprocess realization of codecadapter.Adapter.
// One Open call spawns one ffmpeg process for the lifetime of a
// transcoding session; Probe shells out to ffprobe independently and does
// not reuse a running session.
type Adapter struct {
	detector *BinaryDetector
	logger   *slog.Logger
}

// NewAdapter returns an Adapter that lazily detects the ffmpeg/ffprobe
// binaries on first use.
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{
		detector: NewBinaryDetector(),
		logger:   logger,
	}
}

// Open probes src's streams, then spawns ffmpeg to actually run the
// demux+decode+encode session against the same source.
func (a *Adapter) Open(ctx context.Context, src io.ReadSeeker, totalSize int64, params codecadapter.Params) (codecadapter.Session, error) {
	streams, err := a.Probe(ctx, src, totalSize)
	if err != nil {
		return nil, err
	}

	info, err := a.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codecadapter.ErrCodecFailure, err)
	}

	params.HWAccel = a.resolveHWAccel(ctx, info.FFmpegPath, params)

	return open(ctx, info.FFmpegPath, src, params, streams, a.logger)
}

// resolveHWAccel turns a HWAccelAuto request into the concrete accelerator
// actually present on this host, probed via ffmpeg -hwaccels plus a
// per-accelerator functional test. Any other configured value passes through
// unchanged — buildArgs already degrades gracefully to software encoding for
// an accelerator that doesn't apply to the requested codec. A detection
// failure, or no usable accelerator, resolves to HWAccelNone.
func (a *Adapter) resolveHWAccel(ctx context.Context, ffmpegPath string, params codecadapter.Params) codec.HWAccel {
	if params.SoftwareOnly || params.HWAccel != codec.HWAccelAuto {
		return params.HWAccel
	}

	accels, err := pkgffmpeg.NewHWAccelDetector(ffmpegPath).Detect(ctx)
	if err != nil {
		a.logger.Warn("hwaccel detection failed, falling back to software encoding", slog.Any("error", err))
		return codec.HWAccelNone
	}

	best := pkgffmpeg.GetRecommendedHWAccel(accels)
	if best == nil {
		return codec.HWAccelNone
	}
	return codec.HWAccel(best.Type)
}

// Preview resolves the ffmpeg binary and returns the argument vector Open
// would use for params, without spawning anything. Useful for operators
// inspecting a stuck session.
func (a *Adapter) Preview(ctx context.Context, params codecadapter.Params) (binary string, args []string, err error) {
	info, err := a.detector.Detect(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", codecadapter.ErrCodecFailure, err)
	}
	return info.FFmpegPath, PreviewArgs(info.FFmpegPath, params), nil
}

var _ codecadapter.Adapter = (*Adapter)(nil)
