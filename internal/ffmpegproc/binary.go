// Package ffmpegproc realizes codecadapter.Adapter by spawning a single
// FFmpeg subprocess per session that demuxes, decodes and re-encodes onto
// two extra file-descriptor pipes: one carrying raw H.264 Annex-B access
// units, the other raw AAC ADTS frames. internal/tsmux consumes both to
// build the MPEG-TS output; no cgo codec bindings are used anywhere in
// this pipeline.
package ffmpegproc

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/util"
)

// BinaryInfo is the subset of FFmpeg/FFprobe detection this pipeline needs.
type BinaryInfo struct {
	FFmpegPath   string
	FFprobePath  string
	Version      string
	MajorVersion int
	MinorVersion int
}

// BinaryDetector locates and version-checks the ffmpeg/ffprobe binaries,
// caching the result for cacheTTL.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector returns a detector with a 5 minute cache, matching the
// teacher's default.
func NewBinaryDetector() *BinaryDetector {
	return &BinaryDetector{cacheTTL: 5 * time.Minute}
}

// Detect finds ffmpeg (required) and ffprobe (required here, unlike the
// teacher's optional treatment, since Probe always shells out to it).
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	ffmpegPath, err := util.FindBinary("ffmpeg", "HLSRELAY_FFMPEG_BINARY")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := util.FindBinary("ffprobe", "HLSRELAY_FFPROBE_BINARY")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	major, minor, full, err := version(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}

	info := &BinaryInfo{
		FFmpegPath:   ffmpegPath,
		FFprobePath:  ffprobePath,
		Version:      full,
		MajorVersion: major,
		MinorVersion: minor,
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

var versionRe = regexp.MustCompile(`ffmpeg version n?(\d+)\.(\d+)`)

func version(ctx context.Context, ffmpegPath string) (major, minor int, full string, err error) {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return 0, 0, "", err
	}
	lines := strings.SplitN(string(out), "\n", 2)
	if len(lines) == 0 {
		return 0, 0, "", fmt.Errorf("empty -version output")
	}
	full = strings.TrimSpace(lines[0])
	if m := versionRe.FindStringSubmatch(full); len(m) == 3 {
		fmt.Sscanf(m[1], "%d", &major)
		fmt.Sscanf(m[2], "%d", &minor)
	}
	return major, minor, full, nil
}
