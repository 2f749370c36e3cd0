// Package playlist renders a segmentstore.Store's published segments as an
// HLS media playlist, tolerant of a catalog still growing mid-transcode.
package playlist

import (
	"fmt"
	"math"
	"strings"

	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
)

// Version is the HLS protocol version this formatter targets: MPEG-TS
// segments with no fMP4/CMAF features, so version 3 covers everything
// written here.
const Version = 3

// Config tunes playlist rendering.
type Config struct {
	// TargetDuration is written as #EXT-X-TARGETDURATION while no segment
	// is published. Once segments exist, the tag carries the largest
	// published segment duration, rounded up, instead.
	TargetDuration float64
	// SegmentURI builds the URI written after each #EXTINF line for the
	// given segment index. Defaults to "segment<N>.ts", relative to
	// wherever the playlist itself is served from.
	SegmentURI func(index int) string
}

// DefaultConfig returns sane defaults: a 4s target duration and
// relative "segment<N>.ts" segment URIs.
func DefaultConfig() Config {
	return Config{
		TargetDuration: 4,
		SegmentURI: func(index int) string {
			return fmt.Sprintf("segment%d.ts", index)
		},
	}
}

// Formatter renders one session's segment catalog as an HLS playlist.
type Formatter struct {
	cfg Config
}

// New returns a Formatter using cfg, filling in DefaultConfig's SegmentURI
// if cfg.SegmentURI is nil.
func New(cfg Config) *Formatter {
	if cfg.SegmentURI == nil {
		cfg.SegmentURI = DefaultConfig().SegmentURI
	}
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = DefaultConfig().TargetDuration
	}
	return &Formatter{cfg: cfg}
}

// Render builds the playlist text for store's currently published,
// not-yet-reaped segments. complete marks the session as finished: the
// playlist gets #EXT-X-ENDLIST and the servable media sequence is frozen at
// whatever was published by then. An empty catalog still yields a minimal
// valid (zero-segment) playlist so pollers joining before the first segment
// commits don't see a parse error.
func (f *Formatter) Render(store *segmentstore.Store, complete bool) string {
	highest := store.HighestComplete()
	if highest < 0 {
		return f.renderEmpty()
	}

	firstIndex := 0
	for !store.Has(firstIndex) && firstIndex <= highest {
		firstIndex++
	}
	if firstIndex > highest {
		return f.renderEmpty()
	}

	targetDuration := 0.0
	type entry struct {
		index int
		seg   *segmentstore.Segment
	}
	var entries []entry
	for i := firstIndex; i <= highest; i++ {
		seg, err := store.Get(i)
		if err != nil {
			continue
		}
		if d := math.Ceil(seg.Duration); d > targetDuration {
			targetDuration = d
		}
		entries = append(entries, entry{index: i, seg: seg})
	}
	if targetDuration == 0 {
		targetDuration = math.Ceil(f.cfg.TargetDuration)
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	fmt.Fprintf(&sb, "#EXT-X-VERSION:%d\n", Version)
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", int(targetDuration))
	fmt.Fprintf(&sb, "#EXT-X-MEDIA-SEQUENCE:%d\n", firstIndex)

	prevIndex := -1
	for _, e := range entries {
		if prevIndex >= 0 && e.index != prevIndex+1 {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&sb, "#EXTINF:%.3f,\n", e.seg.Duration)
		sb.WriteString(f.cfg.SegmentURI(e.index))
		sb.WriteString("\n")
		prevIndex = e.index
	}

	if complete {
		sb.WriteString("#EXT-X-ENDLIST\n")
	}
	return sb.String()
}

func (f *Formatter) renderEmpty() string {
	return fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:%d\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n",
		Version, int(math.Ceil(f.cfg.TargetDuration)))
}
