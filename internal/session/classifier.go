package session

import (
	"net/url"
	"path"
	"strings"
)

// Classification is the pre-scan decision made before a Transcoder is
// constructed: whether the source needs a bitstream remux pass, and whether
// either elementary stream needs to be fully transcoded rather than copied.
type Classification struct {
	NeedsRemux          bool
	NeedsVideoTranscode bool
	NeedsAudioTranscode bool
	Reason              string
}

var videoTranscodeTokens = []string{"hevc", "h265", "h.265", "x265"}

var audioTranscodeTokens = []string{"ddp", "dd+", "e-ac3", "eac3", "ac3", "dts", "truehd"}

// Classify inspects the source descriptor's URL (query `type` parameter and
// trailing path extension) and a caller-provided title string, without
// touching the network. It never constructs a transcoder; it only decides
// whether one will need to run a bitstream remux pass or a full codec
// transcode once it does.
func Classify(sourceURL, title string) Classification {
	c := Classification{}

	mimeHint, ext := urlHints(sourceURL)
	if mimeHint == "x-matroska" || ext == ".mkv" {
		c.NeedsRemux = true
	}

	lowerTitle := strings.ToLower(title)
	for _, tok := range videoTranscodeTokens {
		if strings.Contains(lowerTitle, tok) {
			c.NeedsVideoTranscode = true
			break
		}
	}
	for _, tok := range audioTranscodeTokens {
		if strings.Contains(lowerTitle, tok) {
			c.NeedsAudioTranscode = true
			break
		}
	}

	switch {
	case c.NeedsVideoTranscode && c.NeedsAudioTranscode:
		c.Reason = "title indicates HEVC video and a multichannel/non-AAC audio codec, requires full transcode"
	case c.NeedsVideoTranscode:
		c.Reason = "title indicates HEVC video, requires video transcode"
	case c.NeedsAudioTranscode:
		c.Reason = "title indicates a multichannel/non-AAC audio codec, requires audio transcode"
	case c.NeedsRemux:
		c.Reason = "MKV container, bitstream remux only"
	default:
		c.Reason = "compatible container and codecs, remux only"
	}
	return c
}

// DegradeVideoToRemux records that the H.264 encoder was unavailable at
// runtime, downgrading a needed video transcode to a remux-only pass.
func (c Classification) DegradeVideoToRemux() Classification {
	if !c.NeedsVideoTranscode {
		return c
	}
	c.NeedsVideoTranscode = false
	c.Reason = "H.264 encoder unavailable at runtime, degraded to remux: " + c.Reason
	return c
}

// urlHints extracts the query `type` parameter and the trailing path
// extension from a source URL. Both are returned lowercased; either may be
// empty if sourceURL does not parse or lacks the corresponding component.
func urlHints(sourceURL string) (mimeHint, ext string) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", strings.ToLower(path.Ext(sourceURL))
	}
	return strings.ToLower(u.Query().Get("type")), strings.ToLower(path.Ext(u.Path))
}
