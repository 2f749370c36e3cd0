package ffmpegproc

import (
	"strings"
	"testing"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
)

func TestPreviewArgsRemux(t *testing.T) {
	args := PreviewArgs("/usr/bin/ffmpeg", codecadapter.Params{})

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-c:v copy") {
		t.Errorf("expected video copy codec when VideoTranscode is false, got: %s", joined)
	}
	if !strings.Contains(joined, "-c:a copy") {
		t.Errorf("expected audio copy codec when AudioTranscode is false, got: %s", joined)
	}
}

func TestPreviewArgsTranscode(t *testing.T) {
	args := PreviewArgs("/usr/bin/ffmpeg", codecadapter.Params{
		VideoTranscode: true,
		AudioTranscode: true,
		VideoBitrate:   2_000_000,
	})

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-c:v libx264") {
		t.Errorf("expected libx264 when VideoTranscode is true, got: %s", joined)
	}
	if !strings.Contains(joined, "-b:v 2000000") {
		t.Errorf("expected video bitrate flag, got: %s", joined)
	}
}

func TestPreviewArgsMatchesBuildArgs(t *testing.T) {
	params := codecadapter.Params{VideoTranscode: true}
	if got, want := PreviewArgs("ffmpeg", params), buildArgs("ffmpeg", params); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("PreviewArgs diverged from buildArgs:\n got:  %v\n want: %v", got, want)
	}
}
