package ffmpegproc

import (
	"fmt"
	"strconv"

	"github.com/jmylchreest/hlsrelay/internal/codec"
	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
)

// pipeSpec names the two extra file descriptors the child process inherits.
// exec.Cmd.ExtraFiles places these at fd 3 and 4 respectively (stdin/out/err
// occupy 0-2).
const (
	videoPipeFD = 3
	audioPipeFD = 4
)

// buildArgs constructs the FFmpeg argument list for a demux+decode+encode
// session with two extra-pipe elementary-stream outputs. Unlike the
// teacher's CommandBuilder (one input, one output; not part of this
// module), this pipeline
// needs one input mapped to two independent outputs, which that builder's
// single-output Build() cannot express — so the flag choices and ordering
// here are adapted from it directly rather than constructed through it
// (global flags, MpegtsArgs-style "don't shift timestamps" discipline,
// HWAccel placement before -i) while the multi-output shape is bespoke.
func buildArgs(ffmpegPath string, params codecadapter.Params) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-nostdin",
	}

	if params.HWAccel != "" && params.HWAccel != "none" && !params.SoftwareOnly {
		args = append(args, "-hwaccel", string(params.HWAccel))
	}

	args = append(args, "-i", "pipe:0")

	// Video output -> fd 3: Annex-B H.264 elementary stream, with showinfo
	// emitting per-frame pts/keyframe lines on stderr.
	args = append(args,
		"-map", "0:v:0",
		"-vf", "showinfo",
	)
	if params.VideoTranscode {
		hwaccel := params.HWAccel
		if params.SoftwareOnly {
			hwaccel = codec.HWAccelNone
		}
		encoder := codec.GetVideoEncoder(codec.VideoH264, hwaccel)
		args = append(args, "-c:v", encoder, "-preset", "veryfast")
		if encoder == "libx264" {
			args = append(args, "-x264-params", "repeat-headers=1")
		}
		if params.VideoBitrate > 0 {
			args = append(args, "-b:v", strconv.FormatInt(params.VideoBitrate, 10))
		}
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args, "-f", "h264", fmt.Sprintf("pipe:%d", videoPipeFD))

	// Audio output -> fd 4: ADTS AAC elementary stream, ashowinfo for pts.
	args = append(args,
		"-map", "0:a:0?",
		"-af", "ashowinfo",
	)
	if params.AudioTranscode {
		args = append(args, "-c:a", "aac")
		if params.AudioBitrate > 0 {
			args = append(args, "-b:a", strconv.FormatInt(params.AudioBitrate, 10))
		}
		if params.AudioChannels > 0 {
			args = append(args, "-ac", strconv.Itoa(params.AudioChannels))
		}
		if params.AudioSampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(params.AudioSampleRate))
		}
	} else {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, "-f", "adts", fmt.Sprintf("pipe:%d", audioPipeFD))

	return args
}

// PreviewArgs exposes buildArgs for operator-facing command preview (e.g.
// Session.CommandPreview), without starting a process.
func PreviewArgs(ffmpegPath string, params codecadapter.Params) []string {
	return buildArgs(ffmpegPath, params)
}

// probeArgs constructs an ffprobe invocation reading from stdin and
// emitting stream metadata as JSON.
func probeArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-print_format", "json",
		"-show_streams",
		"-i", "pipe:0",
	}
}
