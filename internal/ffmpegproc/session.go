package ffmpegproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
)

// pollSleep backs off the in-process timing-queue poll in popVideoTiming/
// popAudioTiming.
func pollSleep() { time.Sleep(2 * time.Millisecond) }

// session is the codecadapter.Session realization over one ffmpeg
// subprocess. It owns the child's stdin feed and the two extra-pipe
// elementary-stream readers.
type session struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	streams []codecadapter.StreamInfo

	videoCh chan codecadapter.Packet
	audioCh chan codecadapter.Packet

	videoTimingMu sync.Mutex
	videoTiming   []ptsEntry
	audioTimingMu sync.Mutex
	audioTiming   []int64

	mu   sync.Mutex
	err  error
	wg   sync.WaitGroup
	once sync.Once
}

// ptsEntry pairs a showinfo-reported presentation timestamp with its
// keyframe flag, queued in emission order for readVideo to consume as NAL
// units arrive on the raw ES pipe.
type ptsEntry struct {
	pts      int64
	keyframe bool
}

var (
	videoShowInfoRe = regexp.MustCompile(`\[Parsed_showinfo[^]]*\]\s+n:\s*(\d+)\s+pts:\s*(\d+).*?iskey:(\d)`)
	audioShowInfoRe = regexp.MustCompile(`\[Parsed_ashowinfo[^]]*\]\s+n:\s*(\d+)\s+pts:\s*(\d+)`)
)

// open spawns ffmpeg with two extra-file-descriptor pipes and begins
// pumping the source into stdin and the pipes into Video()/Audio().
func open(ctx context.Context, ffmpegPath string, src io.ReadSeeker, params codecadapter.Params, streams []codecadapter.StreamInfo, logger *slog.Logger) (*session, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewinding source: %v", codecadapter.ErrCodecFailure, err)
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, buildArgs(ffmpegPath, params)...)

	stdinW, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", codecadapter.ErrCodecFailure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", codecadapter.ErrCodecFailure, err)
	}

	videoR, videoW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: video pipe: %v", codecadapter.ErrCodecFailure, err)
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: audio pipe: %v", codecadapter.ErrCodecFailure, err)
	}
	// ExtraFiles[0] becomes fd 3 in the child, ExtraFiles[1] becomes fd 4,
	// matching videoPipeFD/audioPipeFD in command.go.
	cmd.ExtraFiles = []*os.File{videoW, audioW}

	if err := cmd.Start(); err != nil {
		videoR.Close()
		videoW.Close()
		audioR.Close()
		audioW.Close()
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", codecadapter.ErrCodecFailure, err)
	}
	// The child now holds its own copies of the write ends; closing ours is
	// what lets our reads see EOF when ffmpeg exits.
	videoW.Close()
	audioW.Close()

	s := &session{
		cmd:     cmd,
		logger:  logger,
		streams: streams,
		videoCh: make(chan codecadapter.Packet, 64),
		audioCh: make(chan codecadapter.Packet, 64),
	}

	s.wg.Add(4)
	go s.pumpStdin(stdinW, src)
	go s.scanStderr(stderr)
	go s.readVideo(videoR)
	go s.readAudio(audioR)

	go func() {
		s.wg.Wait()
		if werr := cmd.Wait(); werr != nil {
			s.setErr(fmt.Errorf("%w: ffmpeg exited: %v", codecadapter.ErrCodecFailure, werr))
		}
	}()

	return s, nil
}

func (s *session) Streams() []codecadapter.StreamInfo { return s.streams }
func (s *session) Video() <-chan codecadapter.Packet  { return s.videoCh }
func (s *session) Audio() <-chan codecadapter.Packet  { return s.audioCh }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		if s.cmd.Process != nil {
			err = s.cmd.Process.Kill()
		}
	})
	return err
}

// pumpStdin copies src into ffmpeg's stdin, tolerating the caught-up (0,
// nil) convention from internal/source.Reader by yielding the goroutine
// rather than spinning.
func (s *session) pumpStdin(w io.WriteCloser, src io.Reader) {
	defer s.wg.Done()
	defer w.Close()
	buf := make([]byte, 256*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				s.setErr(fmt.Errorf("%w: reading source: %v", codecadapter.ErrCodecFailure, rerr))
			}
			return
		}
		if n == 0 {
			// Caught-up: no data yet, avoid busy-spin.
			pollSleep()
		}
	}
}

func (s *session) scanStderr(r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if m := videoShowInfoRe.FindStringSubmatch(line); m != nil {
			pts, _ := strconv.ParseInt(m[2], 10, 64)
			s.videoPTS(pts, m[3] == "1")
			continue
		}
		if m := audioShowInfoRe.FindStringSubmatch(line); m != nil {
			pts, _ := strconv.ParseInt(m[2], 10, 64)
			s.audioPTS(pts)
			continue
		}
		if s.logger != nil {
			s.logger.Debug("ffmpeg", slog.String("line", line))
		}
	}
}

// videoPTS/audioPTS feed the showinfo-derived timing queues consumed by
// readVideo/readAudio as NAL units and ADTS frames arrive.
func (s *session) videoPTS(pts int64, keyframe bool) {
	s.videoTimingMu.Lock()
	s.videoTiming = append(s.videoTiming, ptsEntry{pts: pts, keyframe: keyframe})
	s.videoTimingMu.Unlock()
}

func (s *session) audioPTS(pts int64) {
	s.audioTimingMu.Lock()
	s.audioTiming = append(s.audioTiming, pts)
	s.audioTimingMu.Unlock()
}

// popVideoTiming returns the next queued (pts, keyframe) pair, blocking
// briefly for showinfo's stderr line to catch up with the ES pipe (stderr
// and the extra-pipe fd are independent streams with no ordering guarantee
// between them, so a short poll absorbs the skew).
func (s *session) popVideoTiming() (ptsEntry, bool) {
	for i := 0; i < 200; i++ {
		s.videoTimingMu.Lock()
		if len(s.videoTiming) > 0 {
			e := s.videoTiming[0]
			s.videoTiming = s.videoTiming[1:]
			s.videoTimingMu.Unlock()
			return e, true
		}
		s.videoTimingMu.Unlock()
		if i == 0 {
			continue
		}
		pollSleep()
	}
	return ptsEntry{}, false
}

func (s *session) popAudioTiming() (int64, bool) {
	for i := 0; i < 200; i++ {
		s.audioTimingMu.Lock()
		if len(s.audioTiming) > 0 {
			pts := s.audioTiming[0]
			s.audioTiming = s.audioTiming[1:]
			s.audioTimingMu.Unlock()
			return pts, true
		}
		s.audioTimingMu.Unlock()
		if i == 0 {
			continue
		}
		pollSleep()
	}
	return 0, false
}

// readVideo pumps raw Annex-B bytes from the extra pipe, splits them into
// access units, and pairs each with its showinfo-reported timestamp.
func (s *session) readVideo(r io.Reader) {
	defer s.wg.Done()
	defer close(s.videoCh)

	var pending []byte
	buf := make([]byte, 256*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			units, rest := splitAnnexB(pending)
			pending = append(pending[:0], rest...)
			for _, u := range units {
				e, ok := s.popVideoTiming()
				pkt := codecadapter.Packet{
					Kind:       codecadapter.Video,
					Data:       append([]byte(nil), u...),
					IsKeyframe: isKeyframeUnit(u),
				}
				if ok {
					pkt.PTS, pkt.DTS = e.pts, e.pts
				}
				s.videoCh <- pkt
			}
		}
		if rerr != nil {
			return
		}
	}
}

// readAudio pumps raw ADTS bytes from the extra pipe, splits them into
// frames, and pairs each with its ashowinfo-reported timestamp.
func (s *session) readAudio(r io.Reader) {
	defer s.wg.Done()
	defer close(s.audioCh)

	var pending []byte
	buf := make([]byte, 256*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			frames, rest := splitADTS(pending)
			pending = append(pending[:0], rest...)
			for _, f := range frames {
				pts, ok := s.popAudioTiming()
				pkt := codecadapter.Packet{
					Kind: codecadapter.Audio,
					Data: append([]byte(nil), f...),
				}
				if ok {
					pkt.PTS, pkt.DTS = pts, pts
				}
				s.audioCh <- pkt
			}
		}
		if rerr != nil {
			return
		}
	}
}
