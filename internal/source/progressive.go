package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/hlsrelay/pkg/bytesize"
	"github.com/jmylchreest/hlsrelay/pkg/httpclient"
)

// ProgressiveTempFileConfig configures the asynchronous downloader.
type ProgressiveTempFileConfig struct {
	MinBufferBytes      bytesize.Size
	MaxBufferBytes      bytesize.Size
	TailPrefetchBytes   bytesize.Size
	IdleDownloadTimeout time.Duration
	Dir                 string // parent of the temp file, typically SessionDir
}

// DefaultProgressiveTempFileConfig returns the recommended defaults.
func DefaultProgressiveTempFileConfig() ProgressiveTempFileConfig {
	return ProgressiveTempFileConfig{
		MinBufferBytes:      bytesize.Size(1 * 1024 * 1024),
		MaxBufferBytes:      bytesize.Size(64 * 1024 * 1024),
		TailPrefetchBytes:   bytesize.Size(10 * 1024 * 1024),
		IdleDownloadTimeout: 60 * time.Second,
	}
}

// ProgressiveTempFile starts an asynchronous downloader writing into a temp
// file and exposes a second, synchronous read-only handle to it.
type ProgressiveTempFile struct {
	cfg    ProgressiveTempFileConfig
	client *httpclient.Client
	logger *slog.Logger

	writeFile *os.File
	readFile  *os.File

	totalSize    int64
	writtenBytes atomic.Int64
	tailStart    int64
	tailWritten  atomic.Int64

	lastProgress atomic.Int64 // unix nanos

	mu        sync.Mutex
	pos       int64
	caughtUp  bool
	downloadErr error
	complete    atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProgressiveTempFile resolves headers, begins the background download
// and tail prefetch, and waits for the initial buffer threshold (or full
// completion if waitForComplete is set) before returning.
func NewProgressiveTempFile(ctx context.Context, client *httpclient.Client, logger *slog.Logger, url string, cfg ProgressiveTempFileConfig, waitForComplete bool) (*ProgressiveTempFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "source.progressive"))

	headReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrSourceUnavailable, err)
	}
	resp, err := client.DoWithContext(ctx, headReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("%w: upstream returned HTTP %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		return nil, fmt.Errorf("%w: unknown content length", ErrSourceUnavailable)
	}
	totalSize := resp.ContentLength

	writeFile, err := os.CreateTemp(cfg.Dir, "hlsrelay-progressive-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file: %v", ErrSourceUnavailable, err)
	}
	readFile, err := os.Open(writeFile.Name())
	if err != nil {
		writeFile.Close()
		return nil, fmt.Errorf("%w: opening read handle: %v", ErrSourceUnavailable, err)
	}

	dlCtx, cancel := context.WithCancel(context.Background())

	p := &ProgressiveTempFile{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		writeFile: writeFile,
		readFile:  readFile,
		totalSize: totalSize,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.lastProgress.Store(time.Now().UnixNano())

	tailStart := totalSize - int64(cfg.TailPrefetchBytes)
	if tailStart < 0 {
		tailStart = 0
	}
	p.tailStart = tailStart

	go p.downloadBody(dlCtx, url, resp.Body, headReq)
	go p.fetchTail(dlCtx, url)
	go p.watchIdle(dlCtx)

	initialBuffer := int64(clamp(int64(float64(totalSize)*0.02), int64(cfg.MinBufferBytes), int64(cfg.MaxBufferBytes)))
	threshold := initialBuffer
	if waitForComplete {
		threshold = totalSize
	}
	if err := p.waitForBytes(ctx, threshold); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

// downloadBody streams the body into the temp file, advancing writtenBytes.
// It does not reuse resp.Body from the headers request — that body already
// has its initial read window consumed by decompression/status checks in
// some client configurations, so a fresh GET is reissued here for the full
// streamed copy.
func (p *ProgressiveTempFile) downloadBody(ctx context.Context, url string, _ io.ReadCloser, _ *http.Request) {
	defer close(p.done)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.fail(err)
		return
	}
	resp, err := p.client.DoWithContext(ctx, req)
	if err != nil {
		p.fail(err)
		return
	}
	defer resp.Body.Close()

	buf := make([]byte, 256*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := p.writeFile.WriteAt(buf[:n], p.writtenBytes.Load()); werr != nil {
				p.fail(werr)
				return
			}
			p.writtenBytes.Add(int64(n))
			p.lastProgress.Store(time.Now().UnixNano())
		}
		if rerr != nil {
			if rerr == io.EOF {
				p.complete.Store(true)
				return
			}
			p.fail(rerr)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// fetchTail issues a single range request for the last TailPrefetchBytes so
// the container index (commonly stored at the tail in MKV/MP4) is available
// before the sequential download catches up there.
func (p *ProgressiveTempFile) fetchTail(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", p.tailStart))
	resp, err := p.client.DoWithContext(ctx, req)
	if err != nil {
		p.logger.Warn("tail prefetch failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return
	}

	buf := make([]byte, 256*1024)
	offset := p.tailStart
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := p.writeFile.WriteAt(buf[:n], offset); werr == nil {
				offset += int64(n)
				p.tailWritten.Store(offset - p.tailStart)
			}
		}
		if rerr != nil {
			return
		}
	}
}

func (p *ProgressiveTempFile) watchIdle(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if p.complete.Load() {
				return
			}
			last := time.Unix(0, p.lastProgress.Load())
			if time.Since(last) > p.cfg.IdleDownloadTimeout {
				p.fail(fmt.Errorf("%w: no progress for %s", ErrSourceStalled, time.Since(last).Round(time.Second)))
				return
			}
		}
	}
}

func (p *ProgressiveTempFile) fail(err error) {
	p.mu.Lock()
	if p.downloadErr == nil {
		p.downloadErr = err
	}
	p.mu.Unlock()
}

func (p *ProgressiveTempFile) waitForBytes(ctx context.Context, n int64) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.writtenBytes.Load() >= n || p.complete.Load() {
			return nil
		}
		p.mu.Lock()
		err := p.downloadErr
		p.mu.Unlock()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Read implements Reader. Never busy-waits: if the requested range is past
// writtenBytes and not covered by the tail window and the download has not
// completed, it returns (0, nil) with CaughtUp()==true instead of blocking.
func (p *ProgressiveTempFile) Read(buf []byte) (int, error) {
	p.mu.Lock()
	pos := p.pos
	p.mu.Unlock()

	want := int64(len(buf))
	written := p.writtenBytes.Load()
	tailEnd := p.tailStart + p.tailWritten.Load()

	covered := pos+want <= written || (pos >= p.tailStart && pos+want <= tailEnd)
	if !covered && p.complete.Load() && pos < written {
		// Completed download: serve the remaining bytes as a short read.
		buf = buf[:written-pos]
		covered = true
	}
	if !covered {
		if p.complete.Load() {
			// Past the end of a completed download: true EOF.
			p.mu.Lock()
			p.caughtUp = false
			p.mu.Unlock()
			return 0, nil
		}
		p.mu.Lock()
		p.caughtUp = true
		p.mu.Unlock()
		return 0, nil
	}

	n, err := p.readFile.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return n, err
	}
	p.mu.Lock()
	p.pos += int64(n)
	p.caughtUp = false
	p.mu.Unlock()
	return n, nil
}

// Seek implements Reader.
func (p *ProgressiveTempFile) Seek(offset int64, whence Whence) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if whence == SizeQuery {
		return p.totalSize, nil
	}

	var newPos int64
	switch whence {
	case Absolute:
		newPos = offset
	case Relative:
		newPos = p.pos + offset
	case FromEnd:
		newPos = p.totalSize + offset
	default:
		return 0, fmt.Errorf("source: unknown whence %d", whence)
	}
	p.pos = clamp(newPos, 0, p.totalSize)
	return p.pos, nil
}

// AbsoluteSize implements Reader.
func (p *ProgressiveTempFile) AbsoluteSize() int64 { return p.totalSize }

// CaughtUp implements Reader.
func (p *ProgressiveTempFile) CaughtUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caughtUp
}

// Close cancels the downloader and releases file handles. The temp file is
// removed; callers needing to retain it should rename it before Close.
func (p *ProgressiveTempFile) Close() error {
	p.cancel()
	<-p.done
	_ = p.readFile.Close()
	name := p.writeFile.Name()
	_ = p.writeFile.Close()
	return os.Remove(name)
}

// WrittenBytes reports the downloader's current progress, for diagnostics.
func (p *ProgressiveTempFile) WrittenBytes() int64 { return p.writtenBytes.Load() }

// IsComplete reports whether the download has finished successfully.
func (p *ProgressiveTempFile) IsComplete() bool { return p.complete.Load() }
