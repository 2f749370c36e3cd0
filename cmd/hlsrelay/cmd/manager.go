package cmd

import (
	"time"

	"github.com/jmylchreest/hlsrelay/internal/codec"
	"github.com/jmylchreest/hlsrelay/internal/codecadapter"
	"github.com/jmylchreest/hlsrelay/internal/httpapi"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
	"github.com/jmylchreest/hlsrelay/internal/session"
	"github.com/jmylchreest/hlsrelay/internal/source"
	"github.com/jmylchreest/hlsrelay/internal/transcoder"
	"github.com/jmylchreest/hlsrelay/internal/version"
	"github.com/jmylchreest/hlsrelay/pkg/bytesize"
	"github.com/jmylchreest/hlsrelay/pkg/httpclient"
)

// newManager builds a session.Manager from the resolved config, translating
// every hlsrelay config knob into its component's own config type — the
// CLI is the one place those two worlds meet.
func newManager() (*session.Manager, error) {
	client := httpclient.New(httpclient.DefaultConfig())

	mgrCfg := session.ManagerConfig{
		SessionTTL:             cfg.Transcode.SegmentTTL.Duration(),
		CleanupInterval:        30 * time.Second,
		HistoryMemoryThreshold: int64(cfg.Session.HistoryLimit) * 512,
		HTTPClient:             client,
		SingleActiveSession:    cfg.Session.SingleActiveSession,
		Source: source.Config{
			Progressive: source.ProgressiveTempFileConfig{
				MinBufferBytes:      bytesize.Size(cfg.Source.InitialBufferMinBytes.Bytes()),
				MaxBufferBytes:      bytesize.Size(cfg.Source.InitialBufferMaxBytes.Bytes()),
				TailPrefetchBytes:   bytesize.Size(cfg.Source.TailPrefetchBytes.Bytes()),
				IdleDownloadTimeout: cfg.Source.IdleDownloadTimeout.Duration(),
				Dir:                 cfg.Session.BaseDir,
			},
			RangeCache: source.RangeCacheConfig{
				Capacity:           cfg.Source.RangeCacheCapacity,
				StartPrefetchBytes: bytesize.Size(cfg.Source.StartPrefetchBytes.Bytes()),
				TailPrefetchBytes:  bytesize.Size(cfg.Source.TailPrefetchBytes.Bytes()),
				PrefetchAheadBytes: bytesize.Size(cfg.Source.PrefetchAheadBytes.Bytes()),
			},
		},
		Transcoder: transcoder.Config{
			TargetSegmentDuration:   cfg.Transcode.TargetSegmentDuration.Duration().Seconds(),
			MaxSegmentDuration:      cfg.Transcode.MaxSegmentDuration.Duration().Seconds(),
			YieldEveryNPackets:      cfg.Transcode.YieldEveryNPackets,
			MaxFramesPerAudioPacket: transcoder.DefaultConfig().MaxFramesPerAudioPacket,
			StallTimeout:            transcoder.DefaultConfig().StallTimeout,
		},
		SegmentStore: segmentstore.Config{
			MaxMemorySegments:     cfg.Transcode.MaxMemorySegments,
			EstimatedSegmentBytes: segmentstore.DefaultConfig().EstimatedSegmentBytes,
			SegmentTTL:            cfg.Transcode.SegmentTTL.Duration(),
			TempDir:               cfg.Session.BaseDir,
		},
		CodecDefaults: codecadapter.Params{
			VideoBitrate: cfg.Transcode.VideoBitrate.Bytes() * 8,
			AudioBitrate: cfg.Transcode.AudioBitrate.Bytes() * 8,
			HWAccel:      preferredHWAccel(),
			SoftwareOnly: cfg.Transcode.PreferSoftwareEncoder,
		},
	}

	return session.NewManager(mgrCfg, nil)
}

// preferredHWAccel picks the first configured hwaccel priority, or auto if
// none was configured — ffmpegproc.BinaryDetector still falls back to
// software encoding when the accelerator isn't actually present.
func preferredHWAccel() codec.HWAccel {
	if len(cfg.FFmpeg.HWAccelPriority) == 0 {
		return codec.HWAccelAuto
	}
	return codec.HWAccel(cfg.FFmpeg.HWAccelPriority[0])
}

func newServer(mgr *session.Manager) *httpapi.Server {
	serverCfg := httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	return httpapi.NewServer(serverCfg, nil, version.Version, mgr)
}
