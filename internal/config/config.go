// Package config provides configuration management for hlsrelay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmylchreest/hlsrelay/pkg/bytesize"
)

// Default configuration values.
const (
	defaultServerPort            = 8080
	defaultServerTimeout         = 30 * time.Second
	defaultShutdownTimeout       = 10 * time.Second
	defaultTargetSegmentDuration = 2 * time.Second
	defaultMaxSegmentDuration    = 4 * time.Second
	defaultInitialBufferBytes    = bytesize.Size(2 * 1024 * 1024)
	defaultMinBufferBytes        = bytesize.Size(1 * 1024 * 1024)
	defaultMaxBufferBytes        = bytesize.Size(64 * 1024 * 1024)
	defaultTailPrefetchBytes     = bytesize.Size(10 * 1024 * 1024)
	defaultStartPrefetchBytes    = bytesize.Size(2 * 1024 * 1024)
	defaultPrefetchAheadBytes    = bytesize.Size(4 * 1024 * 1024)
	defaultIdleDownloadTimeout   = 60 * time.Second
	defaultMaxMemorySegments     = 30
	defaultSegmentTTL            = 2 * time.Hour
	defaultYieldEveryNPackets    = 50
	defaultVideoBitrate          = bytesize.Size(4 * 1024 * 1024)
	defaultAudioBitrate          = bytesize.Size(192 * 1024)
)

// Config holds all configuration for hlsrelay.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Session   SessionConfig   `mapstructure:"session"`
	Source    SourceConfig    `mapstructure:"source"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SessionConfig holds per-session lifecycle configuration.
type SessionConfig struct {
	// BaseDir is the parent directory under which SessionDir/segment<i>.ts
	// files and ProgressiveTempFile downloads are created.
	BaseDir string `mapstructure:"base_dir"`
	// SingleActiveSession tears down sessions for other sources on Start
	// when true (the default policy).
	SingleActiveSession bool `mapstructure:"single_active_session"`
	// HistoryLimit bounds the in-memory disk-spillable record of
	// terminal sessions kept for List()/diagnostics.
	HistoryLimit int `mapstructure:"history_limit"`
}

// SourceConfig holds SourceReader configuration.
type SourceConfig struct {
	InitialBufferMinBytes ByteSize `mapstructure:"initial_buffer_min_bytes"`
	InitialBufferMaxBytes ByteSize `mapstructure:"initial_buffer_max_bytes"`
	TailPrefetchBytes     ByteSize `mapstructure:"tail_prefetch_bytes"`
	StartPrefetchBytes    ByteSize `mapstructure:"start_prefetch_bytes"`
	PrefetchAheadBytes    ByteSize `mapstructure:"prefetch_ahead_bytes"`
	IdleDownloadTimeout   Duration `mapstructure:"idle_download_timeout"`
	RangeCacheCapacity    int               `mapstructure:"range_cache_capacity"`
}

// TranscodeConfig holds Transcoder configuration.
type TranscodeConfig struct {
	TargetSegmentDuration Duration `mapstructure:"target_segment_duration"`
	MaxSegmentDuration    Duration `mapstructure:"max_segment_duration"`
	MaxMemorySegments     int               `mapstructure:"max_memory_segments"`
	MaxPlaylistSegments   int               `mapstructure:"max_playlist_segments"` // 0 = unlimited
	SegmentTTL            Duration `mapstructure:"segment_ttl"`
	PreferSoftwareEncoder bool              `mapstructure:"prefer_software_encoder"`
	VideoBitrate          ByteSize `mapstructure:"video_bitrate"`
	AudioBitrate          ByteSize `mapstructure:"audio_bitrate"`
	YieldEveryNPackets    int               `mapstructure:"yield_every_n_packets"`
}

// FFmpegConfig holds FFmpeg/ffprobe binary configuration.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // empty = auto-detect
	ProbePath       string   `mapstructure:"probe_path"`       // empty = auto-detect
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // vaapi, nvenc, qsv, amf
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSRELAY_ and use underscores for nesting.
// Example: HLSRELAY_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsrelay")
		v.AddConfigPath("$HOME/.hlsrelay")
	}

	v.SetEnvPrefix("HLSRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("session.base_dir", "./data/sessions")
	v.SetDefault("session.single_active_session", true)
	v.SetDefault("session.history_limit", 500)

	v.SetDefault("source.initial_buffer_min_bytes", int64(defaultMinBufferBytes))
	v.SetDefault("source.initial_buffer_max_bytes", int64(defaultMaxBufferBytes))
	v.SetDefault("source.tail_prefetch_bytes", int64(defaultTailPrefetchBytes))
	v.SetDefault("source.start_prefetch_bytes", int64(defaultStartPrefetchBytes))
	v.SetDefault("source.prefetch_ahead_bytes", int64(defaultPrefetchAheadBytes))
	v.SetDefault("source.idle_download_timeout", defaultIdleDownloadTimeout.String())
	v.SetDefault("source.range_cache_capacity", 256)
	_ = defaultInitialBufferBytes // documented clamp default; computed per-source at runtime

	v.SetDefault("transcode.target_segment_duration", defaultTargetSegmentDuration.String())
	v.SetDefault("transcode.max_segment_duration", defaultMaxSegmentDuration.String())
	v.SetDefault("transcode.max_memory_segments", defaultMaxMemorySegments)
	v.SetDefault("transcode.max_playlist_segments", 0)
	v.SetDefault("transcode.segment_ttl", defaultSegmentTTL.String())
	v.SetDefault("transcode.prefer_software_encoder", true)
	v.SetDefault("transcode.video_bitrate", int64(defaultVideoBitrate))
	v.SetDefault("transcode.audio_bitrate", int64(defaultAudioBitrate))
	v.SetDefault("transcode.yield_every_n_packets", defaultYieldEveryNPackets)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"vaapi", "nvenc", "qsv", "amf"})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Session.BaseDir == "" {
		return fmt.Errorf("session.base_dir is required")
	}
	if c.Transcode.MaxMemorySegments < 1 {
		return fmt.Errorf("transcode.max_memory_segments must be at least 1")
	}
	if c.Transcode.YieldEveryNPackets < 1 {
		return fmt.Errorf("transcode.yield_every_n_packets must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
