// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/validation"
)

// Config holds all daemon configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in values for every optional setting
//  2. Config file: optional YAML file (tarantula.yaml)
//  3. Environment variables: override any setting
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Engine   EngineConfig    `koanf:"engine"`
	Channels []ChannelConfig `koanf:"channels"`
	Plugins  PluginsConfig   `koanf:"plugins"`
	Snapshot SnapshotConfig  `koanf:"snapshot"`
	Files    FilesConfig     `koanf:"files"`
	AsRun    AsRunConfig     `koanf:"asrun"`
	TCP      TCPConfig       `koanf:"tcp"`
	HTTP     HTTPConfig      `koanf:"http"`
	Feed     FeedConfig      `koanf:"feed"`
	Scanner  ScannerConfig   `koanf:"scanner"`
	Logging  LoggingConfig   `koanf:"logging"`
}

// EngineConfig controls the tick loop and the plugin supervisor.
type EngineConfig struct {
	// FrameRate is the playout rate in frames per second.
	FrameRate int `koanf:"frame_rate" validate:"min=1,max=1000"`

	// MutexTimeoutFrames bounds the per-tick engine mutex acquisition.
	MutexTimeoutFrames int `koanf:"mutex_timeout_frames" validate:"min=1"`

	// SyncPeriodFrames is the cadence of the playlist snapshot job.
	SyncPeriodFrames int `koanf:"sync_period_frames" validate:"min=1"`

	// ReloadTimes is the plugin reload backoff sequence in frames.
	// Its length is the per-plugin reload credit count.
	ReloadTimes []int `koanf:"reload_times" validate:"min=1,dive,min=1"`

	// StabilisationFrames is how long a reloaded plugin must stay up
	// before its reload counter is forgiven.
	StabilisationFrames int `koanf:"stabilisation_frames" validate:"min=1"`
}

// Rate returns the configured frame rate as a clock.Rate.
func (e EngineConfig) Rate() clock.Rate {
	return clock.Rate(e.FrameRate)
}

// ChannelConfig describes one playout channel.
type ChannelConfig struct {
	// Name identifies the channel in every adapter and log line.
	Name string `koanf:"name" validate:"required"`

	// Router is the crosspoint device used for channel switches.
	Router string `koanf:"router"`

	// RouterPort is the router output this channel feeds.
	RouterPort string `koanf:"router_port"`
}

// PluginsConfig locates the per-plugin configuration documents.
type PluginsConfig struct {
	// DeviceDir holds one YAML document per device plugin.
	DeviceDir string `koanf:"device_dir"`

	// ProcessorDir holds one YAML document per event processor.
	ProcessorDir string `koanf:"processor_dir"`
}

// SnapshotConfig controls playlist crash-recovery snapshots.
type SnapshotConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path is the badger directory holding playlist snapshots.
	Path string `koanf:"path"`

	// RestoreOnStart reloads the last snapshot into each channel at boot.
	RestoreOnStart bool `koanf:"restore_on_start"`
}

// FilesConfig locates the scanned media table shared between the scanner
// and the video device catalogue job.
type FilesConfig struct {
	// Path is the badger directory holding the media file table.
	Path string `koanf:"path"`
}

// AsRunConfig controls the as-run log database.
type AsRunConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path is the duckdb database file.
	Path string `koanf:"path"`

	// BatchSize is the appender flush threshold.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// TCPConfig controls the raw XML-over-TCP adapter.
type TCPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"min=1,max=65535"`

	// RatePerSecond and RateBurst throttle commands per connection.
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

// HTTPConfig controls the operator web adapter.
type HTTPConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// FeedConfig controls the playout event feed.
type FeedConfig struct {
	// BufferSize is the gochannel subscriber buffer.
	BufferSize int `koanf:"buffer_size" validate:"min=1"`

	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig controls the optional JetStream export of the feed.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// EmbeddedServer runs an in-process nats-server instead of dialing URL.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	StreamRetentionDays int    `koanf:"stream_retention_days"`
	SubjectPrefix       string `koanf:"subject_prefix"`
}

// ScannerConfig controls the media file scanner.
type ScannerConfig struct {
	Enabled bool `koanf:"enabled"`

	// Roots are the media directories to crawl.
	Roots []string `koanf:"roots"`

	// Extensions filters files by lowercase extension, dot included.
	Extensions []string `koanf:"extensions"`

	// Device is the video device name the scanned files belong to.
	Device string `koanf:"device"`

	// ProbeCommand is the ffprobe binary to invoke.
	ProbeCommand string        `koanf:"probe_command"`
	ProbeTimeout time.Duration `koanf:"probe_timeout"`

	// Concurrency is the probe worker pool size.
	Concurrency int `koanf:"concurrency" validate:"min=1"`

	// RescanInterval triggers full rescans; Watch adds fsnotify updates.
	RescanInterval time.Duration `koanf:"rescan_interval"`
	Watch          bool          `koanf:"watch"`

	// ExportPath, when set, receives an atomic JSON catalogue export
	// after each scan.
	ExportPath string `koanf:"export_path"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal critical disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks cross-field constraints that struct tags cannot express,
// then runs tag validation.
func (c *Config) Validate() error {
	if err := clock.Rate(c.Engine.FrameRate).Validate(); err != nil {
		return err
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel name must not be empty")
		}
		if _, dup := seen[ch.Name]; dup {
			return fmt.Errorf("duplicate channel name %q", ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}

	for i := 1; i < len(c.Engine.ReloadTimes); i++ {
		if c.Engine.ReloadTimes[i] <= c.Engine.ReloadTimes[i-1] {
			return fmt.Errorf("engine.reload_times must be strictly increasing")
		}
	}

	if c.Feed.NATS.Enabled && !c.Feed.NATS.EmbeddedServer && c.Feed.NATS.URL == "" {
		return fmt.Errorf("feed.nats.url is required when NATS export is enabled without an embedded server")
	}

	if c.Scanner.Enabled {
		if len(c.Scanner.Roots) == 0 {
			return fmt.Errorf("scanner.roots is required when the scanner is enabled")
		}
		if c.Scanner.Device == "" {
			return fmt.Errorf("scanner.device is required when the scanner is enabled")
		}
		if c.Files.Path == "" {
			return fmt.Errorf("files.path is required when the scanner is enabled")
		}
	}

	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	return nil
}
