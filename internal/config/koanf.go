// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"tarantula.yaml",
	"tarantula.yml",
	"/etc/tarantula/tarantula.yaml",
	"/etc/tarantula/tarantula.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns a Config with every optional setting filled in.
// Defaults are applied first, then overridden by file and env vars.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			FrameRate:           25,
			MutexTimeoutFrames:  1,
			SyncPeriodFrames:    750, // 30s at 25fps
			ReloadTimes:         []int{250, 750, 3000},
			StabilisationFrames: 125,
		},
		Channels: []ChannelConfig{
			{Name: "default"},
		},
		Plugins: PluginsConfig{
			DeviceDir:    "config/devices",
			ProcessorDir: "config/processors",
		},
		Snapshot: SnapshotConfig{
			Enabled:        true,
			Path:           "/data/tarantula/snapshots",
			RestoreOnStart: true,
		},
		Files: FilesConfig{
			Path: "/data/tarantula/files",
		},
		AsRun: AsRunConfig{
			Enabled:       true,
			Path:          "/data/tarantula/asrun.duckdb",
			BatchSize:     64,
			FlushInterval: 5 * time.Second,
		},
		TCP: TCPConfig{
			Enabled:       true,
			Host:          "0.0.0.0",
			Port:          9815,
			RatePerSecond: 50,
			RateBurst:     100,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            9816,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Feed: FeedConfig{
			BufferSize: 256,
			NATS: NATSConfig{
				Enabled:             false,
				URL:                 "nats://127.0.0.1:4222",
				EmbeddedServer:      false,
				StoreDir:            "/data/tarantula/nats",
				StreamRetentionDays: 7,
				SubjectPrefix:       "tarantula",
			},
		},
		Scanner: ScannerConfig{
			Enabled:      false,
			Extensions:   []string{".mxf", ".mov", ".mp4", ".avi", ".mpg"},
			Device:       "",
			ProbeCommand: "ffprobe",
			ProbeTimeout: 30 * time.Second,
			Concurrency:  4,
			Watch:        false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds configuration from layered sources using Koanf v2:
// defaults, then an optional YAML file, then TARANTULA_* environment
// variables. The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority).
	// TARANTULA_TCP_PORT -> tcp.port, TARANTULA_LOG_LEVEL -> logging.level
	envProvider := env.Provider("TARANTULA_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// stringSlicePaths are config paths parsed from comma-separated env strings.
var stringSlicePaths = []string{
	"http.cors_origins",
	"scanner.roots",
	"scanner.extensions",
}

// intSlicePaths are like stringSlicePaths but hold integers.
var intSlicePaths = []string{
	"engine.reload_times",
}

// processSliceFields converts comma-separated env strings into slices for
// the known slice-valued paths. YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range stringSlicePaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitTrimmed(strVal)
		if len(parts) > 0 {
			if err := k.Set(path, parts); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	for _, path := range intSlicePaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitTrimmed(strVal)
		ints := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("%s: %q is not an integer", path, p)
			}
			ints = append(ints, n)
		}
		if len(ints) > 0 {
			if err := k.Set(path, ints); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	return nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envTransformFunc maps TARANTULA_* environment variable names to koanf
// config paths. Unmapped keys are skipped so stray environment variables
// cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "TARANTULA_"))

	envMappings := map[string]string{
		// Engine
		"frame_rate":           "engine.frame_rate",
		"mutex_timeout_frames": "engine.mutex_timeout_frames",
		"sync_period_frames":   "engine.sync_period_frames",
		"reload_times":         "engine.reload_times",
		"stabilisation_frames": "engine.stabilisation_frames",

		// Plugin config directories
		"device_dir":    "plugins.device_dir",
		"processor_dir": "plugins.processor_dir",

		// Stores
		"snapshot_enabled":  "snapshot.enabled",
		"snapshot_path":     "snapshot.path",
		"snapshot_restore":  "snapshot.restore_on_start",
		"files_path":        "files.path",
		"asrun_enabled":     "asrun.enabled",
		"asrun_path":        "asrun.path",
		"asrun_batch_size":  "asrun.batch_size",
		"asrun_flush_every": "asrun.flush_interval",

		// TCP adapter
		"tcp_enabled": "tcp.enabled",
		"tcp_host":    "tcp.host",
		"tcp_port":    "tcp.port",
		"tcp_rate":    "tcp.rate_per_second",
		"tcp_burst":   "tcp.rate_burst",

		// HTTP adapter
		"http_enabled":        "http.enabled",
		"http_host":           "http.host",
		"http_port":           "http.port",
		"http_timeout":        "http.timeout",
		"cors_origins":        "http.cors_origins",
		"rate_limit_requests": "http.rate_limit_requests",
		"rate_limit_window":   "http.rate_limit_window",

		// Event feed / NATS export
		"feed_buffer_size":    "feed.buffer_size",
		"nats_enabled":        "feed.nats.enabled",
		"nats_url":            "feed.nats.url",
		"nats_embedded":       "feed.nats.embedded_server",
		"nats_store_dir":      "feed.nats.store_dir",
		"nats_retention_days": "feed.nats.stream_retention_days",
		"nats_subject_prefix": "feed.nats.subject_prefix",

		// Scanner
		"scanner_enabled":     "scanner.enabled",
		"scanner_roots":       "scanner.roots",
		"scanner_extensions":  "scanner.extensions",
		"scanner_device":      "scanner.device",
		"scanner_probe":       "scanner.probe_command",
		"scanner_timeout":     "scanner.probe_timeout",
		"scanner_concurrency": "scanner.concurrency",
		"scanner_rescan":      "scanner.rescan_interval",
		"scanner_watch":       "scanner.watch",
		"scanner_export":      "scanner.export_path",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
