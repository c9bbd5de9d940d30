// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate, got: %v", err)
	}

	if cfg.Engine.FrameRate != 25 {
		t.Errorf("default frame rate = %d, want 25", cfg.Engine.FrameRate)
	}
	if cfg.TCP.Port != 9815 {
		t.Errorf("default tcp port = %d, want 9815", cfg.TCP.Port)
	}
	if len(cfg.Engine.ReloadTimes) == 0 {
		t.Error("default reload times must not be empty")
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero frame rate", func(c *Config) { c.Engine.FrameRate = 0 }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"empty channel name", func(c *Config) { c.Channels = []ChannelConfig{{Name: ""}} }},
		{"duplicate channels", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a"}, {Name: "a"}}
		}},
		{"non-increasing reload times", func(c *Config) {
			c.Engine.ReloadTimes = []int{500, 500}
		}},
		{"empty reload times", func(c *Config) { c.Engine.ReloadTimes = nil }},
		{"nats enabled without url", func(c *Config) {
			c.Feed.NATS.Enabled = true
			c.Feed.NATS.EmbeddedServer = false
			c.Feed.NATS.URL = ""
		}},
		{"scanner without roots", func(c *Config) {
			c.Scanner.Enabled = true
			c.Scanner.Roots = nil
		}},
		{"scanner without device", func(c *Config) {
			c.Scanner.Enabled = true
			c.Scanner.Roots = []string{"/media"}
			c.Scanner.Device = ""
			c.Files.Path = "/data/files"
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad tcp port", func(c *Config) { c.TCP.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tarantula.yaml")

	yaml := `
engine:
  frame_rate: 50
channels:
  - name: main
    router: matrix
    router_port: "TX1"
  - name: backup
tcp:
  port: 9915
scanner:
  enabled: true
  roots:
    - /media/store
files:
  path: /data/files
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.FrameRate != 50 {
		t.Errorf("frame_rate = %d, want 50", cfg.Engine.FrameRate)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].Name != "main" {
		t.Errorf("channels = %+v, want main+backup", cfg.Channels)
	}
	if cfg.Channels[0].Router != "matrix" || cfg.Channels[0].RouterPort != "TX1" {
		t.Errorf("channel router config not loaded: %+v", cfg.Channels[0])
	}
	if cfg.TCP.Port != 9915 {
		t.Errorf("tcp.port = %d, want 9915", cfg.TCP.Port)
	}
	// Defaults survive for untouched sections.
	if cfg.HTTP.Port != 9816 {
		t.Errorf("http.port = %d, want default 9816", cfg.HTTP.Port)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tarantula.yaml")
	if err := os.WriteFile(path, []byte("channels:\n  - name: main\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TARANTULA_TCP_PORT", "10815")
	t.Setenv("TARANTULA_LOG_LEVEL", "debug")
	t.Setenv("TARANTULA_RELOAD_TIMES", "100, 200, 400")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.TCP.Port != 10815 {
		t.Errorf("tcp.port = %d, want env override 10815", cfg.TCP.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	want := []int{100, 200, 400}
	if len(cfg.Engine.ReloadTimes) != len(want) {
		t.Fatalf("reload_times = %v, want %v", cfg.Engine.ReloadTimes, want)
	}
	for i := range want {
		if cfg.Engine.ReloadTimes[i] != want[i] {
			t.Errorf("reload_times[%d] = %d, want %d", i, cfg.Engine.ReloadTimes[i], want[i])
		}
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"TARANTULA_TCP_PORT", "tcp.port"},
		{"TARANTULA_LOG_LEVEL", "logging.level"},
		{"TARANTULA_FRAME_RATE", "engine.frame_rate"},
		{"TARANTULA_NATS_URL", "feed.nats.url"},
		{"TARANTULA_SCANNER_ROOTS", "scanner.roots"},
		{"TARANTULA_UNKNOWN_KEY", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if got := cfg.Engine.Rate().Interval().Milliseconds(); got != 40 {
		t.Errorf("default tick interval = %dms, want 40ms", got)
	}
}
