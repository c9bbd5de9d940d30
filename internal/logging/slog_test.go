// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger := NewSlogLogger()

	tests := []struct {
		name    string
		logFunc func()
		level   string
	}{
		{"Debug", func() { logger.Debug("dbg") }, `"level":"debug"`},
		{"Info", func() { logger.Info("inf") }, `"level":"info"`},
		{"Warn", func() { logger.Warn("wrn") }, `"level":"warn"`},
		{"Error", func() { logger.Error("err") }, `"level":"error"`},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc()
		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("%s: expected %s in output: %s", tt.name, tt.level, buf.String())
		}
	}
}

func TestSlogHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger := NewSlogLogger()
	logger.Info("supervisor event",
		slog.String("service", "engine-loop"),
		slog.Int64("restarts", 2),
		slog.Bool("terminal", false),
	)

	output := buf.String()
	for _, want := range []string{
		`"service":"engine-loop"`,
		`"restarts":2`,
		`"terminal":false`,
		"supervisor event",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output: %s", want, output)
		}
	}
}

func TestSlogHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger := NewSlogLogger().With(slog.String("tree", "tarantula"))
	logger = logger.WithGroup("suture")
	logger.Info("restarting", slog.String("service", "tcp-adapter"))

	output := buf.String()
	if !strings.Contains(output, `"tree":"tarantula"`) {
		t.Errorf("expected pre-set attr in output: %s", output)
	}
	if !strings.Contains(output, `"suture.service":"tcp-adapter"`) {
		t.Errorf("expected grouped key in output: %s", output)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	h := &SlogHandler{logger: zerolog.New(nil).Level(zerolog.WarnLevel)}

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}
