// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package logging provides centralized zerolog-based structured logging
// for Tarantula.
//
// Every component logs through the package-global logger so format, level,
// and destination are configured exactly once at startup:
//
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	logging.Info().Str("channel", "main").Msg("Channel initialised")
//	logging.Error().Err(err).Int("event", id).Msg("Dispatch failed")
//
// # Component Loggers
//
// Long-lived components derive a child logger carrying a fixed field:
//
//	log := logging.With().Str("component", "runner").Logger()
//	log.Warn().Int("event", id).Msg("Skipped during manual hold")
//
// # Log Levels
//
// Supported levels, most to least verbose: trace, debug, info, warn,
// error, fatal. The engine reserves warn for recoverable schedule
// anomalies (skipped events, held ticks) and error for dispatch and
// device failures.
//
// # Best Practices
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
//
// Prefer structured fields over string formatting:
//
//	logging.Info().
//	    Str("device", name).
//	    Int("action", action).
//	    Msg("Event dispatched")
//
// # slog Adapter
//
// NewSlogLogger returns an *slog.Logger backed by zerolog for libraries
// that require one (the suture event hook in internal/supervisor):
//
//	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. The global logger is
// protected by a sync.RWMutex for configuration changes.
//
// # Testing
//
// Capture output in tests with a buffer-backed logger:
//
//	var buf bytes.Buffer
//	logging.SetLogger(logging.NewTestLogger(&buf))
package logging
