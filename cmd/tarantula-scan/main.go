// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package main is the standalone media scanner.
//
// tarantula-scan maintains the media file table out of process, for
// installations where the playout host should not run ffprobe itself.
// It reads the same configuration as the engine and uses the scanner
// and files sections; scanner.enabled only gates the in-engine
// service, not this tool.
//
// By default the tool keeps running like the in-engine service would:
// an initial scan, then interval rescans and watch-mode updates as
// configured. With -once it performs a single scan and exits, which is
// the shape cron wants.
//
//	tarantula-scan -once
//	CONFIG_PATH=/etc/tarantula/config.yaml tarantula-scan
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/scanner"
)

func main() {
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	// The engine only validates these when scanner.enabled is set
	if cfg.Files.Path == "" {
		logging.Fatal().Msg("files.path is required")
	}
	if len(cfg.Scanner.Roots) == 0 {
		logging.Fatal().Msg("scanner.roots is required")
	}
	if cfg.Scanner.Device == "" {
		logging.Fatal().Msg("scanner.device is required")
	}

	rate := clock.Rate(cfg.Engine.FrameRate)

	logging.Info().
		Strs("roots", cfg.Scanner.Roots).
		Str("device", cfg.Scanner.Device).
		Str("table", cfg.Files.Path).
		Bool("once", *once).
		Msg("Starting tarantula-scan")

	table, err := scanner.OpenTable(cfg.Files.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open media file table")
	}
	defer func() {
		if err := table.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing media file table")
		}
	}()

	s := scanner.New(cfg.Scanner, rate, table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if *once {
		if err := s.Scan(ctx); err != nil {
			// Fatal exits without running the deferred close
			if closeErr := table.Close(); closeErr != nil {
				logging.Error().Err(closeErr).Msg("Error closing media file table")
			}
			logging.Fatal().Err(err).Msg("Scan failed")
		}
		logging.Info().Msg("Scan complete")
		return
	}

	if err := s.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if closeErr := table.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing media file table")
		}
		logging.Fatal().Err(err).Msg("Scanner failed")
	}
	logging.Info().Msg("Scanner stopped gracefully")
}
