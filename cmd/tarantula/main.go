// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package main is the entry point for the Tarantula playout engine.
//
// # Application Architecture
//
// The engine initializes components in the following order:
//
//  1. Configuration: load settings from config file and environment (Koanf v2)
//  2. Stores: playlist snapshots (BadgerDB), as-run log (DuckDB), media file table (BadgerDB)
//  3. Devices: load plugin documents, start drivers, adopt them into the plugin supervisor
//  4. Engine: tick loop, channel runners, job runner and the action pipeline
//  5. Processors: build event processors against the engine's channels
//  6. Feed: watermill event feed, feed router, websocket hub and optional NATS export
//  7. Sources: TCP XML automation listener and the HTTP control panel
//  8. Supervisor tree: every long-running piece under suture
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - TARANTULA_* environment variables
//   - Config file (config.yaml, or the path in CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The engine handles graceful shutdown on SIGINT and SIGTERM:
//   - the tick loop stops at the next frame boundary
//   - sources stop accepting connections and drain
//   - stores flush and close
//
// # Example Usage
//
//	export CONFIG_PATH=/etc/tarantula/config.yaml
//	export TARANTULA_LOGGING_LEVEL=debug
//	./tarantula
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/tarantula/internal/asrun"
	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/engine"
	"github.com/tomtom215/tarantula/internal/events"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/playlist"
	"github.com/tomtom215/tarantula/internal/plugin"
	"github.com/tomtom215/tarantula/internal/processor"
	"github.com/tomtom215/tarantula/internal/scanner"
	"github.com/tomtom215/tarantula/internal/source/tcpxml"
	"github.com/tomtom215/tarantula/internal/source/web"
	"github.com/tomtom215/tarantula/internal/supervisor"
	ws "github.com/tomtom215/tarantula/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("frame_rate", cfg.Engine.FrameRate).
		Int("channels", len(cfg.Channels)).
		Str("tcp_host", cfg.TCP.Host).
		Int("tcp_port", cfg.TCP.Port).
		Msg("Starting Tarantula")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Playlist snapshot store (crash recovery)
	var snapshots *playlist.SnapshotStore
	if cfg.Snapshot.Enabled {
		snapshots, err = playlist.OpenSnapshots(cfg.Snapshot.Path)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open snapshot store")
		}
		defer func() {
			if err := snapshots.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing snapshot store")
			}
		}()
		logging.Info().Str("path", cfg.Snapshot.Path).Msg("Snapshot store open")
	}

	// As-run log (also backs the filler pool)
	var asrunDB *asrun.DB
	if cfg.AsRun.Enabled {
		asrunDB, err = asrun.Open(cfg.AsRun)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open as-run log")
		}
		defer func() {
			if err := asrunDB.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing as-run log")
			}
		}()
		logging.Info().Str("path", cfg.AsRun.Path).Msg("As-run log open")
	}

	// Media file table, shared between the scanner and the video
	// device catalogue jobs
	var table *scanner.Table
	if cfg.Files.Path != "" {
		table, err = scanner.OpenTable(cfg.Files.Path)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open media file table")
		}
		defer func() {
			if err := table.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing media file table")
			}
		}()
		logging.Info().Str("path", cfg.Files.Path).Msg("Media file table open")
	}

	// Load device plugins and adopt them into the plugin supervisor.
	// A device that fails to start only warns: the supervisor's reload
	// credits bring it back once the hardware answers.
	plugins := plugin.NewSupervisor(cfg.Engine.ReloadTimes, cfg.Engine.StabilisationFrames)
	docs, err := plugin.LoadDir(cfg.Plugins.DeviceDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load device plugins")
	}
	for _, doc := range docs {
		d, err := device.New(doc.Settings)
		if err != nil {
			logging.Fatal().Err(err).Str("path", doc.Path).Msg("Invalid device plugin")
		}
		if err := d.Start(ctx); err != nil {
			logging.Warn().Err(err).Str("device", d.Name()).Msg("Device failed to start, reload will retry")
		}
		plugins.Adopt(d, doc.Path)
		logging.Info().
			Str("device", d.Name()).
			Str("family", d.Family().String()).
			Str("kind", d.Kind()).
			Msg("Device adopted")
	}

	// Event feed: engine publishes, router fans out
	feed := events.NewFeed(cfg.Feed)

	procs := processor.NewRegistry()
	eng, err := engine.New(engine.Options{
		Engine:     cfg.Engine,
		Channels:   cfg.Channels,
		Plugins:    plugins,
		Processors: procs,
		Snapshots:  snapshots,
		Feed:       feed,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build engine")
	}

	// Processors resolve channels through the engine, so they are
	// built after it and registered before the first tick
	pdocs, err := processor.LoadDir(cfg.Plugins.ProcessorDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load processor plugins")
	}
	deps := processor.Deps{
		Rate:     eng.Rate(),
		DB:       asrunDB,
		Jobs:     eng.Jobs(),
		Channels: eng,
	}
	for _, doc := range pdocs {
		p, err := processor.Build(doc.Settings, deps)
		if err != nil {
			logging.Fatal().Err(err).Str("path", doc.Path).Msg("Invalid processor plugin")
		}
		if err := procs.Register(doc.Settings.Name, p); err != nil {
			logging.Fatal().Err(err).Str("processor", doc.Settings.Name).Msg("Failed to register processor")
		}
		logging.Info().
			Str("processor", doc.Settings.Name).
			Str("kind", doc.Settings.Kind).
			Msg("Processor registered")
	}

	// Catalogue refresh for every video device backed by the file
	// table: one submission now for a warm start, then one per sync
	// period. Separate job instances so their payloads never overlap.
	if table != nil {
		for _, d := range plugins.ForFamily(device.FamilyVideo) {
			boot, err := device.NewCatalogueJob(d, table)
			if err != nil {
				logging.Warn().Err(err).Str("device", d.Name()).Msg("Device has no catalogue")
				continue
			}
			if _, err := eng.Jobs().Submit(boot); err != nil {
				logging.Warn().Err(err).Str("device", d.Name()).Msg("Initial catalogue refresh not queued")
			}
			periodic, _ := device.NewCatalogueJob(d, table)
			if err := eng.AddPeriodicJob(periodic, cfg.Engine.SyncPeriodFrames); err != nil {
				logging.Warn().Err(err).Str("device", d.Name()).Msg("Catalogue refresh not scheduled")
			}
		}
	} else {
		logging.Info().Msg("No media file table configured, video catalogues stay empty")
	}

	if cfg.Snapshot.Enabled && cfg.Snapshot.RestoreOnStart {
		if err := eng.RestoreSnapshots(); err != nil {
			logging.Fatal().Err(err).Msg("Failed to restore playlist snapshots")
		}
	}

	// Feed router bridges the feed to the websocket hub, the as-run
	// log and, when enabled, NATS JetStream
	hub := ws.NewHub()
	router, err := events.NewRouter(events.RouterOptions{
		Feed:  feed,
		Sink:  hub,
		AsRun: asrunDB,
		NATS:  cfg.Feed.NATS,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build feed router")
	}
	defer func() {
		if err := router.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing feed router")
		}
	}()

	// Sources queue actions on the engine each tick
	tcp := tcpxml.New(cfg.TCP)
	eng.AddAdapter(tcp)

	var webSrv *web.Server
	if cfg.HTTP.Enabled {
		names := make([]string, 0, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			names = append(names, ch.Name)
		}
		webSrv, err = web.New(web.Options{
			Config:   cfg.HTTP,
			Channels: names,
			Rate:     eng.Rate(),
			WS:       hub.Handler(cfg.HTTP.CORSOrigins),
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to build web server")
		}
		eng.AddAdapter(webSrv)
		logging.Info().
			Str("host", cfg.HTTP.Host).
			Int("port", cfg.HTTP.Port).
			Msg("HTTP panel enabled")
	}

	// Supervisor tree: engine layer ticks, io layer listens, feed
	// layer fans out
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(eng)
	tree.AddEngineService(eng.Jobs())
	tree.AddIOService(tcp)
	if webSrv != nil {
		tree.AddIOService(webSrv)
	}
	if cfg.Scanner.Enabled {
		if table == nil {
			logging.Fatal().Msg("Scanner enabled without files.path")
		}
		tree.AddIOService(scanner.New(cfg.Scanner, eng.Rate(), table))
		logging.Info().
			Strs("roots", cfg.Scanner.Roots).
			Str("device", cfg.Scanner.Device).
			Msg("Media scanner enabled")
	}
	tree.AddFeedService(feed)
	tree.AddFeedService(router)
	tree.AddFeedService(hub)
	if asrunDB != nil {
		tree.AddFeedService(asrunDB)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Tarantula stopped gracefully")
}
