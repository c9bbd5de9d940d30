// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
)

// watchDebounce coalesces fsnotify bursts into one rescan. Copying a
// file into a root fires many write events; a spurious extra scan is
// harmless, so the timer is reset without draining.
const watchDebounce = 2 * time.Second

// Scanner keeps the media file table in step with the files on disk.
// Each scan crawls the roots, probes new or changed files for duration
// and drops rows whose files are gone.
type Scanner struct {
	cfg   config.ScannerConfig
	table *Table
	probe prober
	exts  map[string]struct{}
	log   zerolog.Logger
}

// fileStat is the crawl's view of one file on disk.
type fileStat struct {
	path  string
	size  int64
	mtime int64
}

// New builds a scanner over the given table. Frame rate converts
// probed durations from seconds to frames.
func New(cfg config.ScannerConfig, rate clock.Rate, table *Table) *Scanner {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Scanner{
		cfg:   cfg,
		table: table,
		probe: ffprobeProber(cfg.ProbeCommand, cfg.ProbeTimeout, rate),
		exts:  exts,
		log:   logging.With().Str("component", "scanner").Logger(),
	}
}

func (s *Scanner) String() string { return "scanner" }

// Serve runs an initial scan, then rescans on the configured interval
// and, in watch mode, after bursts of filesystem events.
func (s *Scanner) Serve(ctx context.Context) error {
	s.run(ctx)

	var rescan <-chan time.Time
	if s.cfg.RescanInterval > 0 {
		ticker := time.NewTicker(s.cfg.RescanInterval)
		defer ticker.Stop()
		rescan = ticker.C
	}

	var (
		watcher     *fsnotify.Watcher
		watchEvents <-chan fsnotify.Event
		watchErrors <-chan error
	)
	if s.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer func() { _ = w.Close() }()
		s.watchDirs(w)
		watcher, watchEvents, watchErrors = w, w.Events, w.Errors
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-rescan:
			s.run(ctx)

		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				debounce.Reset(watchDebounce)
			}

		case <-debounce.C:
			s.run(ctx)
			// Directories created since setup need watches too.
			s.watchDirs(watcher)

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			s.log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// run is Scan with supervisor-friendly error handling: a failed scan is
// logged and retried on the next trigger instead of bouncing the
// service.
func (s *Scanner) run(ctx context.Context) {
	if err := s.Scan(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("Scan failed")
	}
}

// Scan performs one full pass: crawl, stat-diff against the table,
// probe stale files on a bounded pool, drop rows for missing files and
// export the catalogue when configured.
func (s *Scanner) Scan(ctx context.Context) error {
	start := time.Now()

	existing, err := s.table.Entries(s.cfg.Device)
	if err != nil {
		return err
	}

	seen := make(map[string]fileStat)
	for _, root := range s.cfg.Roots {
		if err := s.crawl(root, seen); err != nil {
			return fmt.Errorf("crawl %s: %w", root, err)
		}
	}

	var stale []string
	for name, st := range seen {
		if prev, ok := existing[name]; ok && prev.Size == st.size && prev.ModTime == st.mtime {
			continue
		}
		stale = append(stale, name)
	}
	sort.Strings(stale)

	var probed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, name := range stale {
		if gctx.Err() != nil {
			break
		}
		st := seen[name]
		g.Go(func() error {
			frames, err := s.probe(gctx, st.path)
			if err != nil {
				// A single unreadable file must not abort the scan.
				metrics.ScannerProbeErrors.Inc()
				failed.Add(1)
				s.log.Warn().Err(err).Str("file", st.path).Msg("Probe failed")
				return nil
			}
			metrics.ScannerFilesProbed.Inc()
			probed.Add(1)
			return s.table.Put(s.cfg.Device, name, Entry{
				Path:           st.path,
				Size:           st.size,
				ModTime:        st.mtime,
				DurationFrames: frames,
				ProbedAt:       time.Now().Unix(),
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("probe files: %w", err)
	}

	removed := 0
	for name := range existing {
		if _, ok := seen[name]; ok {
			continue
		}
		if err := s.table.Delete(s.cfg.Device, name); err != nil {
			return err
		}
		removed++
	}

	if s.cfg.ExportPath != "" {
		if err := s.export(); err != nil {
			return fmt.Errorf("export catalogue: %w", err)
		}
	}

	metrics.ScannerLastRun.SetToCurrentTime()
	s.log.Info().
		Int("files", len(seen)).
		Int64("probed", probed.Load()).
		Int64("failed", failed.Load()).
		Int("removed", removed).
		Dur("elapsed", time.Since(start)).
		Msg("Scan complete")
	return nil
}

// crawl walks one root collecting regular files with a wanted
// extension, keyed by base name. Events address clips by bare file
// name, so the first occurrence of a duplicated name wins.
func (s *Scanner) crawl(root string, seen map[string]fileStat) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.log.Warn().Err(err).Str("path", path).Msg("Crawl skipped entry")
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if _, ok := s.exts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		metrics.ScannerFilesSeen.Inc()
		name := d.Name()
		if prev, dup := seen[name]; dup {
			s.log.Warn().
				Str("name", name).
				Str("kept", prev.path).
				Str("ignored", path).
				Msg("Duplicate file name across roots")
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Stat failed")
			return nil
		}
		seen[name] = fileStat{path: path, size: info.Size(), mtime: info.ModTime().Unix()}
		return nil
	})
}

// export writes the device catalogue to ExportPath as JSON via an
// atomic replace, so external tooling never reads a torn file.
func (s *Scanner) export() error {
	rows, err := s.table.Entries(s.cfg.Device)
	if err != nil {
		return err
	}

	doc := struct {
		Device      string           `json:"device"`
		GeneratedAt time.Time        `json:"generated_at"`
		Files       map[string]Entry `json:"files"`
	}{
		Device:      s.cfg.Device,
		GeneratedAt: time.Now().UTC(),
		Files:       rows,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalogue: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.cfg.ExportPath)
	if err != nil {
		return fmt.Errorf("create pending export: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

// watchDirs registers every directory under the roots. fsnotify does
// not recurse, so subdirectories are added one by one; failures leave
// that branch unwatched and the interval rescan covers it.
func (s *Scanner) watchDirs(w *fsnotify.Watcher) {
	if w == nil {
		return
	}
	for _, root := range s.cfg.Roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.Add(path); err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("Watch failed")
			}
			return nil
		})
	}
}
