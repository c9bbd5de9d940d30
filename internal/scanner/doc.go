// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package scanner crawls the media roots and maintains the BadgerDB
// file table that video device catalogues are refreshed from.
//
// A scan walks the configured roots, filters by extension and
// stat-diffs each file against its table row. New or changed files are
// probed with ffprobe on a bounded worker pool; rows whose files have
// vanished are deleted. The table keys rows by bare file name because
// playlist events address clips that way.
//
// The scanner runs as a service: an initial scan, then interval
// rescans and, in watch mode, debounced rescans after fsnotify bursts.
// The same table can be maintained out of process by the
// tarantula-scan binary instead.
package scanner
