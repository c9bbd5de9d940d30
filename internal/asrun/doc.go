// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package asrun is the compliance and filler database, backed by an
// embedded DuckDB file.
//
// # As-Run Log
//
// Every dispatched playlist event becomes one asrun_events row. The
// tick thread calls Record, which only appends to an in-memory buffer;
// the appender loop (Serve) writes batches in a single transaction on a
// timer or when the buffer fills. A failed flush returns the batch to
// the buffer, bounded so a dead database cannot grow the process
// without limit.
//
// # Filler Inventory
//
// The filler_items table holds the continuity inventory the schedule
// filler draws from, and filler_plays its play history. PickItem runs
// the weighted selection in SQL: candidates matching slot type, device,
// duration cap and blacklist are scored by bracketed
// seconds-since-last-play plus static weight, lowest score first,
// random tie-break. Recording plays immediately keeps the next pick's
// scores honest.
package asrun
