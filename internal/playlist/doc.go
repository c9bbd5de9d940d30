// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package playlist holds the per-channel schedule and its on-disk
// snapshots.
//
// A playlist is a flat table of event rows keyed by a monotonically
// increasing integer id. Ids are never reused for the lifetime of a
// store, so late-arriving references to removed events fail cleanly
// instead of hitting a recycled row.
//
// # Event Model
//
// Three event types drive scheduling:
//
//   - Fixed: runs when the wall clock reaches its trigger second
//   - Manual: holds the schedule when reached; an operator or a parent
//     event releases it
//   - Child: belongs to a parent event and fires at its own trigger
//     second while the parent's subtree is live
//
// Triggers are unix seconds. Durations are frame counts at the
// channel's frame rate; package clock converts between the two. The
// wire formats used by the TCP and HTTP adapters carry seconds and the
// adapters convert on the way in.
//
// # Holds
//
// A pending manual event at or before the current second gates
// dispatch: only children of the holding event run while the hold is
// active. Fixed events that come due under a hold are skipped, not
// queued; the expectation is that releasing the hold shunts the
// remaining schedule into place.
//
// # Shunt
//
// Shunt translates a region of the schedule in time. The region starts
// at a given second and grows greedily: any pending top-level event
// inside the region extends it to that event's end plus the positive
// part of the delta plus a five second fudge. Events scheduled before
// the region never move, and descendants always move with their root.
//
// # Snapshots
//
// SnapshotStore persists full playlist images to BadgerDB so a restart
// resumes mid-schedule. Each save writes a fresh generation and flips a
// per-channel pointer as the commit point; a crash mid-save leaves the
// previous generation intact. Restore returns the rows and the id
// counter for Store.Load.
//
// # Thread Safety
//
// Store does no internal locking. The engine serialises all access
// through its frame-budgeted mutex, so adding locks here would only
// hide misuse. SnapshotStore is safe for concurrent use; BadgerDB
// provides the transaction isolation.
package playlist
