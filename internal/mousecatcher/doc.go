// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package mousecatcher is the schedule mutation pipeline. Source
// adapters push EventActions onto the shared queue from their own
// goroutines; the engine drains the queue once per tick under the
// engine mutex and applies each action to the playlist stores.
//
// # Actions
//
// An action is one of add, remove, edit, trigger, or the update family.
// Add and edit carry a wire-level event tree; remove, edit and trigger
// name an existing row. Update actions carry no mutation at all: they
// snapshot a registry (playlist, devices, actions, processors, files)
// and hand the copy back to the originating source through its report
// interface, together with the source's opaque correlation payload.
//
// # Wire Events
//
// Wire events speak seconds; playlist rows speak frames. A top-level
// trigger is absolute unix seconds, a child trigger is an offset from
// its parent's start, and durations convert at the channel's frame
// rate. The translation happens exactly once, when the tree is walked
// into rows.
//
// # Processors
//
// When an event's target names a registered processor instead of a
// device, the pipeline hands it to the processor and continues with the
// returned result in its place. Results may carry further processor
// invocations as children; each level expands once as the walk
// descends. Rows whose device still names a processor after expansion
// are stored as placeholders, which the channel runner marks processed
// without dispatching.
//
// # Completion
//
// The pipeline sets Done and Return on every drained action, success or
// not, in the same tick it was drained. Sources poll their retained
// action pointers on their own tick and write replies from there; an
// empty Return means success.
package mousecatcher
