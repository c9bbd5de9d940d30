// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package processor expands one high-level schedule event into a tree
// of concrete device events.
//
// # Model
//
// A processor receives the incoming wire event and writes a replacement
// into a fresh result event. The action pipeline then walks the result
// tree as if the caller had submitted it directly, so processors
// compose: a show wrapper can emit a child addressed at the fill
// processor, and the pipeline expands that child in turn. Processors
// never touch the playlist themselves; the one exception is the filler,
// whose async job inserts rows at completion under the engine mutex.
//
// # Kinds
//
// Four kinds are built in. The graphic pair turns one event into a
// timed add/remove on a graphics device. The show wrapper fronts a
// video with a continuity leader and layers a repeating now/next
// graphic over long items. The live show wrapper parks the channel on a
// manual hold with a countdown clock until an operator (or the
// manual-hold-release pre-processor) lets the live feed through. The
// filler packs a requested duration with inventory items chosen by
// play-history score.
//
// # Configuration
//
// Processors load from a directory of YAML documents, one per file,
// walked in file name order. Names must be unique across the set; a
// duplicate fails startup. The registry built from the documents is
// read-only after boot, so lookups from the tick thread take no lock.
package processor
