// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package engine runs the playout tick loop.
//
// # Tick Discipline
//
// The engine is cooperatively single-threaded: one tick per frame, and
// everything that touches shared state runs inside the tick while the
// engine mutex is held. The only other thread that ever takes the mutex
// is the async job worker, and it must do so through the guard with a
// context. The tick itself acquires the mutex with a frame-budget
// timeout; when a job holds it too long the tick is skipped and counted
// instead of stretching the frame.
//
// # Per-Tick Order
//
// Source adapters tick first (they reply to completed actions and push
// new ones), then the action pipeline drains, then device polls and the
// plugin reload policy, then each channel runner, then job completions,
// the snapshot cadence and feed publication. Channel runners evaluate
// one wall-clock second at a time and catch up seconds missed by
// skipped ticks, so a stalled tick delays events but never loses them.
//
// # Holds
//
// A pending manual event gates its channel: due events run only while
// no hold is active or when they hang directly off the active hold.
// The hold itself is gated too, which is what parks the channel. An
// operator trigger releases it, running the built-in
// manual-hold-release pre-processor for holds that carry a
// switch-channel: remaining children are erased, the timeline is
// shunted by the release distance and the router cut goes in for the
// following second.
package engine
