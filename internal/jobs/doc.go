// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package jobs runs background work for the playout engine on a single
// worker goroutine.
//
// Slow operations (device catalogue refreshes, playlist snapshots,
// filler selection queries) must never run on the tick thread, where a
// 40 ms frame budget applies. They are submitted here instead and the
// tick thread collects results during its completion phase.
//
// # Lifecycle
//
//	Submit → ready → running → complete → callback (tick thread) → gone
//	                         ↘ failed → logged, no callback
//
// The queue orders by integer priority, higher first, submission order
// within a priority. One job runs at a time; work functions receive a
// Guard and take the engine mutex only around state mutation.
//
// RunCompletions is called by the tick loop while it already holds the
// engine mutex. Completion callbacks therefore mutate engine state
// without further locking. Completed jobs drain before failed ones,
// each in submission order, and repeat jobs re-enter the queue after
// their callback.
//
// A panic inside a work function marks that job failed and the worker
// carries on. The Runner is a suture service; the supervisor restarts
// it if the loop itself ever dies.
package jobs
