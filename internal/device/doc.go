// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package device abstracts the playout hardware behind three command
// families: video transports, graphics renderers, and crosspoint
// routers.
//
// # Model
//
// A Device pairs a family-agnostic lifecycle (status machine, poll
// cadence, handshake bookkeeping) with a Driver that speaks one
// device's dialect. Drivers register by (family, kind); the built-in
// kinds are "line", a reconnecting TCP client for text protocols, and
// "demo", an in-memory simulator used by rehearsal configs and tests.
//
// # Status Machine
//
//	starting → ready      hardware answered the first handshake
//	starting → waiting    hardware still booting
//	waiting  → ready      first successful handshake
//	ready    → crashed    dispatch or IO failure
//	crashed  → waiting    plugin supervisor reset after cooldown
//	crashed  → unload     reload credits exhausted; terminal
//
// Only ready devices accept events. A crashed device keeps its driver
// state (graphics layer maps in particular) until the supervisor
// rebuilds it.
//
// # Tick Discipline
//
// Poll runs once per frame on the tick thread and must not block: the
// line drivers drain a buffered receive channel and leave all socket
// IO to the connection's own goroutines. Sends pass through a circuit
// breaker so a wedged device fails fast instead of eating the frame
// budget.
//
// Like the playlist store, Device methods expect the engine mutex to
// serialise callers.
package device
