// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package plugin supervises the device fleet: it loads device documents
// from disk, adopts the resulting devices, and restarts the ones that
// crash on an escalating schedule.
//
// # Documents
//
// Each device is described by one YAML document in the plugin directory
// (see LoadDir). A document carries the device's name, family, kind and
// driver settings; names must be unique across the whole directory. A
// broken document fails the entire load so that a typo cannot silently
// shrink the fleet.
//
// # Reload Credits
//
// Every adopted device holds a stack of reload credits, one per entry
// in the configured reload schedule. A crash consumes the next credit
// and arms a countdown of that many ticks before the reload fires; a
// device that keeps crashing walks down the schedule, waiting longer
// each time. When the credits run out the device is force-unloaded and
// dropped from the registry at the following sweep.
//
// # Stabilisation
//
// A reload does not restore faith by itself. After the driver is
// rebuilt the entry counts up through a stabilisation window, and only
// when the window passes without another crash does the credit stack
// refill. A crash inside the window consumes the next credit
// immediately, so a flapping device cannot reset its own backoff.
//
// # Reconfiguration
//
// Reloads re-read the device's document from disk before rebuilding the
// driver, so operators can fix a bad address or credential and have the
// next scheduled reload pick it up. If the re-read fails the previous
// settings are kept and the reload proceeds anyway.
//
// # Thread Safety
//
// The Supervisor has no locking of its own. Tick, Adopt and the
// accessors are all called from the engine's frame thread under the
// engine mutex, which serialises them against event dispatch.
package plugin
