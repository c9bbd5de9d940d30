// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package websocket pushes live feed frames to operator browsers.
//
// The hub owns the client set and fans out every frame the feed router
// bridges to it. Connections are write-mostly: inbound data is
// discarded and the read pump exists only to service pings and close
// frames. A client whose send buffer fills is dropped rather than
// allowed to stall the fan-out; a reconnecting browser recovers state
// from the schedule endpoints.
//
// The hub runs under the feed layer of the supervision tree and is
// mounted on the web server at /ws via Hub.Handler.
package websocket
