// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package supervisor builds the suture v4 supervision tree that runs
// every long-lived Tarantula component.
//
// Three layers isolate failures:
//
//	tarantula
//	├── engine-layer
//	│   ├── engine (tick loop)
//	│   └── job-runner
//	├── io-layer
//	│   ├── tcpxml listener
//	│   ├── web server
//	│   └── scanner (if enabled)
//	└── feed-layer
//	    ├── feed (event pump)
//	    ├── feed-router
//	    ├── websocket-hub
//	    └── asrun appender (if enabled)
//
// A crash in a feed consumer or an HTTP handler restarts inside its
// own layer; the tick loop keeps playing out. Components implement
// suture.Service themselves (Serve plus String), so no wrapper types
// are needed. Lifecycle events are logged through sutureslog.
package supervisor
