// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package tcpxml is the raw protocol adapter: newline-delimited XML
// request documents over a plain TCP socket, the oldest integration
// surface traffic systems speak.
//
// # Protocol
//
// On connect the server greets with "Welcome to Tarantula." and then
// reads one request document per line. The literal lines "quit" and
// "exit" close the connection. Mutation requests answer with a status
// line:
//
//	200 SUCCESS
//	400 BAD COMMAND | NO ACTION | NO DATA | BAD DATA | BAD ACTION | RATE LIMITED
//	500 <error text>
//
// Update requests answer with the matching snapshot document on a
// single line. Replies arrive asynchronously, in pipeline completion
// order, which for this engine is submission order within a tick.
//
// # Threading
//
// One goroutine per connection parses requests onto a buffered channel;
// the engine drains that channel inside its tick via Tick, so the
// pipeline only ever runs on the tick thread. Replies go back through
// per-connection write queues drained by a writer goroutine, so a slow
// client stalls nothing but itself. Each connection carries a token
// bucket; commands beyond the configured rate answer 400 RATE LIMITED
// without touching the engine.
package tcpxml
