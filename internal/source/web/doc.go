// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package web is the HTTP adapter: the operator schedule page and the
// mutation endpoints, served by a chi router with CORS and per-IP rate
// limiting.
//
// # Endpoints
//
//	GET  /                schedule page for today
//	GET  /{yyyymmdd}      schedule page for one day
//	POST /add             event XML body, optional ?channel=
//	GET  /remove/{id}     remove a row, optional ?channel=
//	GET  /trigger/{id}    run a pending manual row now
//	GET  /files/{device}  catalogue snapshot document
//	GET  /tarantula.css   embedded stylesheet
//	GET  /ws              live update socket
//	GET  /metrics         prometheus registry
//	GET  /healthz         liveness probe
//
// # Fan-out
//
// The schedule page needs the playlist of every channel plus the
// device, action and processor tables. The handler queues that whole
// batch as one waiter; the engine's tick promotes the waiter once the
// pipeline has answered every action, and only then does the handler
// render. Handlers block their own goroutines, never the engine: the
// tick thread's only web work is queue admission and promotion.
package web
