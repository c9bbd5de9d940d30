// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package events is the playout event feed: a watermill pub/sub that
// the engine publishes lifecycle messages into and a router that fans
// them out to every consumer.
//
// Topics carry JSON payloads: playout.begin, playout.end and
// playout.skip ride PlayMessage, schedule.changed rides
// ScheduleMessage and device.status rides StatusMessage. The Feed's
// publish path is non-blocking so the tick thread can never stall on a
// slow consumer; a full buffer drops the message and counts it.
//
// The Router bridges the feed to the websocket hub (Frame envelopes),
// to the as-run log (begin messages become rows) and, when configured,
// to a NATS JetStream subject per topic, optionally served by an
// embedded nats-server.
package events
