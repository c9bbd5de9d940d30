// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/events"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
)

// Hub fans feed frames out to every connected operator browser. The
// feed router calls Broadcast; the run loop owns the client set, so
// no client map locking leaks into the hot path.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan events.Frame
	log        zerolog.Logger

	// mu guards clients for the count and shutdown paths; the run loop
	// is the only writer.
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub returns a hub ready to Serve.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan events.Frame, 256),
		log:        logging.With().Str("component", "websocket").Logger(),
		clients:    make(map[*client]struct{}),
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Serve runs the hub loop until the context is cancelled, then closes
// every client so the supervisor can restart a clean hub.
//
// Lifecycle events take priority over broadcasts: a disconnecting
// client must leave the set before the next frame fans out.
func (h *Hub) Serve(ctx context.Context) error {
	h.log.Info().Msg("Websocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info().Msg("Websocket hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.drop(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info().Msg("Websocket hub stopped")
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.drop(c)
		case frame := <-h.broadcast:
			h.fanOut(frame)
		}
	}
}

// Broadcast queues a frame for every client. It never blocks; when the
// hub is saturated the frame is dropped, since the browser view heals
// on the next schedule fetch.
func (h *Hub) Broadcast(frame events.Frame) {
	select {
	case h.broadcast <- frame:
	default:
		h.log.Warn().Str("topic", frame.Topic).Msg("Hub saturated, frame dropped")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(n))
	h.log.Info().Str("remote", c.remote).Int("clients", n).Msg("Websocket client connected")
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	metrics.WSConnections.Set(float64(n))
	h.log.Info().Str("remote", c.remote).Int("clients", n).Msg("Websocket client disconnected")
}

// fanOut sends one frame to every client in connection order. A client
// whose send buffer is full is dropped; a reader that slow is gone
// anyway.
func (h *Hub) fanOut(frame events.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Err(err).Str("topic", frame.Topic).Msg("Frame marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ordered := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	for _, c := range ordered {
		select {
		case c.send <- data:
			metrics.WSMessagesSent.Inc()
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warn().Str("remote", c.remote).Msg("Websocket client too slow, dropped")
		}
	}
	metrics.WSConnections.Set(float64(len(h.clients)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WSConnections.Set(0)
}
