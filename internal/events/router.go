// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/asrun"
	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
)

// FrameSink receives feed frames for live fan-out. The websocket hub
// implements it.
type FrameSink interface {
	Broadcast(frame Frame)
}

// RouterOptions wires the feed consumers. Sink and AsRun may be nil to
// disable their bridges; NATS export runs when the config enables it.
type RouterOptions struct {
	Feed  *Feed
	Sink  FrameSink
	AsRun *asrun.DB
	NATS  config.NATSConfig
}

// Router bridges the feed to its consumers: every topic to the
// websocket hub as Frame envelopes, playout.begin to the as-run log,
// and, when enabled, every topic to a JetStream subject.
//
// A fresh watermill router is built on each Serve call so the
// supervisor can restart the service; the NATS components are built
// once and survive restarts.
type Router struct {
	opts RouterOptions
	nats *natsExport
	log  zerolog.Logger
}

// NewRouter validates the wiring and connects the NATS export when
// enabled. A NATS failure here is fatal; an export that is configured
// but absent is worse than a refused start.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Feed == nil {
		return nil, errors.New("feed router needs a feed")
	}

	rt := &Router{
		opts: opts,
		log:  logging.With().Str("component", "feed-router").Logger(),
	}

	if opts.NATS.Enabled {
		ex, err := newNATSExport(opts.NATS, watermillLogger())
		if err != nil {
			return nil, fmt.Errorf("nats export: %w", err)
		}
		rt.nats = ex
	}
	return rt, nil
}

func (rt *Router) String() string { return "feed-router" }

// Serve builds the handler set and runs it until the context is
// cancelled.
func (rt *Router) Serve(ctx context.Context) error {
	logger := watermillLogger()
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("build feed router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	sub := rt.opts.Feed.Subscriber()

	if rt.opts.Sink != nil {
		for _, topic := range Topics() {
			router.AddConsumerHandler("ws-"+topic, topic, sub, rt.sinkHandler(topic))
		}
	}
	if rt.opts.AsRun != nil {
		router.AddConsumerHandler("asrun-append", TopicPlayBegin, sub, rt.asrunHandler())
	}
	if rt.nats != nil {
		for _, topic := range Topics() {
			router.AddHandler("nats-"+topic, topic, sub,
				rt.nats.subject(topic), rt.nats.pub, forward)
		}
	}

	rt.log.Info().
		Bool("websocket", rt.opts.Sink != nil).
		Bool("asrun", rt.opts.AsRun != nil).
		Bool("nats", rt.nats != nil).
		Msg("Feed router started")

	err = router.Run(ctx)
	rt.log.Info().Msg("Feed router stopped")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close shuts the NATS export down. Call after the supervision tree
// has stopped.
func (rt *Router) Close() error {
	if rt.nats == nil {
		return nil
	}
	return rt.nats.close()
}

// forward republishes a message unchanged.
func forward(msg *message.Message) ([]*message.Message, error) {
	return []*message.Message{msg}, nil
}

func (rt *Router) sinkHandler(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		rt.opts.Sink.Broadcast(Frame{Topic: topic, Data: json.RawMessage(msg.Payload)})
		return nil
	}
}

// asrunHandler turns begin messages into as-run rows. The appender
// buffers them; a decode failure is logged and acked, since replaying
// a broken payload cannot fix it.
func (rt *Router) asrunHandler() message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var pm PlayMessage
		if err := json.Unmarshal(msg.Payload, &pm); err != nil {
			rt.log.Error().Err(err).Str("message", msg.UUID).Msg("As-run decode failed")
			return nil
		}

		row := asrun.Row{
			Channel:        pm.Channel,
			EventID:        pm.Event.ID,
			Device:         pm.Event.Device,
			Family:         pm.Event.Family,
			Action:         pm.Event.Action,
			Description:    pm.Event.Description,
			TriggerAt:      pm.Event.Trigger,
			DurationFrames: pm.Event.DurationFrames,
			DispatchedAt:   pm.At,
		}
		if id, err := uuid.Parse(msg.UUID); err == nil {
			row.ID = id
		}
		rt.opts.AsRun.Record(row)
		return nil
	}
}
