// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// Feed is the in-process playout event bus. The engine publishes
// lifecycle callbacks into it from the tick thread; the router fans
// them out to the websocket hub, the as-run log and the optional NATS
// export.
//
// Publishing never blocks: callbacks stage messages on a buffered
// channel and the pump goroutine moves them into the pub/sub. When the
// buffer is full the message is dropped and counted, because a stalled
// consumer must never stretch a frame.
type Feed struct {
	pubsub *gochannel.GoChannel
	out    chan staged
	log    zerolog.Logger
}

type staged struct {
	topic string
	msg   *message.Message
}

// NewFeed builds the feed sized by the configured buffer.
func NewFeed(cfg config.FeedConfig) *Feed {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(buffer),
	}, watermillLogger())

	return &Feed{
		pubsub: ps,
		out:    make(chan staged, buffer),
		log:    logging.With().Str("component", "feed").Logger(),
	}
}

// Subscriber exposes the feed for router handlers. Messages published
// while no subscription exists are discarded, which is the right shape
// for a live feed.
func (f *Feed) Subscriber() message.Subscriber { return f.pubsub }

// Close tears the pub/sub down. Call after the supervision tree has
// stopped.
func (f *Feed) Close() error { return f.pubsub.Close() }

func (f *Feed) String() string { return "feed" }

// Serve pumps staged messages into the pub/sub until the context is
// cancelled.
func (f *Feed) Serve(ctx context.Context) error {
	f.log.Info().Msg("Feed pump started")
	for {
		select {
		case <-ctx.Done():
			f.log.Info().Msg("Feed pump stopped")
			return ctx.Err()
		case s := <-f.out:
			if err := f.pubsub.Publish(s.topic, s.msg); err != nil {
				metrics.FeedPublishErrors.Inc()
				f.log.Error().Err(err).Str("topic", s.topic).Msg("Feed publish failed")
				continue
			}
			metrics.FeedMessages.WithLabelValues(s.topic).Inc()
		}
	}
}

func (f *Feed) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.FeedPublishErrors.Inc()
		f.log.Error().Err(err).Str("topic", topic).Msg("Feed marshal failed")
		return
	}
	select {
	case f.out <- staged{topic: topic, msg: message.NewMessage(uuid.NewString(), data)}:
	default:
		metrics.FeedPublishErrors.Inc()
		f.log.Warn().Str("topic", topic).Msg("Feed buffer full, message dropped")
	}
}

// PlayBegin implements engine.Publisher.
func (f *Feed) PlayBegin(channel string, ev playlist.Event, endsAt int64) {
	f.publish(TopicPlayBegin, PlayMessage{
		Channel: channel,
		Event:   infoFor(ev),
		EndsAt:  endsAt,
		At:      time.Now().UTC(),
	})
}

// PlayEnd implements engine.Publisher.
func (f *Feed) PlayEnd(channel string, ev playlist.Event) {
	f.publish(TopicPlayEnd, PlayMessage{
		Channel: channel,
		Event:   infoFor(ev),
		At:      time.Now().UTC(),
	})
}

// PlaySkip implements engine.Publisher.
func (f *Feed) PlaySkip(channel string, ev playlist.Event, hold int) {
	f.publish(TopicPlaySkip, PlayMessage{
		Channel: channel,
		Event:   infoFor(ev),
		Hold:    hold,
		At:      time.Now().UTC(),
	})
}

// ScheduleChanged implements engine.Publisher.
func (f *Feed) ScheduleChanged(channel string, revision int64) {
	f.publish(TopicScheduleChanged, ScheduleMessage{
		Channel:  channel,
		Revision: revision,
		At:       time.Now().UTC(),
	})
}

// DeviceStatus implements engine.Publisher.
func (f *Feed) DeviceStatus(name, family, kind, status string) {
	f.publish(TopicDeviceStatus, StatusMessage{
		Device: name,
		Family: family,
		Kind:   kind,
		Status: status,
		At:     time.Now().UTC(),
	})
}

// watermillLogger routes watermill's internal logging through the
// global zerolog logger via its slog bridge.
func watermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}
