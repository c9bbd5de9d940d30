// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package engine

import (
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/metrics"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// Channel is one playout channel's runner state: the playlist store plus
// the evaluation cursor. The engine evaluates every channel once per
// wall-clock second, catching up on seconds missed by skipped ticks.
type Channel struct {
	name  string
	cfg   config.ChannelConfig
	store *playlist.Store
	log   zerolog.Logger

	lastEval     int64
	lastRevision int64
	endings      []ending
}

// ending is a dispatched row whose play-end callback is still owed.
type ending struct {
	at int64
	id int
}

func (c *Channel) Name() string                 { return c.name }
func (c *Channel) Store() *playlist.Store       { return c.store }
func (c *Channel) Config() config.ChannelConfig { return c.cfg }

// runChannel advances the channel's evaluation cursor to now.
func (e *Engine) runChannel(ch *Channel, nowSec int64) {
	if ch.lastEval == 0 {
		ch.lastEval = nowSec - 1
	}
	if gap := nowSec - ch.lastEval; gap > 2 {
		ch.log.Warn().Int64("seconds", gap).Msg("Catching up after stall")
	}
	for sec := ch.lastEval + 1; sec <= nowSec; sec++ {
		e.evaluate(ch, sec)
	}
	ch.lastEval = nowSec
}

// evaluate runs one second of the channel: refresh the hold, collect
// due events of every type, gate them, dispatch, and fire owed
// play-end callbacks.
func (e *Engine) evaluate(ch *Channel, sec int64) {
	st := ch.store
	hold := st.ActiveHold(sec)

	due := st.Events(playlist.Fixed, sec)
	due = append(due, st.Events(playlist.Manual, sec)...)
	due = append(due, st.Events(playlist.Child, sec)...)

	for i := range due {
		row := &due[i]
		if hold != 0 && row.Parent != hold {
			ch.log.Info().
				Int("event", row.ID).
				Int("hold", hold).
				Str("description", row.Description).
				Msg("Event held")
			metrics.RecordSkip(ch.name, "hold")
			if e.feed != nil {
				e.feed.PlaySkip(ch.name, *row, hold)
			}
			continue
		}
		e.runEvent(ch, row, sec)
	}

	e.fireEndings(ch, sec)
}

// runEvent dispatches one due row: pre-processor, placeholder short
// circuit, device lookup, driver dispatch. The row is marked processed
// whatever happens so one bad row cannot stall the channel.
func (e *Engine) runEvent(ch *Channel, row *playlist.Event, sec int64) {
	st := ch.store
	defer func() {
		if r := recover(); r != nil {
			ch.log.Error().Any("panic", r).Int("event", row.ID).Msg("Event dispatch panicked")
			_ = st.Process(row.ID, sec)
		}
	}()

	if row.PreProcessor != "" {
		if pp, ok := e.preprocs[row.PreProcessor]; ok {
			pp(row, ch, sec)
		} else {
			ch.log.Warn().
				Str("preprocessor", row.PreProcessor).
				Int("event", row.ID).
				Msg("Event names an unknown pre-processor")
		}
	}

	// Placeholder parents were expanded at add time; nothing dispatches.
	if row.Target == playlist.TargetProcessor {
		_ = st.Process(row.ID, sec)
		return
	}

	dev, ok := e.plugins.Device(row.Device)
	if !ok {
		ch.log.Error().Str("device", row.Device).Int("event", row.ID).Msg("Event names no loaded device")
		metrics.RecordSkip(ch.name, "no-device")
		_ = st.Process(row.ID, sec)
		return
	}

	err := dev.RunEvent(row)
	_ = st.Process(row.ID, sec)
	if err != nil {
		ch.log.Error().Err(err).Int("event", row.ID).Msg("Event dispatch failed")
		metrics.RecordSkip(ch.name, "dispatch-error")
		return
	}

	metrics.RecordDispatch(ch.name, dev.Family().String(), dev.Name())
	endsAt := st.Rate().EndTime(row.Trigger, row.Duration)
	if e.feed != nil {
		e.feed.PlayBegin(ch.name, *row, endsAt)
	}
	if row.Duration > 0 {
		ch.endings = append(ch.endings, ending{at: endsAt, id: row.ID})
	}
}

// fireEndings publishes play-end for dispatched rows whose end has
// arrived. Rows erased since dispatch are dropped silently.
func (e *Engine) fireEndings(ch *Channel, sec int64) {
	if len(ch.endings) == 0 {
		return
	}
	keep := ch.endings[:0]
	for _, en := range ch.endings {
		if en.at > sec {
			keep = append(keep, en)
			continue
		}
		row, err := ch.store.Get(en.id)
		if err != nil || row.Processed != playlist.StateDone {
			continue
		}
		if e.feed != nil {
			e.feed.PlayEnd(ch.name, row)
		}
	}
	ch.endings = keep
}
