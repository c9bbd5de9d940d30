// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package engine

import (
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// HoldReleaseName is the registered name of the built-in pre-processor
// that re-times the day when a manual hold is released.
const HoldReleaseName = "manual-hold-release"

// holdRelease runs when a held manual event carrying a switch-channel
// is triggered. It erases the hold's remaining children, shunts the
// timeline by the distance between the scheduled end and the actual
// release, and inserts the router cut that puts the live feed to air
// on the next second. This is the only writer into the playlist
// outside the action pipeline and job completions.
func (e *Engine) holdRelease(row *playlist.Event, ch *Channel, now int64) {
	feed, ok := row.ExtraValue(device.KeySwitchChannel)
	if !ok || feed == "" {
		return
	}
	st := ch.store

	erased := 0
	for _, child := range st.Children(row.ID) {
		if child.Processed != playlist.StatePending {
			continue
		}
		if err := st.Remove(child.ID, now); err == nil {
			erased++
		}
	}

	scheduledEnd := st.Rate().EndTime(row.Trigger, row.Duration)
	delta := now - scheduledEnd
	moved := 0
	if delta != 0 {
		moved = st.Shunt(scheduledEnd, delta)
	}

	if ch.cfg.Router == "" || ch.cfg.RouterPort == "" {
		ch.log.Warn().Str("feed", feed).Msg("Hold released on a channel without a router, no cut inserted")
	} else {
		// The current second has already been evaluated; the cut fires
		// on the next one.
		_, err := st.Add(playlist.Event{
			Type:        playlist.Child,
			Trigger:     now + 1,
			Device:      ch.cfg.Router,
			Target:      playlist.TargetCrosspoint,
			Action:      device.ActionCrosspointSwitch,
			Parent:      row.Parent,
			Description: "live cut: " + feed,
			Extra: map[string]string{
				device.KeyOutput: ch.cfg.RouterPort,
				device.KeyInput:  feed,
			},
		}, now)
		if err != nil {
			ch.log.Error().Err(err).Str("feed", feed).Msg("Router cut insert failed")
		}
	}

	ch.log.Info().
		Int("event", row.ID).
		Str("feed", feed).
		Int("erased", erased).
		Int("moved", moved).
		Int64("delta", delta).
		Msg("Manual hold released")
}
