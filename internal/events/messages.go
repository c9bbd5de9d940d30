// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package events

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tarantula/internal/playlist"
)

// Feed topics. Subscribers pick the slice of the playout they care
// about; Topics returns all of them for fan-out consumers.
const (
	TopicPlayBegin       = "playout.begin"
	TopicPlayEnd         = "playout.end"
	TopicPlaySkip        = "playout.skip"
	TopicScheduleChanged = "schedule.changed"
	TopicDeviceStatus    = "device.status"
)

// Topics returns every feed topic.
func Topics() []string {
	return []string{
		TopicPlayBegin,
		TopicPlayEnd,
		TopicPlaySkip,
		TopicScheduleChanged,
		TopicDeviceStatus,
	}
}

// EventInfo is the wire form of a playlist row inside feed messages.
type EventInfo struct {
	ID             int    `json:"id"`
	Parent         int    `json:"parent,omitempty"`
	Type           string `json:"type"`
	Trigger        int64  `json:"trigger"`
	Device         string `json:"device"`
	Family         string `json:"family"`
	Action         int    `json:"action"`
	DurationFrames int    `json:"duration_frames,omitempty"`
	Description    string `json:"description,omitempty"`
}

func infoFor(ev playlist.Event) EventInfo {
	return EventInfo{
		ID:             ev.ID,
		Parent:         ev.Parent,
		Type:           ev.Type.String(),
		Trigger:        ev.Trigger,
		Device:         ev.Device,
		Family:         ev.Target.String(),
		Action:         ev.Action,
		DurationFrames: ev.Duration,
		Description:    ev.Description,
	}
}

// PlayMessage rides the three playout.* topics. EndsAt is set on begin
// messages for events with a duration; Hold is set on skip messages to
// name the gate that parked the row.
type PlayMessage struct {
	Channel string    `json:"channel"`
	Event   EventInfo `json:"event"`
	EndsAt  int64     `json:"ends_at,omitempty"`
	Hold    int       `json:"hold,omitempty"`
	At      time.Time `json:"at"`
}

// ScheduleMessage announces that a channel's playlist revision moved.
type ScheduleMessage struct {
	Channel  string    `json:"channel"`
	Revision int64     `json:"revision"`
	At       time.Time `json:"at"`
}

// StatusMessage announces a device status transition.
type StatusMessage struct {
	Device string    `json:"device"`
	Family string    `json:"family"`
	Kind   string    `json:"kind"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Frame is the envelope pushed to websocket clients: the topic plus the
// raw feed payload.
type Frame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}
