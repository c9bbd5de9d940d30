// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package mousecatcher

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// Kind classifies a mutation request.
type Kind int

const (
	KindAdd Kind = iota
	KindRemove
	KindEdit
	KindTrigger
	KindUpdatePlaylist
	KindUpdateDevices
	KindUpdateActions
	KindUpdateProcessors
	KindUpdateFiles
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindEdit:
		return "edit"
	case KindTrigger:
		return "trigger"
	case KindUpdatePlaylist:
		return "update-playlist"
	case KindUpdateDevices:
		return "update-devices"
	case KindUpdateActions:
		return "update-actions"
	case KindUpdateProcessors:
		return "update-processors"
	case KindUpdateFiles:
		return "update-files"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsUpdate reports whether the kind is a snapshot request rather than
// a mutation. Update actions answer through a report method instead of
// a status reply.
func (k Kind) IsUpdate() bool {
	switch k {
	case KindUpdatePlaylist, KindUpdateDevices, KindUpdateActions,
		KindUpdateProcessors, KindUpdateFiles:
		return true
	default:
		return false
	}
}

// ParseKind maps a wire action type to a Kind, case-insensitively.
// Both the dashed spelling and the bare CamelCase wire form are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "add":
		return KindAdd, nil
	case "remove":
		return KindRemove, nil
	case "edit":
		return KindEdit, nil
	case "trigger":
		return KindTrigger, nil
	case "updateplaylist":
		return KindUpdatePlaylist, nil
	case "updatedevices":
		return KindUpdateDevices, nil
	case "updateactions":
		return KindUpdateActions, nil
	case "updateprocessors":
		return KindUpdateProcessors, nil
	case "updatefiles":
		return KindUpdateFiles, nil
	default:
		return 0, fmt.Errorf("unknown action type %q", s)
	}
}

// Event is the wire-level event shape. Triggers and durations are in
// seconds here; the pipeline converts durations to frames when it
// translates the tree into playlist rows.
//
// A top-level event's Trigger is absolute unix seconds. A child's
// Trigger is an offset in seconds from its parent's start; the pipeline
// resolves it against the parent's absolute trigger at add time.
type Event struct {
	Type         playlist.EventType
	Trigger      int64
	Device       string
	Action       int
	Duration     float64
	Description  string
	PreProcessor string
	Extra        map[string]string
	Channel      string
	Children     []*Event
}

// ExtraValue returns the extra-data value for key. Safe on a nil map.
func (e *Event) ExtraValue(key string) (string, bool) {
	if e.Extra == nil {
		return "", false
	}
	v, ok := e.Extra[key]
	return v, ok
}

// SetExtra sets one extra-data pair, allocating the map on first use.
func (e *Event) SetExtra(key, value string) {
	if e.Extra == nil {
		e.Extra = make(map[string]string)
	}
	e.Extra[key] = value
}

// EventAction is one mutation request travelling from a source adapter
// through the action queue to the pipeline. The originating source keeps
// its own pointer; once Done is set the pipeline never touches the
// action again, so the source may read Return and free it.
type EventAction struct {
	// ID correlates log lines and replies across the round trip.
	ID uuid.UUID

	Kind    Kind
	Channel string

	// Event carries the payload tree for add and edit.
	Event *Event

	// EventID names the target row for remove, edit and trigger.
	EventID int

	// Device names the catalogue owner for update-files.
	Device string

	// Source is the originating adapter, nil for internal submissions.
	// Corr is the source's opaque routing payload, handed back verbatim
	// on every report call.
	Source Source
	Corr   any

	// Done flips once the pipeline has finished with the action. Return
	// is empty on success, otherwise a human-readable error.
	Done   bool
	Return string
}

// DeviceSnapshot is the value copy of a device handed to report calls.
// Sources render it after the engine mutex is released, so no live
// device state may leak through here.
type DeviceSnapshot struct {
	Name   string `json:"name"`
	Family string `json:"family"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// Source is the report surface of a source adapter. The pipeline calls
// exactly one report method per update action, on the tick thread,
// passing back the action's correlation payload. Implementations must
// copy what they need and return without blocking.
type Source interface {
	ReportPlaylist(corr any, channel string, events []playlist.Event)
	ReportDevices(corr any, devices []DeviceSnapshot)
	ReportActions(corr any, tables map[string][]device.Action)
	ReportProcessors(corr any, names []string)
	ReportFiles(corr any, device string, files map[string]device.FileInfo)
}

// Processor expands one wire event into a tree of concrete device
// events. Handle fills result (type, device, trigger, duration,
// children) from input; it must not touch the playlist itself. The
// pipeline adds the result in the input's place and recurses into its
// children, so a processor can emit further processor invocations.
type Processor interface {
	Handle(input, result *Event) error
}
