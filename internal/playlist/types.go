// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package playlist

import (
	"fmt"
	"strings"
)

// EventType classifies how an event is scheduled.
type EventType int

const (
	// Fixed events run when the wall clock reaches their trigger.
	Fixed EventType = iota

	// Child events derive their timing from a parent and are gated by it.
	Child

	// Manual events hold all non-descendant execution until released.
	Manual
)

// String returns the wire spelling of the event type.
func (t EventType) String() string {
	switch t {
	case Fixed:
		return "fixed"
	case Child:
		return "child"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("eventtype(%d)", int(t))
	}
}

// ParseEventType parses a wire spelling, case-insensitively.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(s) {
	case "fixed":
		return Fixed, nil
	case "child":
		return Child, nil
	case "manual":
		return Manual, nil
	default:
		return 0, fmt.Errorf("unknown event type %q", s)
	}
}

// TargetKind names the device family an event targets. Processor is the
// placeholder kind for events consumed by an event processor rather than
// dispatched to hardware.
type TargetKind int

const (
	TargetVideo TargetKind = iota
	TargetGraphics
	TargetCrosspoint
	TargetProcessor
)

// String returns the wire spelling of the target kind.
func (k TargetKind) String() string {
	switch k {
	case TargetVideo:
		return "video"
	case TargetGraphics:
		return "graphics"
	case TargetCrosspoint:
		return "crosspoint"
	case TargetProcessor:
		return "processor"
	default:
		return fmt.Sprintf("targetkind(%d)", int(k))
	}
}

// ParseTargetKind parses a wire spelling, case-insensitively.
func ParseTargetKind(s string) (TargetKind, error) {
	switch strings.ToLower(s) {
	case "video":
		return TargetVideo, nil
	case "graphics", "cg":
		return TargetGraphics, nil
	case "crosspoint", "router":
		return TargetCrosspoint, nil
	case "processor":
		return TargetProcessor, nil
	default:
		return 0, fmt.Errorf("unknown target kind %q", s)
	}
}

// State is the lifecycle marker of a playlist row.
type State int

const (
	// StateErased marks a removed row awaiting garbage collection.
	StateErased State = -1

	// StatePending marks a row that has not run yet.
	StatePending State = 0

	// StateDone marks a dispatched row.
	StateDone State = 1
)

// Event is one playlist row.
//
// Triggers are unix seconds for every type; a Child row's trigger is
// computed from its parent when the row is added. Durations are whole
// frames at the channel's frame rate. Seconds appear only at the wire
// boundary.
type Event struct {
	ID           int               `json:"id"`
	Type         EventType         `json:"type"`
	Trigger      int64             `json:"trigger"`
	Device       string            `json:"device"`
	Target       TargetKind        `json:"target"`
	Action       int               `json:"action"`
	Duration     int               `json:"duration"`
	Parent       int               `json:"parent"`
	Description  string            `json:"description"`
	PreProcessor string            `json:"preprocessor,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	Processed    State             `json:"processed"`
	LastUpdate   int64             `json:"lastupdate"`
}

// Clone returns a deep copy; the extra-data map is never shared.
func (e Event) Clone() Event {
	out := e
	if e.Extra != nil {
		out.Extra = make(map[string]string, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ExtraValue returns the extra-data value for key, with ok reporting
// presence. Safe on a nil map.
func (e Event) ExtraValue(key string) (string, bool) {
	if e.Extra == nil {
		return "", false
	}
	v, ok := e.Extra[key]
	return v, ok
}
