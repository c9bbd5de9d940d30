// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

// Video actions.
const (
	ActionVideoPlay = iota
	ActionVideoLoad
	ActionVideoPlayLoaded
	ActionVideoStop
)

// Graphics actions.
const (
	ActionGraphicsAdd = iota
	ActionGraphicsUpdate
	ActionGraphicsPlay
	ActionGraphicsRemove
)

// Crosspoint actions.
const (
	ActionCrosspointSwitch = iota
)

// Reserved extra-data keys. The graphics dispatcher strips these from
// the payload before it reaches the template.
const (
	KeyFilename      = "filename"
	KeyGraphicName   = "graphicname"
	KeyHostLayer     = "hostlayer"
	KeyLayerAlias    = "layer"
	KeyOutput        = "output"
	KeyInput         = "input"
	KeySwitchChannel = "switchchannel"
)

// Action describes one entry of a family's command table. Params maps
// extra-data keys to type names, for the action snapshots served to
// operator clients.
type Action struct {
	ID     int               `json:"id"`
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

var videoActions = []Action{
	{ID: ActionVideoPlay, Name: "play", Params: map[string]string{KeyFilename: "string"}},
	{ID: ActionVideoLoad, Name: "load", Params: map[string]string{KeyFilename: "string"}},
	{ID: ActionVideoPlayLoaded, Name: "play-loaded"},
	{ID: ActionVideoStop, Name: "stop"},
}

var graphicsActions = []Action{
	{ID: ActionGraphicsAdd, Name: "add", Params: map[string]string{
		KeyGraphicName: "string",
		KeyHostLayer:   "int",
	}},
	{ID: ActionGraphicsUpdate, Name: "update", Params: map[string]string{
		KeyHostLayer: "int",
	}},
	{ID: ActionGraphicsPlay, Name: "play", Params: map[string]string{
		KeyHostLayer: "int",
	}},
	{ID: ActionGraphicsRemove, Name: "remove", Params: map[string]string{
		KeyHostLayer: "int",
	}},
}

var crosspointActions = []Action{
	{ID: ActionCrosspointSwitch, Name: "switch", Params: map[string]string{
		KeyOutput: "string",
		KeyInput:  "string",
	}},
}

// Actions returns the command table for a family. Callers must not
// mutate the returned slice.
func Actions(f Family) []Action {
	switch f {
	case FamilyVideo:
		return videoActions
	case FamilyGraphics:
		return graphicsActions
	case FamilyCrosspoint:
		return crosspointActions
	default:
		return nil
	}
}

// ActionName resolves an action id within a family, for logs and the
// as-run record.
func ActionName(f Family, id int) string {
	for _, a := range Actions(f) {
		if a.ID == id {
			return a.Name
		}
	}
	return "unknown"
}
