// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package source

import (
	"encoding/xml"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// Decode failure classes. The TCP adapter maps these onto its 400
// reply vocabulary; the web adapter maps them onto status codes.
var (
	// ErrBadData marks a document that does not parse at all.
	ErrBadData = errors.New("malformed document")

	// ErrNoAction marks a request without an ActionType element.
	ErrNoAction = errors.New("missing action type")

	// ErrBadAction marks an ActionType outside the protocol vocabulary.
	ErrBadAction = errors.New("unknown action type")

	// ErrNoData marks a mutation request missing its required payload.
	ErrNoData = errors.New("missing request data")
)

// ExtraData is one wire extra-data pair.
type ExtraData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

// WireEvent is the XML event shape. Children nest as further MCEvent
// elements; their triggers are second offsets from this event.
type WireEvent struct {
	XMLName      xml.Name    `xml:"MCEvent"`
	Type         int         `xml:"Type"`
	Trigger      int64       `xml:"Trigger"`
	Device       string      `xml:"Device"`
	Action       int         `xml:"Action"`
	Duration     float64     `xml:"Duration"`
	Description  string      `xml:"Description,omitempty"`
	PreProcessor string      `xml:"PreProcessor,omitempty"`
	Extra        []ExtraData `xml:"ExtraData"`
	Children     []WireEvent `xml:"MCEvent"`
}

// Request is the root document for every inbound command.
type Request struct {
	XMLName    xml.Name   `xml:"Request"`
	ActionType string     `xml:"ActionType"`
	Channel    string     `xml:"Channel"`
	EventID    int        `xml:"EventID"`
	Device     string     `xml:"Device"`
	Event      *WireEvent `xml:"MCEvent"`
}

// DecodeRequest parses one request document into a pipeline action.
// The action carries a fresh correlation id; the caller stamps Source
// and Corr before queueing it.
func DecodeRequest(data []byte) (*mousecatcher.EventAction, error) {
	var req Request
	if err := xml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadData, err)
	}
	if req.ActionType == "" {
		return nil, ErrNoAction
	}
	kind, err := mousecatcher.ParseKind(req.ActionType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadAction, req.ActionType)
	}

	a := &mousecatcher.EventAction{
		ID:      uuid.New(),
		Kind:    kind,
		Channel: req.Channel,
		EventID: req.EventID,
		Device:  req.Device,
	}

	switch kind {
	case mousecatcher.KindAdd, mousecatcher.KindEdit:
		if req.Event == nil {
			return nil, fmt.Errorf("%w: %s needs an MCEvent", ErrNoData, kind)
		}
		ev, err := wireToEvent(req.Event)
		if err != nil {
			return nil, err
		}
		a.Event = ev
	case mousecatcher.KindRemove, mousecatcher.KindTrigger:
		if req.EventID <= 0 {
			return nil, fmt.Errorf("%w: %s needs an EventID", ErrNoData, kind)
		}
	case mousecatcher.KindUpdateFiles:
		if req.Device == "" {
			return nil, fmt.Errorf("%w: update-files needs a Device", ErrNoData)
		}
	}
	return a, nil
}

// DecodeEvent parses one bare MCEvent document, the shape the web
// adapter accepts as an add payload.
func DecodeEvent(data []byte) (*mousecatcher.Event, error) {
	var w WireEvent
	if err := xml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadData, err)
	}
	return wireToEvent(&w)
}

func wireToEvent(w *WireEvent) (*mousecatcher.Event, error) {
	if w.Type < int(playlist.Fixed) || w.Type > int(playlist.Manual) {
		return nil, fmt.Errorf("%w: event type %d", ErrBadData, w.Type)
	}
	if w.Device == "" {
		return nil, fmt.Errorf("%w: event without a device", ErrNoData)
	}
	ev := &mousecatcher.Event{
		Type:         playlist.EventType(w.Type),
		Trigger:      w.Trigger,
		Device:       w.Device,
		Action:       w.Action,
		Duration:     w.Duration,
		Description:  w.Description,
		PreProcessor: w.PreProcessor,
	}
	for _, x := range w.Extra {
		ev.SetExtra(x.Key, x.Value)
	}
	for i := range w.Children {
		child, err := wireToEvent(&w.Children[i])
		if err != nil {
			return nil, err
		}
		ev.Children = append(ev.Children, child)
	}
	return ev, nil
}

// EventRow is one playlist row in a snapshot reply. Durations are
// frames here, mirroring the engine's own representation.
type EventRow struct {
	ID             int         `xml:"id,attr"`
	Parent         int         `xml:"parent,attr"`
	State          string      `xml:"state,attr"`
	Type           string      `xml:"Type"`
	Trigger        int64       `xml:"Trigger"`
	Device         string      `xml:"Device"`
	Action         int         `xml:"Action"`
	DurationFrames int         `xml:"DurationFrames"`
	Description    string      `xml:"Description,omitempty"`
	PreProcessor   string      `xml:"PreProcessor,omitempty"`
	Extra          []ExtraData `xml:"ExtraData"`
}

// PlaylistDoc is the UpdatePlaylist reply.
type PlaylistDoc struct {
	XMLName xml.Name   `xml:"Playlist"`
	Channel string     `xml:"channel,attr"`
	Events  []EventRow `xml:"Event"`
}

func stateName(s playlist.State) string {
	switch s {
	case playlist.StatePending:
		return "pending"
	case playlist.StateDone:
		return "done"
	default:
		return "erased"
	}
}

// EventToRow converts one playlist row to its snapshot shape, with
// extra data sorted by key.
func EventToRow(ev playlist.Event) EventRow {
	row := EventRow{
		ID:             ev.ID,
		Parent:         ev.Parent,
		State:          stateName(ev.Processed),
		Type:           ev.Type.String(),
		Trigger:        ev.Trigger,
		Device:         ev.Device,
		Action:         ev.Action,
		DurationFrames: ev.Duration,
		Description:    ev.Description,
		PreProcessor:   ev.PreProcessor,
	}
	keys := make([]string, 0, len(ev.Extra))
	for k := range ev.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row.Extra = append(row.Extra, ExtraData{Key: k, Value: ev.Extra[k]})
	}
	return row
}

// EncodePlaylist renders the UpdatePlaylist reply document.
func EncodePlaylist(channel string, events []playlist.Event) ([]byte, error) {
	doc := PlaylistDoc{Channel: channel}
	for _, ev := range events {
		doc.Events = append(doc.Events, EventToRow(ev))
	}
	return xml.Marshal(doc)
}

// DeviceRow is one device in the Devices reply.
type DeviceRow struct {
	Name   string `xml:"name,attr"`
	Family string `xml:"family,attr"`
	Kind   string `xml:"kind,attr"`
	Status string `xml:"status,attr"`
}

// DevicesDoc is the UpdateDevices reply.
type DevicesDoc struct {
	XMLName xml.Name    `xml:"Devices"`
	Devices []DeviceRow `xml:"Device"`
}

// EncodeDevices renders the UpdateDevices reply document.
func EncodeDevices(devs []mousecatcher.DeviceSnapshot) ([]byte, error) {
	doc := DevicesDoc{}
	for _, d := range devs {
		doc.Devices = append(doc.Devices, DeviceRow{
			Name: d.Name, Family: d.Family, Kind: d.Kind, Status: d.Status,
		})
	}
	return xml.Marshal(doc)
}

// ParamRow is one action parameter in the Actions reply.
type ParamRow struct {
	Key  string `xml:"key,attr"`
	Type string `xml:"type,attr"`
}

// ActionRow is one command table entry.
type ActionRow struct {
	ID     int        `xml:"id,attr"`
	Name   string     `xml:"name,attr"`
	Params []ParamRow `xml:"Param"`
}

// FamilyActions is one family's command table.
type FamilyActions struct {
	Name    string      `xml:"name,attr"`
	Actions []ActionRow `xml:"Action"`
}

// ActionsDoc is the UpdateActions reply.
type ActionsDoc struct {
	XMLName  xml.Name        `xml:"Actions"`
	Families []FamilyActions `xml:"Family"`
}

// EncodeActions renders the UpdateActions reply document. Families and
// parameters are sorted for stable output.
func EncodeActions(tables map[string][]device.Action) ([]byte, error) {
	families := make([]string, 0, len(tables))
	for name := range tables {
		families = append(families, name)
	}
	sort.Strings(families)

	doc := ActionsDoc{}
	for _, fam := range families {
		fa := FamilyActions{Name: fam}
		for _, act := range tables[fam] {
			row := ActionRow{ID: act.ID, Name: act.Name}
			params := make([]string, 0, len(act.Params))
			for k := range act.Params {
				params = append(params, k)
			}
			sort.Strings(params)
			for _, k := range params {
				row.Params = append(row.Params, ParamRow{Key: k, Type: act.Params[k]})
			}
			fa.Actions = append(fa.Actions, row)
		}
		doc.Families = append(doc.Families, fa)
	}
	return xml.Marshal(doc)
}

// ProcessorsDoc is the UpdateProcessors reply.
type ProcessorsDoc struct {
	XMLName xml.Name `xml:"Processors"`
	Names   []string `xml:"Processor"`
}

// EncodeProcessors renders the UpdateProcessors reply document.
func EncodeProcessors(names []string) ([]byte, error) {
	return xml.Marshal(ProcessorsDoc{Names: names})
}

// FileRow is one catalogue entry in the Files reply.
type FileRow struct {
	Name           string `xml:"name,attr"`
	DurationFrames int    `xml:"frames,attr"`
	Size           int64  `xml:"size,attr"`
}

// FilesDoc is the UpdateFiles reply.
type FilesDoc struct {
	XMLName xml.Name  `xml:"Files"`
	Device  string    `xml:"device,attr"`
	Files   []FileRow `xml:"File"`
}

// EncodeFiles renders the UpdateFiles reply document, sorted by name.
func EncodeFiles(deviceName string, files map[string]device.FileInfo) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := FilesDoc{Device: deviceName}
	for _, name := range names {
		fi := files[name]
		doc.Files = append(doc.Files, FileRow{
			Name: name, DurationFrames: fi.DurationFrames, Size: fi.Size,
		})
	}
	return xml.Marshal(doc)
}
