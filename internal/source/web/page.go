// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package web

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
	"github.com/tomtom215/tarantula/internal/source"
)

// pageView collects the fan-out snapshots for one schedule page. The
// report methods fill it on the tick thread; the handler goroutine
// reads it only after its waiter closes, so the done channel is the
// memory barrier and no lock is needed.
type pageView struct {
	sections   map[string][]playlist.Event
	devices    []mousecatcher.DeviceSnapshot
	actions    map[string][]device.Action
	processors []string
}

// filesView receives one catalogue snapshot, already encoded.
type filesView struct {
	doc []byte
	err error
}

// ReportPlaylist files one channel's rows into the requesting page.
func (s *Server) ReportPlaylist(corr any, channel string, events []playlist.Event) {
	if pv, ok := corr.(*pageView); ok {
		pv.sections[channel] = events
	}
}

// ReportDevices files the device table into the requesting page.
func (s *Server) ReportDevices(corr any, devices []mousecatcher.DeviceSnapshot) {
	if pv, ok := corr.(*pageView); ok {
		pv.devices = devices
	}
}

// ReportActions files the command tables into the requesting page.
func (s *Server) ReportActions(corr any, tables map[string][]device.Action) {
	if pv, ok := corr.(*pageView); ok {
		pv.actions = tables
	}
}

// ReportProcessors files the processor list into the requesting page.
func (s *Server) ReportProcessors(corr any, names []string) {
	if pv, ok := corr.(*pageView); ok {
		pv.processors = names
	}
}

// ReportFiles answers a catalogue request with the encoded document.
func (s *Server) ReportFiles(corr any, deviceName string, files map[string]device.FileInfo) {
	if fv, ok := corr.(*filesView); ok {
		fv.doc, fv.err = source.EncodeFiles(deviceName, files)
	}
}

// pageData is the template input.
type pageData struct {
	Title      string
	Date       string
	Prev       string
	Next       string
	Generated  string
	Devices    []mousecatcher.DeviceSnapshot
	Channels   []channelTable
	Processors []string
}

type channelTable struct {
	Name string
	Rows []eventRow
}

type eventRow struct {
	ID             int
	Time           string
	Type           string
	Device         string
	Action         string
	Description    string
	Duration       string
	DurationFrames int
	State          string
	Child          bool
	Triggerable    bool
}

// handlePage renders the schedule for one day. It fans out one
// playlist snapshot per channel plus the devices, actions and
// processors tables, and waits for the whole batch.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	day, err := pageDay(r)
	if err != nil {
		http.Error(w, "400 BAD DATE", http.StatusBadRequest)
		return
	}
	dayStart := day.Unix()
	dayEnd := day.AddDate(0, 0, 1).Unix()

	view := &pageView{sections: make(map[string][]playlist.Event, len(s.channels))}
	actions := make([]*mousecatcher.EventAction, 0, len(s.channels)+3)
	for _, ch := range s.channels {
		actions = append(actions, &mousecatcher.EventAction{
			ID: uuid.New(), Kind: mousecatcher.KindUpdatePlaylist,
			Channel: ch, Source: s, Corr: view,
		})
	}
	for _, kind := range []mousecatcher.Kind{
		mousecatcher.KindUpdateDevices,
		mousecatcher.KindUpdateActions,
		mousecatcher.KindUpdateProcessors,
	} {
		actions = append(actions, &mousecatcher.EventAction{
			ID: uuid.New(), Kind: kind, Source: s, Corr: view,
		})
	}

	wt := &waiter{actions: actions, done: make(chan struct{})}
	if err := s.await(wt); err != nil {
		s.replyWaitError(w, err)
		return
	}

	data := pageData{
		Title:      "Tarantula",
		Date:       day.Format("Monday 2 January 2006"),
		Prev:       day.AddDate(0, 0, -1).Format("20060102"),
		Next:       day.AddDate(0, 0, 1).Format("20060102"),
		Generated:  time.Now().Format("15:04:05"),
		Devices:    view.devices,
		Processors: view.processors,
	}
	for _, name := range s.channels {
		data.Channels = append(data.Channels, channelTable{
			Name: name,
			Rows: s.renderRows(view, name, dayStart, dayEnd),
		})
	}

	w.Header().Set("Content-Type", "application/xhtml+xml; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "schedule.html", data); err != nil {
		s.log.Error().Err(err).Msg("Schedule page render failed")
	}
}

func (s *Server) renderRows(view *pageView, channel string, dayStart, dayEnd int64) []eventRow {
	events := view.sections[channel]
	rows := make([]playlist.Event, 0, len(events))
	for _, ev := range events {
		if ev.Trigger >= dayStart && ev.Trigger < dayEnd {
			rows = append(rows, ev)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Trigger != rows[j].Trigger {
			return rows[i].Trigger < rows[j].Trigger
		}
		return rows[i].ID < rows[j].ID
	})

	out := make([]eventRow, 0, len(rows))
	for _, ev := range rows {
		out = append(out, eventRow{
			ID:             ev.ID,
			Time:           renderClock(ev.Trigger),
			Type:           ev.Type.String(),
			Device:         ev.Device,
			Action:         actionName(view.actions, ev),
			Description:    ev.Description,
			Duration:       s.renderSeconds(ev.Duration),
			DurationFrames: ev.Duration,
			State:          stateLabel(ev.Processed),
			Child:          ev.Parent != 0,
			Triggerable:    ev.Type == playlist.Manual && ev.Processed == playlist.StatePending,
		})
	}
	return out
}

// actionName resolves a row's action id against the family command
// table. Placeholder rows have no action.
func actionName(tables map[string][]device.Action, ev playlist.Event) string {
	if ev.Target == playlist.TargetProcessor {
		return ""
	}
	for _, a := range tables[ev.Target.String()] {
		if a.ID == ev.Action {
			return a.Name
		}
	}
	return "unknown"
}

func stateLabel(st playlist.State) string {
	switch st {
	case playlist.StateDone:
		return "done"
	case playlist.StatePending:
		return "pending"
	default:
		return "erased"
	}
}

// pageDay resolves the requested day, defaulting to today.
func pageDay(r *http.Request) (time.Time, error) {
	seg := chi.URLParam(r, "date")
	if seg == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}
	return time.ParseInLocation("20060102", seg, time.Local)
}
