// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package mousecatcher

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// Directory resolves names against the engine registries and runs
// immediate triggers. Every method is called on the tick thread under
// the engine mutex.
type Directory interface {
	Channel(name string) (*playlist.Store, bool)
	Channels() []*playlist.Store
	Device(name string) (*device.Device, bool)
	Devices() []*device.Device
	Processor(name string) (Processor, bool)
	Processors() []string

	// Trigger runs a pending manual event right now, bypassing the
	// hold gate.
	Trigger(channel string, id int) error
}

// Core drains the action queue and applies each mutation to the
// playlist stores. It runs entirely on the tick thread; the queue is
// the only concurrent edge.
type Core struct {
	queue *Queue
	dir   Directory
	log   zerolog.Logger
}

// NewCore returns a pipeline over its own fresh queue.
func NewCore(dir Directory) *Core {
	return &Core{
		queue: NewQueue(),
		dir:   dir,
		log:   logging.With().Str("component", "mousecatcher").Logger(),
	}
}

// Queue returns the shared action queue for source adapters.
func (c *Core) Queue() *Queue {
	return c.queue
}

// Tick drains the queue and processes every action, marking each done
// with its return message set. It reports the number of schedule
// mutations applied so the caller can publish a change notification.
func (c *Core) Tick(now int64) int {
	actions := c.queue.Drain()
	mutations := 0
	for _, a := range actions {
		if c.process(a, now) {
			mutations++
		}
		a.Done = true

		status := "complete"
		if a.Return != "" {
			status = "failed"
			c.log.Warn().
				Stringer("action", a.ID).
				Stringer("kind", a.Kind).
				Str("channel", a.Channel).
				Str("error", a.Return).
				Msg("Action failed")
		} else {
			c.log.Debug().
				Stringer("action", a.ID).
				Stringer("kind", a.Kind).
				Str("channel", a.Channel).
				Msg("Action processed")
		}
		metrics.ActionsProcessed.WithLabelValues(a.Kind.String(), status).Inc()
	}
	return mutations
}

// process applies one action. It reports whether the schedule changed.
// A processor panic must not take the tick thread down with it, so the
// action absorbs it as a failure.
func (c *Core) process(a *EventAction, now int64) (mutated bool) {
	defer func() {
		if r := recover(); r != nil {
			a.Return = fmt.Sprintf("internal error: %v", r)
			c.log.Error().
				Stringer("action", a.ID).
				Stringer("kind", a.Kind).
				Interface("panic", r).
				Msg("Action panicked")
		}
	}()

	switch a.Kind {
	case KindAdd:
		return c.processAdd(a, now)

	case KindRemove:
		st, ok := c.dir.Channel(a.Channel)
		if !ok {
			a.Return = fmt.Sprintf("unknown channel %q", a.Channel)
			return false
		}
		if err := st.Remove(a.EventID, now); err != nil {
			a.Return = err.Error()
			return false
		}
		return true

	case KindEdit:
		st, ok := c.dir.Channel(a.Channel)
		if !ok {
			a.Return = fmt.Sprintf("unknown channel %q", a.Channel)
			return false
		}
		if err := st.Remove(a.EventID, now); err != nil {
			a.Return = err.Error()
			return false
		}
		return c.processAdd(a, now)

	case KindTrigger:
		if err := c.dir.Trigger(a.Channel, a.EventID); err != nil {
			a.Return = err.Error()
			return false
		}
		return true

	case KindUpdatePlaylist, KindUpdateDevices, KindUpdateActions,
		KindUpdateProcessors, KindUpdateFiles:
		c.processUpdate(a)
		return false

	default:
		a.Return = fmt.Sprintf("unknown action kind %d", int(a.Kind))
		return false
	}
}

func (c *Core) processAdd(a *EventAction, now int64) bool {
	if a.Event == nil {
		a.Return = "no event payload"
		return false
	}
	channel := a.Channel
	if channel == "" {
		channel = a.Event.Channel
	}
	st, ok := c.dir.Channel(channel)
	if !ok {
		a.Return = fmt.Sprintf("unknown channel %q", channel)
		return false
	}
	return c.processEvent(st, a.Event, -1, 0, a, now) >= 0
}

// processEvent translates one wire event (and recursively its children)
// into playlist rows. lastID is the parent row for children, -1 at the
// top level; parentTrigger is the parent's absolute trigger, against
// which child offsets resolve. It returns the new row id, or -1 with
// the action's return message set.
func (c *Core) processEvent(st *playlist.Store, ev *Event, lastID int, parentTrigger int64, a *EventAction, now int64) int {
	ev.Channel = st.Channel()

	if proc, ok := c.dir.Processor(ev.Device); ok {
		result := &Event{}
		ev.Action = -1
		if err := proc.Handle(ev, result); err != nil {
			a.Return = fmt.Sprintf("processor %s: %v", ev.Device, err)
			return -1
		}
		result.Channel = ev.Channel
		ev = result
	}

	if ev.Type != playlist.Fixed && lastID < 0 {
		a.Return = fmt.Sprintf("%s event needs a parent", ev.Type)
		return -1
	}

	row := playlist.Event{
		Type:         ev.Type,
		Device:       ev.Device,
		Action:       ev.Action,
		Duration:     st.Rate().SecondsToFrames(ev.Duration),
		Description:  ev.Description,
		PreProcessor: ev.PreProcessor,
	}
	if len(ev.Extra) > 0 {
		row.Extra = make(map[string]string, len(ev.Extra))
		for k, v := range ev.Extra {
			row.Extra[k] = v
		}
	}

	// A processor result may keep the processor's name as its display
	// device; such rows become placeholders the runner skips over.
	if _, ok := c.dir.Processor(ev.Device); ok {
		row.Target = playlist.TargetProcessor
		row.Action = -1
	} else if dev, ok := c.dir.Device(ev.Device); ok {
		row.Target = dev.Family().Target()
	} else {
		a.Return = fmt.Sprintf("unknown target %q", ev.Device)
		return -1
	}

	if lastID < 0 {
		row.Trigger = ev.Trigger
		row.Parent = 0
	} else {
		row.Trigger = parentTrigger + ev.Trigger
		row.Parent = lastID
	}

	id, err := st.Add(row, now)
	if err != nil {
		a.Return = err.Error()
		return -1
	}

	for _, child := range ev.Children {
		if c.processEvent(st, child, id, row.Trigger, a, now) < 0 {
			return -1
		}
	}
	return id
}

// processUpdate gathers the requested snapshot under the engine mutex
// and hands it straight to the originating source's report method.
func (c *Core) processUpdate(a *EventAction) {
	if a.Source == nil {
		a.Return = "update action without a source"
		return
	}

	switch a.Kind {
	case KindUpdatePlaylist:
		st, ok := c.dir.Channel(a.Channel)
		if !ok {
			a.Return = fmt.Sprintf("unknown channel %q", a.Channel)
			return
		}
		a.Source.ReportPlaylist(a.Corr, a.Channel, st.All())

	case KindUpdateDevices:
		devs := c.dir.Devices()
		out := make([]DeviceSnapshot, 0, len(devs))
		for _, d := range devs {
			out = append(out, DeviceSnapshot{
				Name:   d.Name(),
				Family: d.Family().String(),
				Kind:   d.Kind(),
				Status: d.Status().String(),
			})
		}
		a.Source.ReportDevices(a.Corr, out)

	case KindUpdateActions:
		tables := map[string][]device.Action{
			device.FamilyVideo.String():      device.Actions(device.FamilyVideo),
			device.FamilyGraphics.String():   device.Actions(device.FamilyGraphics),
			device.FamilyCrosspoint.String(): device.Actions(device.FamilyCrosspoint),
		}
		a.Source.ReportActions(a.Corr, tables)

	case KindUpdateProcessors:
		a.Source.ReportProcessors(a.Corr, c.dir.Processors())

	case KindUpdateFiles:
		dev, ok := c.dir.Device(a.Device)
		if !ok {
			a.Return = fmt.Sprintf("unknown device %q", a.Device)
			return
		}
		v, ok := dev.Video()
		if !ok {
			a.Return = fmt.Sprintf("device %q has no file catalogue", a.Device)
			return
		}
		a.Source.ReportFiles(a.Corr, a.Device, v.Catalogue())
	}
}
