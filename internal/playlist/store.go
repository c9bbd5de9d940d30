// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package playlist

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/logging"
)

// FudgeSeconds pads the shunt region so back-to-back events just beyond a
// moved block travel with it.
const FudgeSeconds = 5

// ErrNotFound marks lookups of missing or erased events.
var ErrNotFound = errors.New("event not found")

// Store is the per-channel timeline. It is not internally locked: every
// caller holds the engine mutex, which serialises the tick thread, the
// action pipeline, and async job completions.
type Store struct {
	channel string
	rate    clock.Rate

	nextID   int
	rows     map[int]*Event
	revision int64

	log zerolog.Logger
}

// NewStore creates an empty timeline for one channel.
func NewStore(channel string, rate clock.Rate) *Store {
	return &Store{
		channel: channel,
		rate:    rate,
		nextID:  1,
		rows:    make(map[int]*Event),
		log: logging.With().
			Str("component", "playlist").
			Str("channel", channel).
			Logger(),
	}
}

// Channel returns the owning channel name.
func (s *Store) Channel() string { return s.channel }

// Rate returns the channel frame rate.
func (s *Store) Rate() clock.Rate { return s.rate }

// Revision increments on every mutation; adapters use it to invalidate
// cached schedule snapshots.
func (s *Store) Revision() int64 { return s.revision }

// Len returns the number of live (non-erased) rows.
func (s *Store) Len() int {
	n := 0
	for _, row := range s.rows {
		if row.Processed != StateErased {
			n++
		}
	}
	return n
}

// Add inserts an event and returns its id. IDs are monotonic per channel
// and never reused within a run. A non-zero parent must name a live row.
func (s *Store) Add(ev Event, now int64) (int, error) {
	if ev.Duration < 0 {
		return 0, fmt.Errorf("negative duration %d", ev.Duration)
	}
	if ev.Parent != 0 {
		parent, ok := s.rows[ev.Parent]
		if !ok || parent.Processed == StateErased {
			return 0, fmt.Errorf("parent %d: %w", ev.Parent, ErrNotFound)
		}
	}

	ev.ID = s.nextID
	s.nextID++
	ev.Processed = StatePending
	ev.LastUpdate = now

	s.rows[ev.ID] = &ev
	s.revision++

	s.log.Debug().
		Int("id", ev.ID).
		Str("type", ev.Type.String()).
		Int64("trigger", ev.Trigger).
		Str("device", ev.Device).
		Msg("Event added")
	return ev.ID, nil
}

// Get returns one event by id. Erased rows are reported as not found.
func (s *Store) Get(id int) (Event, error) {
	row, ok := s.rows[id]
	if !ok || row.Processed == StateErased {
		return Event{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return row.Clone(), nil
}

// Events returns pending rows of the given type whose trigger equals at,
// in insertion order. The runner calls this once per wall second for
// fixed, manual, and child rows.
func (s *Store) Events(t EventType, at int64) []Event {
	var out []Event
	for _, id := range s.idsInOrder() {
		row := s.rows[id]
		if row.Type == t && row.Trigger == at && row.Processed == StatePending {
			out = append(out, row.Clone())
		}
	}
	return out
}

// Children returns the live children of parent ordered by ascending
// (trigger, id).
func (s *Store) Children(parent int) []Event {
	var out []Event
	for _, row := range s.rows {
		if row.Parent == parent && row.Processed != StateErased {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trigger != out[j].Trigger {
			return out[i].Trigger < out[j].Trigger
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EventList returns top-level rows with triggers in [start, start+length),
// ordered by (trigger, id). Erased rows are excluded; processed rows are
// included so operator views show history inside the window.
func (s *Store) EventList(start, length int64) []Event {
	end := start + length
	var out []Event
	for _, row := range s.rows {
		if row.Parent != 0 || row.Processed == StateErased {
			continue
		}
		if row.Trigger >= start && row.Trigger < end {
			out = append(out, row.Clone())
		}
	}
	sortByTrigger(out)
	return out
}

// ActiveHold returns the id of the manual event currently gating
// execution at the given time, or 0 when no hold is active. The latest
// pending manual with trigger at or before the time wins; ties break to
// the highest id.
func (s *Store) ActiveHold(at int64) int {
	best := 0
	var bestTrigger int64
	for id, row := range s.rows {
		if row.Type != Manual || row.Processed != StatePending || row.Trigger > at {
			continue
		}
		if best == 0 || row.Trigger > bestTrigger || (row.Trigger == bestTrigger && id > best) {
			best = id
			bestTrigger = row.Trigger
		}
	}
	return best
}

// Process marks an event dispatched. Idempotent on already-processed rows.
func (s *Store) Process(id int, now int64) error {
	row, ok := s.rows[id]
	if !ok || row.Processed == StateErased {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if row.Processed == StateDone {
		return nil
	}
	row.Processed = StateDone
	row.LastUpdate = now
	s.revision++
	return nil
}

// Remove erases an event and all its descendants. Children are collected
// before any row is touched so the recursion never chases freshly erased
// links. Extra-data is dropped with the row.
func (s *Store) Remove(id int, now int64) error {
	row, ok := s.rows[id]
	if !ok || row.Processed == StateErased {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}

	doomed := []int{id}
	for i := 0; i < len(doomed); i++ {
		for childID, child := range s.rows {
			if child.Parent == doomed[i] && child.Processed != StateErased {
				doomed = append(doomed, childID)
			}
		}
	}

	for _, dead := range doomed {
		r := s.rows[dead]
		r.Processed = StateErased
		r.Extra = nil
		r.LastUpdate = now
	}
	s.revision++

	s.log.Debug().Int("id", id).Int("erased", len(doomed)).Msg("Event removed")
	return nil
}

// Shunt translates every pending top-level event in the greedy region
// starting at start by delta seconds, moving each root's descendants with
// it. The region grows while any encountered root's duration (plus the
// positive part of delta and the fudge) pushes past the current upper
// bound. Events with triggers before start never move. Returns the number
// of roots moved.
func (s *Store) Shunt(start, delta int64) int {
	extra := int64(0)
	if delta > 0 {
		extra = delta
	}

	upper := start + extra + FudgeSeconds
	for changed := true; changed; {
		changed = false
		for _, row := range s.rows {
			if row.Parent != 0 || row.Processed != StatePending {
				continue
			}
			if row.Trigger < start || row.Trigger > upper {
				continue
			}
			end := s.rate.EndTime(row.Trigger, row.Duration) + extra + FudgeSeconds
			if end > upper {
				upper = end
				changed = true
			}
		}
	}

	moved := 0
	for _, row := range s.rows {
		if row.Parent != 0 || row.Processed != StatePending {
			continue
		}
		if row.Trigger < start || row.Trigger > upper {
			continue
		}
		s.shiftTree(row.ID, delta)
		moved++
	}
	if moved > 0 {
		s.revision++
		s.log.Info().
			Int64("start", start).
			Int64("delta", delta).
			Int("roots", moved).
			Msg("Schedule shunted")
	}
	return moved
}

// shiftTree moves a root and all live descendants by delta seconds.
func (s *Store) shiftTree(id int, delta int64) {
	row, ok := s.rows[id]
	if !ok || row.Processed == StateErased {
		return
	}
	row.Trigger += delta

	for childID, child := range s.rows {
		if child.Parent == id && child.Processed != StateErased {
			s.shiftTree(childID, delta)
		}
	}
}

// Executing returns the top-level rows on air at now: dispatched rows
// whose end has not passed, plus manual holds still pending (including
// holds that have overrun their scheduled end).
func (s *Store) Executing(now int64) []Event {
	var out []Event
	for _, row := range s.rows {
		if row.Parent != 0 || row.Processed == StateErased || row.Trigger > now {
			continue
		}
		onAir := row.Processed == StateDone && s.rate.EndTime(row.Trigger, row.Duration) >= now
		holding := row.Type == Manual && row.Processed == StatePending
		if onAir || holding {
			out = append(out, row.Clone())
		}
	}
	sortByTrigger(out)
	return out
}

// Next returns the earliest pending top-level event after now.
func (s *Store) Next(now int64) (Event, bool) {
	var best *Event
	for _, row := range s.rows {
		if row.Parent != 0 || row.Processed != StatePending || row.Trigger <= now {
			continue
		}
		if best == nil || row.Trigger < best.Trigger ||
			(row.Trigger == best.Trigger && row.ID < best.ID) {
			best = row
		}
	}
	if best == nil {
		return Event{}, false
	}
	return best.Clone(), true
}

// All returns every live row ordered by id, for snapshots.
func (s *Store) All() []Event {
	out := make([]Event, 0, len(s.rows))
	for _, id := range s.idsInOrder() {
		row := s.rows[id]
		if row.Processed != StateErased {
			out = append(out, row.Clone())
		}
	}
	return out
}

// Load replaces the store contents from a snapshot. The id counter
// resumes above the highest restored id.
func (s *Store) Load(events []Event, nextID int) {
	s.rows = make(map[int]*Event, len(events))
	maxID := 0
	for _, ev := range events {
		row := ev.Clone()
		s.rows[row.ID] = &row
		if row.ID > maxID {
			maxID = row.ID
		}
	}
	if nextID <= maxID {
		nextID = maxID + 1
	}
	s.nextID = nextID
	s.revision++
}

// NextID exposes the id counter for snapshots.
func (s *Store) NextID() int { return s.nextID }

// idsInOrder returns every row id sorted ascending. Insertion order and
// id order coincide because ids are monotonic.
func (s *Store) idsInOrder() []int {
	ids := make([]int, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortByTrigger(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Trigger != events[j].Trigger {
			return events[i].Trigger < events[j].Trigger
		}
		return events[i].ID < events[j].ID
	})
}
