// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package playlist

import (
	"errors"
	"testing"

	"github.com/tomtom215/tarantula/internal/clock"
)

const testRate = clock.Rate(25)

func newTestStore() *Store {
	return NewStore("test", testRate)
}

func mustAdd(t *testing.T, s *Store, ev Event, now int64) int {
	t.Helper()
	id, err := s.Add(ev, now)
	if err != nil {
		t.Fatalf("Add(%+v) error: %v", ev, err)
	}
	return id
}

func TestAddAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	a := mustAdd(t, s, Event{Type: Fixed, Trigger: 100}, 90)
	b := mustAdd(t, s, Event{Type: Fixed, Trigger: 100}, 90)
	c := mustAdd(t, s, Event{Type: Manual, Trigger: 200}, 90)

	if a != 1 || b != 2 || c != 3 {
		t.Errorf("ids = %d,%d,%d, want 1,2,3", a, b, c)
	}

	// Removal must not recycle ids.
	if err := s.Remove(b, 91); err != nil {
		t.Fatal(err)
	}
	d := mustAdd(t, s, Event{Type: Fixed, Trigger: 300}, 92)
	if d != 4 {
		t.Errorf("id after removal = %d, want 4", d)
	}
}

func TestAddRejectsMissingParent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	_, err := s.Add(Event{Type: Child, Trigger: 100, Parent: 99}, 90)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing parent, got %v", err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	id := mustAdd(t, s, Event{
		Type:        Fixed,
		Trigger:     500,
		Device:      "VT1",
		Target:      TargetVideo,
		Action:      0,
		Duration:    250,
		Description: "opening titles",
		Extra:       map[string]string{"filename": "TITLES"},
	}, 400)

	got, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Device != "VT1" || got.Duration != 250 || got.Extra["filename"] != "TITLES" {
		t.Errorf("Get() = %+v, lost fields", got)
	}
	if got.Processed != StatePending {
		t.Errorf("new event processed = %d, want pending", got.Processed)
	}
	if got.LastUpdate != 400 {
		t.Errorf("lastupdate = %d, want 400", got.LastUpdate)
	}

	// Returned events are copies; mutating them must not touch the store.
	got.Extra["filename"] = "CHANGED"
	again, _ := s.Get(id)
	if again.Extra["filename"] != "TITLES" {
		t.Error("Get() returned shared extra-data map")
	}
}

func TestEventsMatchesExactSecond(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	onTime := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000}, 900)
	mustAdd(t, s, Event{Type: Fixed, Trigger: 1001}, 900)
	mustAdd(t, s, Event{Type: Manual, Trigger: 1000}, 900)

	due := s.Events(Fixed, 1000)
	if len(due) != 1 || due[0].ID != onTime {
		t.Fatalf("Events(Fixed, 1000) = %+v, want exactly id %d", due, onTime)
	}

	// Processed rows stop matching.
	if err := s.Process(onTime, 1000); err != nil {
		t.Fatal(err)
	}
	if due := s.Events(Fixed, 1000); len(due) != 0 {
		t.Errorf("processed row still due: %+v", due)
	}
}

func TestEventsInsertionOrderForSameTrigger(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	first := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000, Description: "a"}, 900)
	second := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000, Description: "b"}, 900)

	due := s.Events(Fixed, 1000)
	if len(due) != 2 || due[0].ID != first || due[1].ID != second {
		t.Errorf("same-trigger order = %v, want insertion order %d,%d", ids(due), first, second)
	}
}

func TestChildrenOrdering(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	parent := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000, Duration: 250}, 900)
	late := mustAdd(t, s, Event{Type: Child, Trigger: 1010, Parent: parent}, 900)
	early := mustAdd(t, s, Event{Type: Child, Trigger: 1000, Parent: parent}, 900)

	kids := s.Children(parent)
	if len(kids) != 2 || kids[0].ID != early || kids[1].ID != late {
		t.Errorf("children order = %v, want [%d %d]", ids(kids), early, late)
	}
}

func TestActiveHold(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	if got := s.ActiveHold(1000); got != 0 {
		t.Errorf("empty store hold = %d, want 0", got)
	}

	older := mustAdd(t, s, Event{Type: Manual, Trigger: 900}, 800)
	newer := mustAdd(t, s, Event{Type: Manual, Trigger: 950}, 800)
	mustAdd(t, s, Event{Type: Manual, Trigger: 2000}, 800) // future, not yet holding

	if got := s.ActiveHold(1000); got != newer {
		t.Errorf("hold = %d, want latest manual %d", got, newer)
	}

	// Releasing the newer hold re-exposes the older one.
	if err := s.Process(newer, 1000); err != nil {
		t.Fatal(err)
	}
	if got := s.ActiveHold(1000); got != older {
		t.Errorf("hold after release = %d, want %d", got, older)
	}

	if err := s.Process(older, 1001); err != nil {
		t.Fatal(err)
	}
	if got := s.ActiveHold(1001); got != 0 {
		t.Errorf("hold after all released = %d, want 0", got)
	}
}

func TestProcessIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	id := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000}, 900)

	if err := s.Process(id, 1000); err != nil {
		t.Fatal(err)
	}
	if err := s.Process(id, 1001); err != nil {
		t.Errorf("second Process() = %v, want nil", err)
	}
	got, _ := s.Get(id)
	if got.LastUpdate != 1000 {
		t.Errorf("idempotent process must not bump lastupdate, got %d", got.LastUpdate)
	}

	if err := s.Process(999, 1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("Process(missing) = %v, want ErrNotFound", err)
	}
}

func TestRemoveRecursive(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	root := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000, Duration: 500}, 900)
	child := mustAdd(t, s, Event{Type: Child, Trigger: 1000, Parent: root}, 900)
	grandchild := mustAdd(t, s, Event{Type: Child, Trigger: 1005, Parent: child}, 900)
	bystander := mustAdd(t, s, Event{Type: Fixed, Trigger: 1100}, 900)

	if err := s.Remove(root, 950); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int{root, child, grandchild} {
		if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%d) after remove = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := s.Get(bystander); err != nil {
		t.Errorf("unrelated event was erased: %v", err)
	}

	// Erased rows never come due.
	if due := s.Events(Fixed, 1000); len(due) != 0 {
		t.Errorf("erased rows still due: %v", ids(due))
	}

	if err := s.Remove(root, 951); !errors.Is(err, ErrNotFound) {
		t.Errorf("double remove = %v, want ErrNotFound", err)
	}
}

func TestShuntMovesRegion(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	// Spec'd pair: first event 10s long, second right behind it.
	a := mustAdd(t, s, Event{Type: Fixed, Trigger: 1100, Duration: 250}, 1000)
	b := mustAdd(t, s, Event{Type: Fixed, Trigger: 1112}, 1000)
	far := mustAdd(t, s, Event{Type: Fixed, Trigger: 1300}, 1000)
	before := mustAdd(t, s, Event{Type: Fixed, Trigger: 1050}, 1000)

	moved := s.Shunt(1100, 20)
	if moved != 2 {
		t.Fatalf("Shunt moved %d roots, want 2", moved)
	}

	check := func(id int, want int64) {
		t.Helper()
		ev, err := s.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Trigger != want {
			t.Errorf("event %d trigger = %d, want %d", id, ev.Trigger, want)
		}
	}
	check(a, 1120)
	check(b, 1132)
	check(far, 1300)    // beyond the greedy region
	check(before, 1050) // never moves events before start
}

func TestShuntNegativeDelta(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	a := mustAdd(t, s, Event{Type: Fixed, Trigger: 1064, Duration: 100}, 1000)
	b := mustAdd(t, s, Event{Type: Fixed, Trigger: 1070}, 1000)

	// Pull the overrun block back by 14 seconds.
	moved := s.Shunt(1064, -14)
	if moved != 2 {
		t.Fatalf("Shunt moved %d roots, want 2", moved)
	}

	evA, _ := s.Get(a)
	evB, _ := s.Get(b)
	if evA.Trigger != 1050 || evB.Trigger != 1056 {
		t.Errorf("triggers = %d,%d, want 1050,1056", evA.Trigger, evB.Trigger)
	}
}

func TestShuntMovesDescendants(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	root := mustAdd(t, s, Event{Type: Fixed, Trigger: 1100, Duration: 250}, 1000)
	child := mustAdd(t, s, Event{Type: Child, Trigger: 1105, Parent: root}, 1000)

	if moved := s.Shunt(1100, 30); moved != 1 {
		t.Fatalf("moved %d roots, want 1", moved)
	}

	evChild, _ := s.Get(child)
	if evChild.Trigger != 1135 {
		t.Errorf("child trigger = %d, want 1135 (moved with parent)", evChild.Trigger)
	}
}

func TestShuntSkipsProcessed(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	done := mustAdd(t, s, Event{Type: Fixed, Trigger: 1100}, 1000)
	if err := s.Process(done, 1100); err != nil {
		t.Fatal(err)
	}

	if moved := s.Shunt(1100, 20); moved != 0 {
		t.Errorf("moved %d roots, want 0 (processed rows pinned)", moved)
	}
}

func TestExecutingAndNext(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	onAir := mustAdd(t, s, Event{Type: Fixed, Trigger: 990, Duration: 500}, 900) // ends 1010
	finished := mustAdd(t, s, Event{Type: Fixed, Trigger: 900, Duration: 250}, 800)
	holding := mustAdd(t, s, Event{Type: Manual, Trigger: 980, Duration: 250}, 900) // overran 990
	upNext := mustAdd(t, s, Event{Type: Fixed, Trigger: 1050}, 900)
	mustAdd(t, s, Event{Type: Child, Trigger: 1040, Parent: onAir}, 900) // children never listed

	for _, id := range []int{onAir, finished} {
		if err := s.Process(id, 1000); err != nil {
			t.Fatal(err)
		}
	}

	got := ids(s.Executing(1000))
	want := map[int]bool{onAir: true, holding: true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Errorf("Executing(1000) = %v, want {%d,%d}", got, holding, onAir)
	}

	next, ok := s.Next(1000)
	if !ok || next.ID != upNext {
		t.Errorf("Next(1000) = %+v ok=%v, want id %d", next, ok, upNext)
	}

	if _, ok := s.Next(2000); ok {
		t.Error("Next past all events should report none")
	}
}

func TestEventListWindow(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	in1 := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000}, 900)
	in2 := mustAdd(t, s, Event{Type: Manual, Trigger: 1500}, 900)
	mustAdd(t, s, Event{Type: Fixed, Trigger: 2000}, 900)               // past window end
	mustAdd(t, s, Event{Type: Fixed, Trigger: 999}, 900)                // before window
	mustAdd(t, s, Event{Type: Child, Trigger: 1100, Parent: in1}, 900)  // child, not top-level

	got := ids(s.EventList(1000, 1000))
	if len(got) != 2 || got[0] != in1 || got[1] != in2 {
		t.Errorf("EventList = %v, want [%d %d]", got, in1, in2)
	}
}

func TestLoadResumesIDCounter(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	events := []Event{
		{ID: 3, Type: Fixed, Trigger: 1000},
		{ID: 7, Type: Manual, Trigger: 1200},
	}
	s.Load(events, 0)

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	id := mustAdd(t, s, Event{Type: Fixed, Trigger: 1300}, 1000)
	if id != 8 {
		t.Errorf("next id after load = %d, want 8", id)
	}
}

func TestRevisionBumps(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	r0 := s.Revision()
	id := mustAdd(t, s, Event{Type: Fixed, Trigger: 1000}, 900)
	if s.Revision() == r0 {
		t.Error("Add must bump revision")
	}
	r1 := s.Revision()
	if err := s.Process(id, 1000); err != nil {
		t.Fatal(err)
	}
	if s.Revision() == r1 {
		t.Error("Process must bump revision")
	}
}

func ids(events []Event) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
