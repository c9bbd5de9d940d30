// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/jobs"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
	"github.com/tomtom215/tarantula/internal/plugin"
)

type feedRecorder struct {
	begins   []int
	ends     []int
	skips    []int
	changes  int
	statuses map[string]string
	updates  int
}

func newFeedRecorder() *feedRecorder {
	return &feedRecorder{statuses: make(map[string]string)}
}

func (f *feedRecorder) PlayBegin(channel string, ev playlist.Event, endsAt int64) {
	f.begins = append(f.begins, ev.ID)
}

func (f *feedRecorder) PlayEnd(channel string, ev playlist.Event) {
	f.ends = append(f.ends, ev.ID)
}

func (f *feedRecorder) PlaySkip(channel string, ev playlist.Event, hold int) {
	f.skips = append(f.skips, ev.ID)
}

func (f *feedRecorder) ScheduleChanged(channel string, revision int64) {
	f.changes++
}

func (f *feedRecorder) DeviceStatus(name, family, kind, status string) {
	f.statuses[name] = status
	f.updates++
}

func startedDevice(t *testing.T, s device.Settings) *device.Device {
	t.Helper()
	d, err := device.New(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return d
}

func newTestEngine(t *testing.T) (*Engine, *feedRecorder) {
	t.Helper()

	sup := plugin.NewSupervisor([]int{5, 10}, 50)
	sup.Adopt(startedDevice(t, device.Settings{Name: "vt", Family: "video", Kind: "demo", PollPeriod: 1}), "")
	sup.Adopt(startedDevice(t, device.Settings{Name: "cg", Family: "graphics", Kind: "demo", PollPeriod: 1}), "")
	sup.Adopt(startedDevice(t, device.Settings{
		Name: "rtr", Family: "crosspoint", Kind: "demo", PollPeriod: 1,
		Inputs:  map[string]device.Port{"studio-1": {Video: 1, Audio: 1}},
		Outputs: map[string]device.Port{"OUT1": {Video: 9, Audio: 9}},
	}), "")

	feed := newFeedRecorder()
	eng, err := New(Options{
		Engine: config.EngineConfig{
			FrameRate:           25,
			MutexTimeoutFrames:  2,
			SyncPeriodFrames:    1000,
			ReloadTimes:         []int{5, 10},
			StabilisationFrames: 50,
		},
		Channels: []config.ChannelConfig{{Name: "one", Router: "rtr", RouterPort: "OUT1"}},
		Plugins:  sup,
		Feed:     feed,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, feed
}

func mustAdd(t *testing.T, st *playlist.Store, ev playlist.Event) int {
	t.Helper()
	id, err := st.Add(ev, ev.Trigger-100)
	if err != nil {
		t.Fatalf("add event: %v", err)
	}
	return id
}

func videoState(t *testing.T, e *Engine, name string) (device.VideoState, string) {
	t.Helper()
	d, ok := e.Device(name)
	if !ok {
		t.Fatalf("device %s not loaded", name)
	}
	v, ok := d.Video()
	if !ok {
		t.Fatalf("device %s is not video", name)
	}
	state, current, _ := v.VideoState()
	return state, current
}

func TestDispatchAndEndCallback(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)
	ch := eng.channels["one"]

	id := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 500, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Duration: 250, Extra: map[string]string{device.KeyFilename: "TITLES"},
	})

	eng.runChannel(ch, 500)

	row, err := ch.store.Get(id)
	if err != nil || row.Processed != playlist.StateDone {
		t.Fatalf("row not processed: %+v, %v", row, err)
	}
	if state, current := videoState(t, eng, "vt"); state != device.VideoPlaying || current != "TITLES" {
		t.Fatalf("video state = %v %q", state, current)
	}
	if len(feed.begins) != 1 || feed.begins[0] != id {
		t.Fatalf("begins = %v", feed.begins)
	}

	// 250 frames at 25 fps ends at 510.
	eng.runChannel(ch, 510)
	if len(feed.ends) != 1 || feed.ends[0] != id {
		t.Fatalf("ends = %v", feed.ends)
	}
}

func TestCatchUpAfterStall(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)
	ch := eng.channels["one"]

	a := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 701, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Extra: map[string]string{device.KeyFilename: "A"},
	})
	b := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 702, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Extra: map[string]string{device.KeyFilename: "B"},
	})

	eng.runChannel(ch, 700)
	if len(feed.begins) != 0 {
		t.Fatalf("nothing should be due yet: %v", feed.begins)
	}

	// The engine missed two seconds; both must still run, in order.
	eng.runChannel(ch, 702)
	if len(feed.begins) != 2 || feed.begins[0] != a || feed.begins[1] != b {
		t.Fatalf("begins = %v, want [%d %d]", feed.begins, a, b)
	}
	if _, current := videoState(t, eng, "vt"); current != "B" {
		t.Fatalf("current file = %q, want the later play", current)
	}
}

func TestMissingDeviceStillProcesses(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)
	ch := eng.channels["one"]

	id := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 600, Device: "ghost",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
	})
	eng.runChannel(ch, 600)

	row, err := ch.store.Get(id)
	if err != nil || row.Processed != playlist.StateDone {
		t.Fatalf("bad row must still be marked processed: %+v, %v", row, err)
	}
	if len(feed.begins) != 0 {
		t.Fatalf("no begin for a failed dispatch: %v", feed.begins)
	}
}

func TestHoldGateParksChannel(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)
	ch := eng.channels["one"]

	root := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 1000, Device: "live-block",
		Target: playlist.TargetProcessor, Action: -1, Duration: 7500,
	})
	hold := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Manual, Trigger: 1000, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoStop,
		Duration: 250, Parent: root, PreProcessor: HoldReleaseName,
		Extra: map[string]string{device.KeySwitchChannel: "studio-1"},
	})
	clockRow := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Child, Trigger: 1000, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Duration: 1500, Parent: hold,
		Extra: map[string]string{device.KeyFilename: "CLOCK"},
	})

	eng.runChannel(ch, 1000)

	// The placeholder and the hold are gated; the hold's own child runs.
	if len(feed.skips) != 2 {
		t.Fatalf("skips = %v, want placeholder and hold", feed.skips)
	}
	if state, current := videoState(t, eng, "vt"); state != device.VideoPlaying || current != "CLOCK" {
		t.Fatalf("clock not playing: %v %q", state, current)
	}
	row, _ := ch.store.Get(clockRow)
	if row.Processed != playlist.StateDone {
		t.Fatal("clock child should be processed")
	}
	row, _ = ch.store.Get(hold)
	if row.Processed != playlist.StatePending {
		t.Fatal("hold must stay pending")
	}
	if got := ch.store.ActiveHold(1001); got != hold {
		t.Fatalf("active hold = %d, want %d", got, hold)
	}
}

func TestTriggerReleasesHold(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)
	ch := eng.channels["one"]

	root := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 1000, Device: "live-block",
		Target: playlist.TargetProcessor, Action: -1, Duration: 7500,
	})
	hold := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Manual, Trigger: 1000, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoStop,
		Duration: 250, Parent: root, PreProcessor: HoldReleaseName,
		Extra: map[string]string{device.KeySwitchChannel: "studio-1"},
	})
	mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Child, Trigger: 1000, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Duration: 1500, Parent: hold,
		Extra: map[string]string{device.KeyFilename: "CLOCK"},
	})
	overlay := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Child, Trigger: 1030, Device: "cg",
		Target: playlist.TargetGraphics, Action: device.ActionGraphicsAdd,
		Parent: hold,
		Extra:  map[string]string{device.KeyGraphicName: "bug", device.KeyHostLayer: "1"},
	})
	next := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 1012, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Duration: 250, Extra: map[string]string{device.KeyFilename: "NEXT"},
	})

	eng.runChannel(ch, 1000)

	// The director cues the live feed four seconds over the scheduled
	// end (1000 + 10s).
	eng.now = func() time.Time { return time.Unix(1014, 0) }
	if err := eng.Trigger("one", hold); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	row, err := ch.store.Get(hold)
	if err != nil || row.Processed != playlist.StateDone {
		t.Fatal("hold should be processed after the trigger")
	}
	if state, _ := videoState(t, eng, "vt"); state != device.VideoStopped {
		t.Fatal("clock should be stopped on release")
	}
	if _, err := ch.store.Get(overlay); err == nil {
		t.Fatal("pending hold children must be erased on release")
	}
	row, err = ch.store.Get(next)
	if err != nil || row.Trigger != 1016 {
		t.Fatalf("next show should be shunted to 1016, got %+v, %v", row, err)
	}

	var cut playlist.Event
	found := false
	for _, c := range ch.store.Children(root) {
		if c.Target == playlist.TargetCrosspoint {
			cut, found = c, true
		}
	}
	if !found {
		t.Fatal("no router cut inserted under the block root")
	}
	if cut.Trigger != 1015 || cut.Action != device.ActionCrosspointSwitch {
		t.Fatalf("cut wrong: %+v", cut)
	}
	if cut.Extra[device.KeyOutput] != "OUT1" || cut.Extra[device.KeyInput] != "studio-1" {
		t.Fatalf("cut extra wrong: %v", cut.Extra)
	}

	// Catch up through the cut and the shunted show.
	eng.runChannel(ch, 1016)

	d, _ := eng.Device("rtr")
	xp, _ := d.Crosspoint()
	if got := xp.Routes()["OUT1"]; got != "studio-1" {
		t.Fatalf("router route = %q, want the live feed", got)
	}
	if state, current := videoState(t, eng, "vt"); state != device.VideoPlaying || current != "NEXT" {
		t.Fatalf("shunted show not playing: %v %q", state, current)
	}
	if len(feed.skips) != 2 {
		t.Fatalf("skips = %v, want only the initial park", feed.skips)
	}
}

func TestTriggerErrors(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t)
	ch := eng.channels["one"]

	if err := eng.Trigger("nine", 1); err == nil {
		t.Fatal("expected unknown channel error")
	}
	if err := eng.Trigger("one", 42); err == nil {
		t.Fatal("expected unknown event error")
	}

	fixed := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 2000, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
	})
	if err := eng.Trigger("one", fixed); err == nil {
		t.Fatal("expected non-manual error")
	}
}

func TestDeviceStatusPublishing(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)

	eng.publishDeviceStatus()
	if feed.updates != 3 {
		t.Fatalf("updates = %d, want one per device", feed.updates)
	}
	if feed.statuses["vt"] != "ready" {
		t.Fatalf("vt status = %q", feed.statuses["vt"])
	}

	// Unchanged statuses publish nothing.
	eng.publishDeviceStatus()
	if feed.updates != 3 {
		t.Fatalf("updates = %d after no-op sweep", feed.updates)
	}

	d, _ := eng.Device("vt")
	d.MarkCrashed()
	eng.publishDeviceStatus()
	if feed.statuses["vt"] != "crashed" || feed.updates != 4 {
		t.Fatalf("crash not published: %v", feed.statuses)
	}
}

type countingAdapter struct{ ticks int }

func (a *countingAdapter) Tick(q *mousecatcher.Queue) { a.ticks++ }

func TestTickDrivesPipeline(t *testing.T) {
	t.Parallel()

	eng, feed := newTestEngine(t)
	adapter := &countingAdapter{}
	eng.AddAdapter(adapter)

	action := &mousecatcher.EventAction{
		Kind:    mousecatcher.KindAdd,
		Channel: "one",
		Event: &mousecatcher.Event{
			Type:     playlist.Fixed,
			Trigger:  9000,
			Device:   "vt",
			Duration: 10,
			Extra:    map[string]string{device.KeyFilename: "EP01"},
		},
	}
	eng.Queue().Push(action)

	if !eng.mu.TryLockFor(time.Second) {
		t.Fatal("engine mutex unavailable")
	}
	eng.tick(context.Background(), time.Unix(8000, 0))
	eng.mu.Unlock()

	if adapter.ticks != 1 {
		t.Fatalf("adapter ticks = %d", adapter.ticks)
	}
	if !action.Done || action.Return != "" {
		t.Fatalf("action not completed cleanly: %+v", action)
	}
	st, _ := eng.Channel("one")
	if st.Len() != 1 {
		t.Fatalf("store rows = %d", st.Len())
	}
	if feed.changes == 0 {
		t.Fatal("schedule change not published")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ss, err := playlist.OpenSnapshots(dir)
	if err != nil {
		t.Fatalf("OpenSnapshots: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	eng, _ := newTestEngine(t)
	eng.snapshots = ss
	ch := eng.channels["one"]
	id := mustAdd(t, ch.store, playlist.Event{
		Type: playlist.Fixed, Trigger: 4000, Device: "vt",
		Target: playlist.TargetVideo, Action: device.ActionVideoPlay,
		Duration: 500, Description: "saved show",
		Extra: map[string]string{device.KeyFilename: "KEEP"},
	})

	if err := eng.snapshotWork(context.Background(), nil, eng.mu); err != nil {
		t.Fatalf("snapshotWork: %v", err)
	}

	restored, _ := newTestEngine(t)
	restored.snapshots = ss
	if err := restored.RestoreSnapshots(); err != nil {
		t.Fatalf("RestoreSnapshots: %v", err)
	}
	st, _ := restored.Channel("one")
	row, err := st.Get(id)
	if err != nil {
		t.Fatalf("restored row missing: %v", err)
	}
	if row.Description != "saved show" || row.Extra[device.KeyFilename] != "KEEP" {
		t.Fatalf("restored row wrong: %+v", row)
	}
	if st.NextID() != ch.store.NextID() {
		t.Fatalf("id counter not restored: %d vs %d", st.NextID(), ch.store.NextID())
	}
}

func TestRegisterPreProcessor(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t)
	if err := eng.RegisterPreProcessor("strip-breaks", func(*playlist.Event, *Channel, int64) {}); err != nil {
		t.Fatalf("RegisterPreProcessor: %v", err)
	}
	if err := eng.RegisterPreProcessor(HoldReleaseName, func(*playlist.Event, *Channel, int64) {}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := eng.RegisterPreProcessor("", nil); err == nil {
		t.Fatal("expected empty name error")
	}
}

func tickOnce(t *testing.T, eng *Engine, nowSec int64) {
	t.Helper()
	if !eng.mu.TryLockFor(time.Second) {
		t.Fatal("engine mutex unavailable")
	}
	eng.tick(context.Background(), time.Unix(nowSec, 0))
	eng.mu.Unlock()
}

func TestAddPeriodicJobValidation(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t)
	work := func(context.Context, any, jobs.Guard) error { return nil }

	if err := eng.AddPeriodicJob(jobs.Job{}, 100); err == nil {
		t.Error("accepted job without work function")
	}
	if err := eng.AddPeriodicJob(jobs.Job{Work: work}, 0); err == nil {
		t.Error("accepted zero cadence")
	}
	if err := eng.AddPeriodicJob(jobs.Job{Work: work, Repeat: true}, 100); err == nil {
		t.Error("accepted repeat job")
	}
	if err := eng.AddPeriodicJob(jobs.Job{Work: work, Description: "refresh"}, 100); err != nil {
		t.Errorf("rejected valid periodic job: %v", err)
	}
}

func TestPeriodicJobSubmitsOnCadence(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t)
	err := eng.AddPeriodicJob(jobs.Job{
		Work:        func(context.Context, any, jobs.Guard) error { return nil },
		Description: "cadence probe",
	}, 2)
	if err != nil {
		t.Fatal(err)
	}

	tickOnce(t, eng, 8000)
	if got := eng.jobs.Pending(); got != 0 {
		t.Fatalf("pending = %d before cadence, want 0", got)
	}
	tickOnce(t, eng, 8000)
	if got := eng.jobs.Pending(); got != 1 {
		t.Fatalf("pending = %d on cadence, want 1", got)
	}
}

func TestPeriodicJobResubmitsAfterCompletion(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t)
	var runs atomic.Int32
	err := eng.AddPeriodicJob(jobs.Job{
		Work:        func(context.Context, any, jobs.Guard) error { runs.Add(1); return nil },
		Description: "cadence probe",
	}, 2)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.jobs.Serve(ctx) }()

	// Keep ticking: due beats submit, in-between ticks retire
	// completions, and the job must come around at least twice.
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		tickOnce(t, eng, 8000)
		time.Sleep(2 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want at least 2", runs.Load())
	}
}

func TestPeriodicJobSkipsWhileInFlight(t *testing.T) {
	t.Parallel()

	// No worker serving: the first submission stays queued, so later
	// beats must not stack more instances behind it.
	eng, _ := newTestEngine(t)
	err := eng.AddPeriodicJob(jobs.Job{
		Work:        func(context.Context, any, jobs.Guard) error { return nil },
		Description: "stalled refresh",
	}, 1)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		tickOnce(t, eng, 8000)
	}

	if got := eng.jobs.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}
