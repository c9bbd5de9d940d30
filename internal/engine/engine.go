// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/jobs"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
	"github.com/tomtom215/tarantula/internal/plugin"
	"github.com/tomtom215/tarantula/internal/processor"
)

// Publisher receives playout lifecycle callbacks from the tick thread.
// The events package provides the production implementation; a nil
// publisher disables the feed.
type Publisher interface {
	PlayBegin(channel string, ev playlist.Event, endsAt int64)
	PlayEnd(channel string, ev playlist.Event)
	PlaySkip(channel string, ev playlist.Event, hold int)
	ScheduleChanged(channel string, revision int64)
	DeviceStatus(name, family, kind, status string)
}

// Adapter is an event source ticked cooperatively inside the engine
// tick. Adapters push actions onto the queue and collect completed ones
// to answer their callers.
type Adapter interface {
	Tick(q *mousecatcher.Queue)
}

// PreProcessor mutates a due event just before dispatch. It runs on the
// tick thread under the engine mutex.
type PreProcessor func(row *playlist.Event, ch *Channel, now int64)

// Options wires an Engine. Plugins and Processors may be nil, in which
// case empty registries are created; Snapshots and Feed are optional.
type Options struct {
	Engine     config.EngineConfig
	Channels   []config.ChannelConfig
	Plugins    *plugin.Supervisor
	Processors *processor.Registry
	Snapshots  *playlist.SnapshotStore
	Feed       Publisher
}

// Engine owns the tick loop and every structure the tick thread
// touches: channel runners, the action pipeline, the job runner's
// completion phase and the plugin supervisor. It implements the
// mousecatcher directory, so the action pipeline resolves channels,
// devices and processors through it.
type Engine struct {
	cfg       config.EngineConfig
	rate      clock.Rate
	mu        *TimedMutex
	jobs      *jobs.Runner
	core      *mousecatcher.Core
	plugins   *plugin.Supervisor
	procs     *processor.Registry
	snapshots *playlist.SnapshotStore
	feed      Publisher

	channels map[string]*Channel
	order    []*Channel
	preprocs map[string]PreProcessor
	adapters []Adapter
	periodic []periodicJob

	deviceStatus map[string]device.Status
	tickCount    int
	now          func() time.Time
	log          zerolog.Logger
}

// New builds the engine and its channel stores. The job runner is
// created here so its guard is the engine mutex; callers reach it via
// Jobs for processor wiring and supervision.
func New(opts Options) (*Engine, error) {
	rate := opts.Engine.Rate()
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Channels) == 0 {
		return nil, errors.New("no channels configured")
	}
	if opts.Plugins == nil {
		opts.Plugins = plugin.NewSupervisor(opts.Engine.ReloadTimes, opts.Engine.StabilisationFrames)
	}
	if opts.Processors == nil {
		opts.Processors = processor.NewRegistry()
	}

	e := &Engine{
		cfg:          opts.Engine,
		rate:         rate,
		mu:           NewTimedMutex(),
		plugins:      opts.Plugins,
		procs:        opts.Processors,
		snapshots:    opts.Snapshots,
		feed:         opts.Feed,
		channels:     make(map[string]*Channel, len(opts.Channels)),
		deviceStatus: make(map[string]device.Status),
		now:          time.Now,
		log:          logging.With().Str("component", "engine").Logger(),
	}
	e.jobs = jobs.NewRunner(e.mu)
	e.core = mousecatcher.NewCore(e)

	for _, cc := range opts.Channels {
		if _, dup := e.channels[cc.Name]; dup {
			return nil, fmt.Errorf("channel %q configured twice", cc.Name)
		}
		ch := &Channel{
			name:  cc.Name,
			cfg:   cc,
			store: playlist.NewStore(cc.Name, rate),
			log:   logging.With().Str("component", "channel").Str("channel", cc.Name).Logger(),
		}
		e.channels[cc.Name] = ch
		e.order = append(e.order, ch)
	}

	e.preprocs = map[string]PreProcessor{HoldReleaseName: e.holdRelease}
	return e, nil
}

// Jobs returns the engine's job runner for supervision and processor
// wiring.
func (e *Engine) Jobs() *jobs.Runner { return e.jobs }

// Queue returns the action queue adapters push into.
func (e *Engine) Queue() *mousecatcher.Queue { return e.core.Queue() }

// Rate returns the playout frame rate.
func (e *Engine) Rate() clock.Rate { return e.rate }

// Registry returns the processor registry for startup wiring.
func (e *Engine) Registry() *processor.Registry { return e.procs }

// AddAdapter registers a source adapter. Call before Serve.
func (e *Engine) AddAdapter(a Adapter) {
	e.adapters = append(e.adapters, a)
}

// AddPeriodicJob submits j every everyFrames ticks, the same cadence
// mechanism the snapshot sweep uses. A beat is skipped while the
// previous run is still in flight. Call before Serve.
func (e *Engine) AddPeriodicJob(j jobs.Job, everyFrames int) error {
	if j.Work == nil {
		return errors.New("periodic job has no work function")
	}
	if j.Repeat {
		return errors.New("periodic job must not be a repeat job")
	}
	if everyFrames <= 0 {
		return fmt.Errorf("periodic cadence must be positive, got %d", everyFrames)
	}
	e.periodic = append(e.periodic, periodicJob{job: j, every: everyFrames})
	return nil
}

// RegisterPreProcessor installs a named pre-processor. Call before
// Serve; names must be unique.
func (e *Engine) RegisterPreProcessor(name string, pp PreProcessor) error {
	if name == "" {
		return errors.New("pre-processor name is empty")
	}
	if _, dup := e.preprocs[name]; dup {
		return fmt.Errorf("pre-processor %q already registered", name)
	}
	e.preprocs[name] = pp
	return nil
}

// Channel implements the directory and resolver lookups.
func (e *Engine) Channel(name string) (*playlist.Store, bool) {
	ch, ok := e.channels[name]
	if !ok {
		return nil, false
	}
	return ch.store, true
}

// Channels returns every channel store in configuration order.
func (e *Engine) Channels() []*playlist.Store {
	out := make([]*playlist.Store, len(e.order))
	for i, ch := range e.order {
		out[i] = ch.store
	}
	return out
}

// Device resolves a loaded device by name.
func (e *Engine) Device(name string) (*device.Device, bool) {
	return e.plugins.Device(name)
}

// Devices returns every loaded device.
func (e *Engine) Devices() []*device.Device {
	return e.plugins.Devices()
}

// Processor resolves a registered event processor by name.
func (e *Engine) Processor(name string) (mousecatcher.Processor, bool) {
	return e.procs.Get(name)
}

// Processors returns the registered processor names, sorted.
func (e *Engine) Processors() []string {
	return e.procs.Names()
}

// Trigger runs a pending manual event immediately, bypassing the hold
// gate. It is called from the action pipeline on the tick thread.
func (e *Engine) Trigger(channel string, id int) error {
	ch, ok := e.channels[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	row, err := ch.store.Get(id)
	if err != nil {
		return err
	}
	if row.Type != playlist.Manual {
		return fmt.Errorf("event %d is %s, not manual", id, row.Type)
	}
	if row.Processed != playlist.StatePending {
		return fmt.Errorf("event %d has already run", id)
	}

	e.runEvent(ch, &row, e.now().Unix())
	ch.log.Info().Int("event", id).Msg("Manual event triggered")
	return nil
}

// RestoreSnapshots reloads each channel's last saved playlist. Channels
// without a snapshot start empty. Call before Serve.
func (e *Engine) RestoreSnapshots() error {
	if e.snapshots == nil {
		return nil
	}
	for _, ch := range e.order {
		rows, nextID, err := e.snapshots.Restore(ch.name)
		if errors.Is(err, playlist.ErrNoSnapshot) {
			continue
		}
		if err != nil {
			return fmt.Errorf("restore %s: %w", ch.name, err)
		}
		ch.store.Load(rows, nextID)
		e.log.Info().Str("channel", ch.name).Int("rows", len(rows)).Msg("Playlist restored from snapshot")
	}
	return nil
}

func (e *Engine) String() string { return "engine" }

// Serve runs the tick loop until the context is cancelled. Each tick
// takes the engine mutex with a frame-budget timeout; a tick that
// cannot get the mutex in time is skipped and counted rather than
// allowed to stretch the frame.
func (e *Engine) Serve(ctx context.Context) error {
	interval := e.rate.Interval()
	timeout := time.Duration(e.cfg.MutexTimeoutFrames) * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info().
		Int("channels", len(e.order)).
		Dur("interval", interval).
		Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Engine stopped")
			return ctx.Err()
		case <-ticker.C:
			start := e.now()
			if !e.mu.TryLockFor(timeout) {
				metrics.TicksSkipped.Inc()
				e.log.Warn().Msg("Tick skipped, engine mutex busy")
				continue
			}
			e.tick(ctx, start)
			e.mu.Unlock()
			metrics.RecordTick(time.Since(start), interval)
		}
	}
}

// tick is one engine tick. The caller holds the engine mutex.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	nowSec := now.Unix()
	e.tickCount++

	for _, a := range e.adapters {
		a.Tick(e.core.Queue())
	}
	e.core.Tick(nowSec)

	e.plugins.Tick(ctx, nowSec)
	e.publishDeviceStatus()

	for _, ch := range e.order {
		e.runChannel(ch, nowSec)
	}

	e.jobs.RunCompletions()
	e.maybeSnapshot()
	e.runPeriodicJobs()
	e.publishScheduleChanges()
}

// publishDeviceStatus pushes state transitions to the feed and the
// status gauge, and forgets devices the supervisor has unloaded.
func (e *Engine) publishDeviceStatus() {
	devices := e.plugins.Devices()
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		seen[d.Name()] = struct{}{}
		st := d.Status()
		prev, known := e.deviceStatus[d.Name()]
		if known && prev == st {
			continue
		}
		e.deviceStatus[d.Name()] = st
		metrics.SetDeviceStatus(d.Name(), d.Family().String(), int(st))
		if e.feed != nil {
			e.feed.DeviceStatus(d.Name(), d.Family().String(), d.Kind(), st.String())
		}
	}
	for name := range e.deviceStatus {
		if _, ok := seen[name]; !ok {
			delete(e.deviceStatus, name)
		}
	}
}

// publishScheduleChanges reports channels whose playlist revision moved
// this tick, whatever moved it: actions, job completions or the hold
// release.
func (e *Engine) publishScheduleChanges() {
	for _, ch := range e.order {
		rev := ch.store.Revision()
		if rev == ch.lastRevision {
			continue
		}
		ch.lastRevision = rev
		if e.feed != nil {
			e.feed.ScheduleChanged(ch.name, rev)
		}
	}
}

// periodicJob is a registered cadence submission; last identifies the
// most recent instance so a slow run is not stacked behind itself.
type periodicJob struct {
	job   jobs.Job
	every int
	last  uuid.UUID
}

// runPeriodicJobs submits registered jobs whose cadence is due.
func (e *Engine) runPeriodicJobs() {
	for i := range e.periodic {
		p := &e.periodic[i]
		if e.tickCount%p.every != 0 {
			continue
		}
		if p.last != uuid.Nil {
			if _, busy := e.jobs.Status(p.last); busy {
				continue
			}
		}
		id, err := e.jobs.Submit(p.job)
		if err != nil {
			e.log.Error().Err(err).Str("job", p.job.Description).Msg("Periodic job submit failed")
			continue
		}
		p.last = id
	}
}

// channelSnapshot is one channel's rows copied under the mutex for the
// snapshot job to persist outside it.
type channelSnapshot struct {
	name   string
	rows   []playlist.Event
	nextID int
}

// maybeSnapshot submits the playlist snapshot job every sync period.
func (e *Engine) maybeSnapshot() {
	if e.snapshots == nil || e.cfg.SyncPeriodFrames <= 0 {
		return
	}
	if e.tickCount%e.cfg.SyncPeriodFrames != 0 {
		return
	}
	_, err := e.jobs.Submit(jobs.Job{
		Work:        e.snapshotWork,
		Priority:    1,
		Description: "playlist snapshot",
	})
	if err != nil {
		e.log.Error().Err(err).Msg("Snapshot job submit failed")
	}
}

func (e *Engine) snapshotWork(ctx context.Context, _ any, guard jobs.Guard) error {
	if err := guard.Lock(ctx); err != nil {
		return err
	}
	snaps := make([]channelSnapshot, 0, len(e.order))
	for _, ch := range e.order {
		snaps = append(snaps, channelSnapshot{
			name:   ch.name,
			rows:   ch.store.All(),
			nextID: ch.store.NextID(),
		})
	}
	guard.Unlock()

	for _, s := range snaps {
		if err := e.snapshots.Save(s.name, s.rows, s.nextID); err != nil {
			return fmt.Errorf("snapshot %s: %w", s.name, err)
		}
	}
	return nil
}
