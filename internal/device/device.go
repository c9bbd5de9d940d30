// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// Family groups devices by command set.
type Family int

const (
	FamilyVideo Family = iota
	FamilyGraphics
	FamilyCrosspoint
)

func (f Family) String() string {
	switch f {
	case FamilyVideo:
		return "video"
	case FamilyGraphics:
		return "graphics"
	case FamilyCrosspoint:
		return "crosspoint"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ParseFamily maps a configuration string to a Family.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "video":
		return FamilyVideo, nil
	case "graphics", "cg":
		return FamilyGraphics, nil
	case "crosspoint", "router":
		return FamilyCrosspoint, nil
	default:
		return 0, fmt.Errorf("unknown device family %q", s)
	}
}

// FamilyForTarget maps an event target to the device family that
// services it. Processor targets have no device family.
func FamilyForTarget(t playlist.TargetKind) (Family, bool) {
	switch t {
	case playlist.TargetVideo:
		return FamilyVideo, true
	case playlist.TargetGraphics:
		return FamilyGraphics, true
	case playlist.TargetCrosspoint:
		return FamilyCrosspoint, true
	default:
		return 0, false
	}
}

// Target returns the playlist target kind for rows aimed at this family.
func (f Family) Target() playlist.TargetKind {
	switch f {
	case FamilyGraphics:
		return playlist.TargetGraphics
	case FamilyCrosspoint:
		return playlist.TargetCrosspoint
	default:
		return playlist.TargetVideo
	}
}

// Status is the device lifecycle state. The numeric values feed the
// device status gauge directly.
type Status int

const (
	StatusStarting Status = iota
	StatusWaiting
	StatusReady
	StatusCrashed
	StatusUnload
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusWaiting:
		return "waiting"
	case StatusReady:
		return "ready"
	case StatusCrashed:
		return "crashed"
	case StatusUnload:
		return "unload"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Driver is the device-specific half of a Device. Start and Stop
// bracket the driver's IO; Poll runs once per tick and must return
// quickly; UpdateHardwareStatus performs the periodic handshake and
// reports hardware health; RunEvent maps one playlist event onto
// device commands.
type Driver interface {
	Start(ctx context.Context) error
	Stop()
	Poll(now int64)
	UpdateHardwareStatus() error
	RunEvent(ev *playlist.Event) error
}

// Port is a router port pair.
type Port struct {
	Video int `koanf:"video" json:"video"`
	Audio int `koanf:"audio" json:"audio"`
}

// Settings is the per-device YAML document under plugins.device_dir.
// Family-specific fields are ignored by the other families.
type Settings struct {
	Name   string `koanf:"name" validate:"required"`
	Family string `koanf:"family" validate:"required,oneof=video graphics crosspoint"`
	Kind   string `koanf:"kind" validate:"required"`

	// PollPeriod is the tick count between hardware handshakes.
	PollPeriod int `koanf:"poll_period" validate:"min=1"`

	// Address is the device endpoint for networked kinds.
	Address string `koanf:"address"`

	// ReplyTimeout is how stale the last received line may be before
	// the handshake declares the hardware gone.
	ReplyTimeout time.Duration `koanf:"reply_timeout"`

	// Inputs and Outputs are the crosspoint port maps.
	Inputs  map[string]Port `koanf:"inputs"`
	Outputs map[string]Port `koanf:"outputs"`
}

// Factory builds a driver from its settings.
type Factory func(s Settings) (Driver, error)

type registryKey struct {
	family Family
	kind   string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[registryKey]Factory)
)

// Register installs a driver factory for a (family, kind) pair.
// Built-in kinds register from this package; tests may add their own.
func Register(family Family, kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey{family, kind}] = f
}

// Kinds lists the registered kinds for a family, sorted.
func Kinds(family Family) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var out []string
	for k := range registry {
		if k.family == family {
			out = append(out, k.kind)
		}
	}
	sort.Strings(out)
	return out
}

// Device wraps a driver with the lifecycle state machine and the poll
// bookkeeping. Like the playlist store it does no internal locking:
// the engine mutex serialises every call, including the adapter paths.
type Device struct {
	name       string
	family     Family
	settings   Settings
	configPath string
	driver     Driver
	log        zerolog.Logger

	status         Status
	sinceHandshake int
}

// New builds a device from settings, using the registered factory for
// its (family, kind).
func New(s Settings) (*Device, error) {
	family, err := ParseFamily(s.Family)
	if err != nil {
		return nil, err
	}
	if s.PollPeriod <= 0 {
		return nil, fmt.Errorf("device %q: poll_period must be positive", s.Name)
	}

	registryMu.RLock()
	factory, ok := registry[registryKey{family, s.Kind}]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("device %q: no %s driver of kind %q", s.Name, family, s.Kind)
	}

	driver, err := factory(s)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", s.Name, err)
	}

	d := &Device{
		name:     s.Name,
		family:   family,
		settings: s,
		driver:   driver,
		log: logging.With().
			Str("device", s.Name).
			Str("family", family.String()).
			Logger(),
		status: StatusStarting,
	}
	d.publishStatus()
	return d, nil
}

func (d *Device) Name() string       { return d.name }
func (d *Device) Family() Family     { return d.family }
func (d *Device) Kind() string       { return d.settings.Kind }
func (d *Device) Status() Status     { return d.status }
func (d *Device) Driver() Driver     { return d.driver }
func (d *Device) Settings() Settings { return d.settings }

// ConfigPath remembers where the settings document came from so the
// supervisor can reload it.
func (d *Device) ConfigPath() string        { return d.configPath }
func (d *Device) SetConfigPath(path string) { d.configPath = path }

// Video returns the driver's video interface when the device has one.
func (d *Device) Video() (VideoDriver, bool) {
	v, ok := d.driver.(VideoDriver)
	return v, ok
}

// Graphics returns the driver's graphics interface when the device has one.
func (d *Device) Graphics() (GraphicsDriver, bool) {
	g, ok := d.driver.(GraphicsDriver)
	return g, ok
}

// Crosspoint returns the driver's crosspoint interface when the device
// has one.
func (d *Device) Crosspoint() (CrosspointDriver, bool) {
	c, ok := d.driver.(CrosspointDriver)
	return c, ok
}

// Start brings the driver up and attempts the first handshake. A
// device whose hardware answers immediately goes straight to ready;
// otherwise it waits for a later handshake.
func (d *Device) Start(ctx context.Context) error {
	if err := d.driver.Start(ctx); err != nil {
		d.setStatus(StatusCrashed)
		return fmt.Errorf("device %q: %w", d.name, err)
	}
	if err := d.driver.UpdateHardwareStatus(); err != nil {
		d.setStatus(StatusWaiting)
	} else {
		d.setStatus(StatusReady)
	}
	return nil
}

// Stop shuts the driver down.
func (d *Device) Stop() {
	d.driver.Stop()
}

// Tick runs the per-tick poll and, every poll-period ticks, the
// hardware handshake. Handshake success promotes waiting devices to
// ready; failure demotes ready devices to crashed. Waiting devices
// stay waiting while their hardware boots.
func (d *Device) Tick(now int64) {
	if d.status == StatusUnload {
		return
	}
	d.driver.Poll(now)

	d.sinceHandshake++
	if d.sinceHandshake < d.settings.PollPeriod {
		return
	}
	d.sinceHandshake = 0

	err := d.driver.UpdateHardwareStatus()
	switch {
	case err == nil && (d.status == StatusWaiting || d.status == StatusStarting):
		d.log.Info().Msg("Device hardware answered, now ready")
		d.setStatus(StatusReady)
	case err != nil && d.status == StatusReady:
		d.log.Error().Err(err).Msg("Device handshake failed")
		metrics.DeviceCommandFailures.WithLabelValues(d.name).Inc()
		d.setStatus(StatusCrashed)
	}
}

// RunEvent dispatches one playlist event to the driver. Only ready
// devices accept events; any driver error crashes the device.
func (d *Device) RunEvent(ev *playlist.Event) error {
	if d.status != StatusReady {
		return fmt.Errorf("device %q is %s, not ready", d.name, d.status)
	}
	if err := d.driver.RunEvent(ev); err != nil {
		d.log.Error().Err(err).Int("event", ev.ID).Msg("Event dispatch failed")
		metrics.DeviceCommandFailures.WithLabelValues(d.name).Inc()
		d.setStatus(StatusCrashed)
		return fmt.Errorf("device %q: %w", d.name, err)
	}
	return nil
}

// Reset is the supervisor's crashed-to-waiting transition after a
// cooldown: the old driver is stopped and a fresh one built from the
// same settings.
func (d *Device) Reset(ctx context.Context) error {
	d.driver.Stop()

	registryMu.RLock()
	factory, ok := registry[registryKey{d.family, d.settings.Kind}]
	registryMu.RUnlock()
	if !ok {
		return fmt.Errorf("device %q: driver kind %q vanished", d.name, d.settings.Kind)
	}
	driver, err := factory(d.settings)
	if err != nil {
		return fmt.Errorf("device %q: %w", d.name, err)
	}
	d.driver = driver
	d.sinceHandshake = 0

	if err := d.driver.Start(ctx); err != nil {
		d.setStatus(StatusCrashed)
		return fmt.Errorf("device %q: %w", d.name, err)
	}
	d.setStatus(StatusWaiting)
	return nil
}

// Reconfigure replaces the stored settings. It takes effect at the
// next Reset; the running driver is left alone.
func (d *Device) Reconfigure(s Settings) {
	d.settings = s
}

// ForceUnload retires the device permanently.
func (d *Device) ForceUnload() {
	if d.status == StatusUnload {
		return
	}
	d.driver.Stop()
	d.setStatus(StatusUnload)
	metrics.PluginUnloads.Inc()
	d.log.Warn().Msg("Device unloaded")
}

// MarkCrashed records an externally observed failure, for the
// supervisor and tests.
func (d *Device) MarkCrashed() {
	if d.status == StatusReady || d.status == StatusWaiting {
		d.setStatus(StatusCrashed)
	}
}

func (d *Device) setStatus(s Status) {
	if d.status == s {
		return
	}
	d.log.Debug().
		Str("from", d.status.String()).
		Str("to", s.String()).
		Msg("Device status change")
	d.status = s
	d.publishStatus()
}

func (d *Device) publishStatus() {
	metrics.SetDeviceStatus(d.name, d.family.String(), int(d.status))
}
