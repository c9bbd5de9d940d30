// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
)

// entry is one supervised device plugin.
type entry struct {
	dev        *device.Device
	configPath string

	// credits is how many reloads remain before the plugin is given
	// up on. cooldown counts down to the next reload when positive;
	// when negative it is the stabilisation window, counting up to
	// zero, after which credits reset.
	credits  int
	cooldown int
}

// Supervisor watches every device plugin and applies the reload
// policy: each crash consumes one reload credit and schedules a reload
// after the next configured cooldown; a plugin that stays up through
// the stabilisation window earns its credits back; a plugin with no
// credits left is unloaded for good.
//
// All methods run on the tick thread under the engine mutex.
type Supervisor struct {
	reloadTimes   []int
	stabilisation int
	log           zerolog.Logger

	entries []*entry
	byName  map[string]*entry
}

// NewSupervisor builds a supervisor with the reload cooldown sequence
// and stabilisation window, both in frames.
func NewSupervisor(reloadTimes []int, stabilisation int) *Supervisor {
	return &Supervisor{
		reloadTimes:   reloadTimes,
		stabilisation: stabilisation,
		log:           logging.With().Str("component", "plugin").Logger(),
		byName:        make(map[string]*entry),
	}
}

// Adopt places a device under supervision with full credits.
func (s *Supervisor) Adopt(d *device.Device, configPath string) {
	e := &entry{
		dev:        d,
		configPath: configPath,
		credits:    len(s.reloadTimes),
	}
	s.entries = append(s.entries, e)
	s.byName[d.Name()] = e
	s.log.Info().
		Str("device", d.Name()).
		Str("family", d.Family().String()).
		Str("kind", d.Kind()).
		Msg("Device adopted")
}

// Device finds a live supervised device by name.
func (s *Supervisor) Device(name string) (*device.Device, bool) {
	e, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return e.dev, true
}

// Devices returns the live devices in adoption order.
func (s *Supervisor) Devices() []*device.Device {
	out := make([]*device.Device, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.dev)
	}
	return out
}

// ForFamily returns the live devices of one family in adoption order.
func (s *Supervisor) ForFamily(f device.Family) []*device.Device {
	var out []*device.Device
	for _, e := range s.entries {
		if e.dev.Family() == f {
			out = append(out, e.dev)
		}
	}
	return out
}

// Tick runs every device's poll, then the reload policy sweep.
func (s *Supervisor) Tick(ctx context.Context, now int64) {
	for _, e := range s.entries {
		e.dev.Tick(now)
	}
	s.sweep(ctx)
}

// sweep applies the reload policy to each plugin. Unloaded plugins
// leave the registry at the sweep after their unload, not during it.
func (s *Supervisor) sweep(ctx context.Context) {
	var live []*entry
	for _, e := range s.entries {
		if e.dev.Status() == device.StatusUnload && e.cooldown == 0 {
			delete(s.byName, e.dev.Name())
			s.log.Warn().Str("device", e.dev.Name()).Msg("Plugin removed from registry")
			continue
		}
		s.sweepOne(ctx, e)
		live = append(live, e)
	}
	s.entries = live
}

func (s *Supervisor) sweepOne(ctx context.Context, e *entry) {
	switch {
	case e.cooldown > 0:
		e.cooldown--
		if e.cooldown == 0 {
			s.reload(ctx, e)
			e.cooldown = -s.stabilisation
		}
	case e.cooldown < 0:
		e.cooldown++
		if e.cooldown == 0 {
			e.credits = len(s.reloadTimes)
			s.log.Info().
				Str("device", e.dev.Name()).
				Msg("Plugin stable, reload credits restored")
		}
	}

	switch e.dev.Status() {
	case device.StatusCrashed:
		// cooldown > 0 means this crash is already scheduled.
		if e.cooldown > 0 {
			return
		}
		if e.credits <= 0 {
			e.cooldown = 0
			e.dev.ForceUnload()
			return
		}
		next := s.reloadTimes[len(s.reloadTimes)-e.credits]
		e.credits--
		e.cooldown = next
		s.log.Warn().
			Str("device", e.dev.Name()).
			Int("cooldown_frames", next).
			Int("credits_left", e.credits).
			Msg("Plugin crashed, reload scheduled")
	}
}

// reload re-reads the plugin's configuration and rebuilds its driver.
// A broken config file falls back to the last good settings.
func (s *Supervisor) reload(ctx context.Context, e *entry) {
	metrics.PluginReloads.WithLabelValues(e.dev.Name()).Inc()

	if e.configPath != "" {
		settings, err := LoadSettings(e.configPath)
		if err != nil {
			s.log.Error().
				Err(err).
				Str("device", e.dev.Name()).
				Str("path", e.configPath).
				Msg("Plugin config reload failed, keeping previous settings")
		} else {
			e.dev.Reconfigure(settings)
		}
	}

	if err := e.dev.Reset(ctx); err != nil {
		s.log.Error().Err(err).Str("device", e.dev.Name()).Msg("Plugin reload failed")
		return
	}
	s.log.Info().Str("device", e.dev.Name()).Msg("Plugin reloaded")
}
