// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// The demo drivers simulate their hardware entirely in memory. They
// back fresh installs, rehearsal configurations, and most of the test
// suite: transport state, layer maps, and routes behave like the real
// families with no device on the other end.

type demoVideo struct {
	log       zerolog.Logger
	state     VideoState
	current   string
	loaded    string
	remaining int
	catalogue map[string]FileInfo
}

func newDemoVideo(s Settings) (Driver, error) {
	return &demoVideo{
		log:       logging.With().Str("device", s.Name).Logger(),
		catalogue: make(map[string]FileInfo),
	}, nil
}

func (v *demoVideo) Start(ctx context.Context) error { return nil }
func (v *demoVideo) Stop()                           {}
func (v *demoVideo) UpdateHardwareStatus() error     { return nil }

func (v *demoVideo) Poll(now int64) {
	if v.state == VideoPlaying && v.remaining > 0 {
		v.remaining--
		if v.remaining == 0 {
			v.state = VideoStopped
			v.current = ""
		}
	}
}

func (v *demoVideo) RunEvent(ev *playlist.Event) error {
	return RunVideoEvent(v, ev)
}

func (v *demoVideo) Play(filename string) error {
	if err := v.Load(filename); err != nil {
		return err
	}
	if v.state == VideoMissing {
		return nil
	}
	return v.PlayLoaded()
}

func (v *demoVideo) Load(filename string) error {
	if len(v.catalogue) > 0 {
		if _, ok := v.catalogue[filename]; !ok {
			v.log.Warn().Str("filename", filename).Msg("File not in catalogue")
			v.state = VideoMissing
			v.current = filename
			v.remaining = 0
			return nil
		}
	}
	v.loaded = filename
	if v.state == VideoMissing {
		v.state = VideoStopped
	}
	return nil
}

func (v *demoVideo) PlayLoaded() error {
	if v.loaded == "" {
		return fmt.Errorf("demo video: nothing loaded")
	}
	v.state = VideoPlaying
	v.current = v.loaded
	v.remaining = 0
	if info, ok := v.catalogue[v.loaded]; ok {
		v.remaining = info.DurationFrames
	}
	v.loaded = ""
	v.log.Debug().Str("filename", v.current).Msg("Demo video playing")
	return nil
}

func (v *demoVideo) StopPlayback() error {
	v.state = VideoStopped
	v.current = ""
	v.remaining = 0
	return nil
}

func (v *demoVideo) VideoState() (VideoState, string, int) {
	return v.state, v.current, v.remaining
}

func (v *demoVideo) Catalogue() map[string]FileInfo         { return v.catalogue }
func (v *demoVideo) SetCatalogue(files map[string]FileInfo) { v.catalogue = files }

type demoGraphics struct {
	log    zerolog.Logger
	layers map[int]GraphicState
}

func newDemoGraphics(s Settings) (Driver, error) {
	return &demoGraphics{
		log:    logging.With().Str("device", s.Name).Logger(),
		layers: make(map[int]GraphicState),
	}, nil
}

func (g *demoGraphics) Start(ctx context.Context) error { return nil }
func (g *demoGraphics) Stop()                           {}
func (g *demoGraphics) Poll(now int64)                  {}
func (g *demoGraphics) UpdateHardwareStatus() error     { return nil }

func (g *demoGraphics) RunEvent(ev *playlist.Event) error {
	return RunGraphicsEvent(g, ev)
}

func (g *demoGraphics) Add(graphic string, hostLayer int, data map[string]string) error {
	g.layers[hostLayer] = GraphicState{Graphic: graphic, Data: data}
	return nil
}

func (g *demoGraphics) Update(hostLayer int, data map[string]string) error {
	st, ok := g.layers[hostLayer]
	if !ok {
		return fmt.Errorf("demo graphics: no graphic on layer %d", hostLayer)
	}
	st.Data = data
	g.layers[hostLayer] = st
	return nil
}

func (g *demoGraphics) PlayGraphic(hostLayer int) error {
	st, ok := g.layers[hostLayer]
	if !ok {
		return fmt.Errorf("demo graphics: no graphic on layer %d", hostLayer)
	}
	st.PlayStep++
	g.layers[hostLayer] = st
	return nil
}

func (g *demoGraphics) Remove(hostLayer int) error {
	delete(g.layers, hostLayer)
	return nil
}

func (g *demoGraphics) Layers() map[int]GraphicState { return g.layers }

type demoCrosspoint struct {
	log     zerolog.Logger
	inputs  map[string]Port
	outputs map[string]Port
	routes  map[string]string
}

func newDemoCrosspoint(s Settings) (Driver, error) {
	if len(s.Inputs) == 0 || len(s.Outputs) == 0 {
		return nil, fmt.Errorf("crosspoint %q: inputs and outputs must be configured", s.Name)
	}
	return &demoCrosspoint{
		log:     logging.With().Str("device", s.Name).Logger(),
		inputs:  s.Inputs,
		outputs: s.Outputs,
		routes:  make(map[string]string),
	}, nil
}

func (c *demoCrosspoint) Start(ctx context.Context) error { return nil }
func (c *demoCrosspoint) Stop()                           {}
func (c *demoCrosspoint) Poll(now int64)                  {}
func (c *demoCrosspoint) UpdateHardwareStatus() error     { return nil }

func (c *demoCrosspoint) RunEvent(ev *playlist.Event) error {
	return RunCrosspointEvent(c, ev)
}

func (c *demoCrosspoint) Switch(output, input string) error {
	if _, ok := c.outputs[output]; !ok {
		return fmt.Errorf("demo crosspoint: unknown output %q", output)
	}
	if _, ok := c.inputs[input]; !ok {
		return fmt.Errorf("demo crosspoint: unknown input %q", input)
	}
	c.routes[output] = input
	c.log.Debug().Str("output", output).Str("input", input).Msg("Demo crosspoint switched")
	return nil
}

func (c *demoCrosspoint) Inputs() map[string]Port   { return c.inputs }
func (c *demoCrosspoint) Outputs() map[string]Port  { return c.outputs }
func (c *demoCrosspoint) Routes() map[string]string { return c.routes }

func init() {
	Register(FamilyVideo, "demo", newDemoVideo)
	Register(FamilyGraphics, "demo", newDemoGraphics)
	Register(FamilyCrosspoint, "demo", newDemoCrosspoint)
}
