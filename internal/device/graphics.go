// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// GraphicState is what a graphics device remembers per host layer.
type GraphicState struct {
	Graphic  string            `json:"graphic"`
	PlayStep int               `json:"play_step"`
	Data     map[string]string `json:"data,omitempty"`
}

// GraphicsDriver is the character generator command set. The driver
// keeps the host-layer map itself so state survives link drops.
type GraphicsDriver interface {
	Driver
	Add(graphic string, hostLayer int, data map[string]string) error
	Update(hostLayer int, data map[string]string) error
	PlayGraphic(hostLayer int) error
	Remove(hostLayer int) error

	// Layers returns the current host-layer map.
	Layers() map[int]GraphicState
}

// RunGraphicsEvent maps one playlist event onto the graphics command
// set. The host layer comes from the hostlayer key, with layer as an
// accepted alias; both spellings plus graphicname are stripped from
// the data payload before it reaches the template.
func RunGraphicsEvent(g GraphicsDriver, ev *playlist.Event) error {
	layer, err := eventHostLayer(ev)
	if err != nil {
		return err
	}
	data := graphicsPayload(ev.Extra)

	switch ev.Action {
	case ActionGraphicsAdd:
		name, _ := ev.ExtraValue(KeyGraphicName)
		if name == "" {
			return fmt.Errorf("graphics add: no %s in extra-data", KeyGraphicName)
		}
		return g.Add(name, layer, data)
	case ActionGraphicsUpdate:
		return g.Update(layer, data)
	case ActionGraphicsPlay:
		return g.PlayGraphic(layer)
	case ActionGraphicsRemove:
		return g.Remove(layer)
	default:
		return fmt.Errorf("graphics action %d unknown", ev.Action)
	}
}

func eventHostLayer(ev *playlist.Event) (int, error) {
	raw, ok := ev.ExtraValue(KeyHostLayer)
	if !ok {
		raw, _ = ev.ExtraValue(KeyLayerAlias)
	}
	if raw == "" {
		return 0, fmt.Errorf("graphics event %d: no host layer", ev.ID)
	}
	layer, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("graphics event %d: bad host layer %q", ev.ID, raw)
	}
	return layer, nil
}

// graphicsPayload copies extra-data minus the reserved keys.
func graphicsPayload(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	data := make(map[string]string, len(extra))
	for k, v := range extra {
		switch k {
		case KeyGraphicName, KeyHostLayer, KeyLayerAlias:
			continue
		}
		data[k] = v
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// lineGraphics drives a character generator over the line protocol:
//
//	→ ADD <layer> <graphic> <urlencoded-data>
//	→ UPDATE <layer> <urlencoded-data>
//	→ PLAY <layer>
//	→ REMOVE <layer>
//	→ PING
//	← PONG
//	← ERR <message>
//
// The layer map is resent opportunistically after reconnects so the
// renderer converges on the same picture.
type lineGraphics struct {
	name         string
	conn         *Conn
	replyTimeout time.Duration
	log          zerolog.Logger

	layers       map[int]GraphicState
	wasConnected bool
}

func newLineGraphics(s Settings) (Driver, error) {
	if s.Address == "" {
		return nil, fmt.Errorf("graphics line driver requires an address")
	}
	timeout := s.ReplyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lineGraphics{
		name:         s.Name,
		conn:         NewConn(s.Name, s.Address),
		replyTimeout: timeout,
		log:          logging.With().Str("device", s.Name).Logger(),
		layers:       make(map[int]GraphicState),
	}, nil
}

func (g *lineGraphics) Start(ctx context.Context) error {
	g.conn.Start(ctx)
	return nil
}

func (g *lineGraphics) Stop() {
	g.conn.Stop()
}

func (g *lineGraphics) Poll(now int64) {
	for {
		select {
		case line := <-g.conn.Lines():
			if len(line) >= 3 && line[:3] == "ERR" {
				g.log.Error().Str("line", line).Msg("Device reported error")
			}
			continue
		default:
		}
		break
	}

	// On reconnect, replay the layer map.
	connected := g.conn.Connected()
	if connected && !g.wasConnected && len(g.layers) > 0 {
		g.replayLayers()
	}
	g.wasConnected = connected
}

func (g *lineGraphics) replayLayers() {
	g.log.Info().Int("layers", len(g.layers)).Msg("Replaying graphics state after reconnect")
	for layer, st := range g.layers {
		if err := g.sendAdd(layer, st.Graphic, st.Data); err != nil {
			return
		}
		for i := 0; i < st.PlayStep; i++ {
			if err := g.conn.Send(fmt.Sprintf("PLAY %d", layer)); err != nil {
				return
			}
		}
	}
}

func (g *lineGraphics) UpdateHardwareStatus() error {
	healthy := g.conn.Connected() &&
		g.conn.LastReceived() > 0 &&
		time.Since(time.Unix(g.conn.LastReceived(), 0)) <= g.replyTimeout

	if err := g.conn.Send("PING"); err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("graphics device %q: no reply within %s", g.name, g.replyTimeout)
	}
	return nil
}

func (g *lineGraphics) RunEvent(ev *playlist.Event) error {
	return RunGraphicsEvent(g, ev)
}

func (g *lineGraphics) Add(graphic string, hostLayer int, data map[string]string) error {
	if err := g.sendAdd(hostLayer, graphic, data); err != nil {
		return err
	}
	g.layers[hostLayer] = GraphicState{Graphic: graphic, Data: data}
	return nil
}

func (g *lineGraphics) sendAdd(hostLayer int, graphic string, data map[string]string) error {
	return g.conn.Send(fmt.Sprintf("ADD %d %s %s", hostLayer, graphic, encodeData(data)))
}

func (g *lineGraphics) Update(hostLayer int, data map[string]string) error {
	st, ok := g.layers[hostLayer]
	if !ok {
		return fmt.Errorf("graphics device %q: no graphic on layer %d", g.name, hostLayer)
	}
	if err := g.conn.Send(fmt.Sprintf("UPDATE %d %s", hostLayer, encodeData(data))); err != nil {
		return err
	}
	st.Data = data
	g.layers[hostLayer] = st
	return nil
}

func (g *lineGraphics) PlayGraphic(hostLayer int) error {
	st, ok := g.layers[hostLayer]
	if !ok {
		return fmt.Errorf("graphics device %q: no graphic on layer %d", g.name, hostLayer)
	}
	if err := g.conn.Send(fmt.Sprintf("PLAY %d", hostLayer)); err != nil {
		return err
	}
	st.PlayStep++
	g.layers[hostLayer] = st
	return nil
}

func (g *lineGraphics) Remove(hostLayer int) error {
	if err := g.conn.Send(fmt.Sprintf("REMOVE %d", hostLayer)); err != nil {
		return err
	}
	delete(g.layers, hostLayer)
	return nil
}

func (g *lineGraphics) Layers() map[int]GraphicState {
	return g.layers
}

// encodeData renders a data map as application/x-www-form-urlencoded,
// which keeps the wire format single-line whatever the values hold.
func encodeData(data map[string]string) string {
	if len(data) == 0 {
		return "-"
	}
	values := make(url.Values, len(data))
	for k, v := range data {
		values.Set(k, v)
	}
	return values.Encode()
}

func init() {
	Register(FamilyGraphics, "line", newLineGraphics)
}
