// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// CrosspointDriver is the router command set. Inputs and outputs are
// named port pairs from the device settings; Switch routes by name.
type CrosspointDriver interface {
	Driver
	Switch(output, input string) error
	Inputs() map[string]Port
	Outputs() map[string]Port

	// Routes is the current output-to-input map.
	Routes() map[string]string
}

// RunCrosspointEvent maps one playlist event onto the router command
// set.
func RunCrosspointEvent(c CrosspointDriver, ev *playlist.Event) error {
	switch ev.Action {
	case ActionCrosspointSwitch:
		output, _ := ev.ExtraValue(KeyOutput)
		input, _ := ev.ExtraValue(KeyInput)
		if output == "" || input == "" {
			return fmt.Errorf("crosspoint switch: needs %s and %s in extra-data", KeyOutput, KeyInput)
		}
		return c.Switch(output, input)
	default:
		return fmt.Errorf("crosspoint action %d unknown", ev.Action)
	}
}

// lineCrosspoint drives a router over the line protocol, one take per
// signal level:
//
//	→ ROUTE V <output-port> <input-port>
//	→ ROUTE A <output-port> <input-port>
//	→ PING
//	← PONG
//	← ERR <message>
type lineCrosspoint struct {
	name         string
	conn         *Conn
	replyTimeout time.Duration
	log          zerolog.Logger

	inputs  map[string]Port
	outputs map[string]Port
	routes  map[string]string
}

func newLineCrosspoint(s Settings) (Driver, error) {
	if s.Address == "" {
		return nil, fmt.Errorf("crosspoint line driver requires an address")
	}
	if len(s.Inputs) == 0 || len(s.Outputs) == 0 {
		return nil, fmt.Errorf("crosspoint %q: inputs and outputs must be configured", s.Name)
	}
	timeout := s.ReplyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lineCrosspoint{
		name:         s.Name,
		conn:         NewConn(s.Name, s.Address),
		replyTimeout: timeout,
		log:          logging.With().Str("device", s.Name).Logger(),
		inputs:       s.Inputs,
		outputs:      s.Outputs,
		routes:       make(map[string]string),
	}, nil
}

func (c *lineCrosspoint) Start(ctx context.Context) error {
	c.conn.Start(ctx)
	return nil
}

func (c *lineCrosspoint) Stop() {
	c.conn.Stop()
}

func (c *lineCrosspoint) Poll(now int64) {
	for {
		select {
		case line := <-c.conn.Lines():
			if len(line) >= 3 && line[:3] == "ERR" {
				c.log.Error().Str("line", line).Msg("Device reported error")
			}
			continue
		default:
		}
		break
	}
}

func (c *lineCrosspoint) UpdateHardwareStatus() error {
	healthy := c.conn.Connected() &&
		c.conn.LastReceived() > 0 &&
		time.Since(time.Unix(c.conn.LastReceived(), 0)) <= c.replyTimeout

	if err := c.conn.Send("PING"); err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("crosspoint device %q: no reply within %s", c.name, c.replyTimeout)
	}
	return nil
}

func (c *lineCrosspoint) RunEvent(ev *playlist.Event) error {
	return RunCrosspointEvent(c, ev)
}

func (c *lineCrosspoint) Switch(output, input string) error {
	out, ok := c.outputs[output]
	if !ok {
		return fmt.Errorf("crosspoint %q: unknown output %q", c.name, output)
	}
	in, ok := c.inputs[input]
	if !ok {
		return fmt.Errorf("crosspoint %q: unknown input %q", c.name, input)
	}

	if err := c.conn.Send(fmt.Sprintf("ROUTE V %d %d", out.Video, in.Video)); err != nil {
		return err
	}
	if err := c.conn.Send(fmt.Sprintf("ROUTE A %d %d", out.Audio, in.Audio)); err != nil {
		return err
	}
	c.routes[output] = input
	c.log.Info().Str("output", output).Str("input", input).Msg("Crosspoint switched")
	return nil
}

func (c *lineCrosspoint) Inputs() map[string]Port   { return c.inputs }
func (c *lineCrosspoint) Outputs() map[string]Port  { return c.outputs }
func (c *lineCrosspoint) Routes() map[string]string { return c.routes }

func init() {
	Register(FamilyCrosspoint, "line", newLineCrosspoint)
}
