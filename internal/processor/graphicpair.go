// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package processor

import (
	"fmt"
	"strconv"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// GraphicPairConfig configures a graphic pair processor.
type GraphicPairConfig struct {
	// Device is the graphics device the pair runs on.
	Device string `koanf:"device"`

	// DefaultLayer is used when the event names no host layer.
	DefaultLayer int `koanf:"default_layer"`
}

// GraphicPair expands one event into an add/remove pair on a graphics
// device: the graphic goes up at the event's trigger and comes down
// after its duration.
type GraphicPair struct {
	cfg  GraphicPairConfig
	rate clock.Rate
}

// NewGraphicPair validates the config and returns the processor.
func NewGraphicPair(cfg GraphicPairConfig, rate clock.Rate) (*GraphicPair, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("graphic pair: no graphics device configured")
	}
	if cfg.DefaultLayer < 0 {
		return nil, fmt.Errorf("graphic pair: negative default layer %d", cfg.DefaultLayer)
	}
	return &GraphicPair{cfg: cfg, rate: rate}, nil
}

// Handle fills result with the placeholder parent and its add/remove
// children. The input's extra data rides along on the add so template
// fields reach the renderer.
func (p *GraphicPair) Handle(input, result *mousecatcher.Event) error {
	graphic, ok := input.ExtraValue(device.KeyGraphicName)
	if !ok || graphic == "" {
		return fmt.Errorf("no %s in extra data", device.KeyGraphicName)
	}
	layer, ok := input.ExtraValue(device.KeyHostLayer)
	if !ok {
		layer, ok = input.ExtraValue(device.KeyLayerAlias)
	}
	if !ok || layer == "" {
		layer = strconv.Itoa(p.cfg.DefaultLayer)
	}

	result.Type = input.Type
	result.Trigger = input.Trigger
	result.Device = input.Device
	result.Duration = input.Duration
	result.Description = input.Description
	if result.Description == "" {
		result.Description = "graphic " + graphic
	}

	addExtra := make(map[string]string, len(input.Extra)+1)
	for k, v := range input.Extra {
		addExtra[k] = v
	}
	addExtra[device.KeyHostLayer] = layer

	result.Children = []*mousecatcher.Event{
		{
			Type:        playlist.Child,
			Trigger:     0,
			Device:      p.cfg.Device,
			Action:      device.ActionGraphicsAdd,
			Description: result.Description + " up",
			Extra:       addExtra,
		},
		{
			Type:        playlist.Child,
			Trigger:     endSeconds(p.rate, input.Duration),
			Device:      p.cfg.Device,
			Action:      device.ActionGraphicsRemove,
			Description: result.Description + " down",
			Extra: map[string]string{
				device.KeyGraphicName: graphic,
				device.KeyHostLayer:   layer,
			},
		},
	}
	return nil
}
