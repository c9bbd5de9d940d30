// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package processor

import (
	"fmt"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// LiveShowConfig configures a live show wrapper processor.
type LiveShowConfig struct {
	// VideoDevice plays the countdown clock and is stopped on release.
	VideoDevice string `koanf:"video_device"`

	// ClockFile is the VT clock played while the hold waits for the
	// director's cue; ClockSeconds bounds its runtime.
	ClockFile    string  `koanf:"clock_file"`
	ClockSeconds float64 `koanf:"clock_seconds"`

	// FillProcessor and FillSeconds prepend a continuity fill, as in
	// the show wrapper.
	FillProcessor string  `koanf:"fill_processor"`
	FillSeconds   float64 `koanf:"fill_seconds"`

	// ReleasePreProcessor is invoked when the hold is triggered.
	ReleasePreProcessor string `koanf:"release_preprocessor"`
}

// LiveShow wraps a live insert: instead of a file play, the block
// centres on a manual hold that parks the channel on a countdown clock
// until an operator triggers it. The release pre-processor then stops
// the clock, re-times the day and cuts the router to the live input.
type LiveShow struct {
	cfg  LiveShowConfig
	rate clock.Rate
}

// NewLiveShow validates the config and returns the processor.
func NewLiveShow(cfg LiveShowConfig, rate clock.Rate) (*LiveShow, error) {
	if cfg.VideoDevice == "" {
		return nil, fmt.Errorf("live show: no video device configured")
	}
	if cfg.ClockFile == "" {
		return nil, fmt.Errorf("live show: no clock file configured")
	}
	if cfg.ClockSeconds <= 0 {
		cfg.ClockSeconds = 60
	}
	if cfg.ReleasePreProcessor == "" {
		cfg.ReleasePreProcessor = "manual-hold-release"
	}
	return &LiveShow{cfg: cfg, rate: rate}, nil
}

// Handle expands a live event into leader fill, hold and clock. The
// input must name the router input carrying the live feed.
func (p *LiveShow) Handle(input, result *mousecatcher.Event) error {
	feed, ok := input.ExtraValue(device.KeySwitchChannel)
	if !ok || feed == "" {
		return fmt.Errorf("no %s in extra data", device.KeySwitchChannel)
	}
	if input.Duration <= 0 {
		return fmt.Errorf("live show from %s has no duration", feed)
	}

	result.Type = input.Type
	result.Trigger = input.Trigger
	result.Device = input.Device
	result.Duration = p.cfg.FillSeconds + input.Duration
	result.Description = input.Description
	if result.Description == "" {
		result.Description = "live: " + feed
	}

	var holdOffset int64
	if p.cfg.FillProcessor != "" && p.cfg.FillSeconds > 0 {
		result.Children = append(result.Children, &mousecatcher.Event{
			Type:        playlist.Child,
			Trigger:     0,
			Device:      p.cfg.FillProcessor,
			Duration:    p.cfg.FillSeconds,
			Description: result.Description + " leader",
		})
		holdOffset = endSeconds(p.rate, p.cfg.FillSeconds)
	}

	// The hold parks everything except its own children. Its dispatch,
	// on release, stops the clock; the release pre-processor inserts
	// the router cut.
	hold := &mousecatcher.Event{
		Type:         playlist.Manual,
		Trigger:      holdOffset,
		Device:       p.cfg.VideoDevice,
		Action:       device.ActionVideoStop,
		Duration:     input.Duration,
		Description:  result.Description,
		PreProcessor: p.cfg.ReleasePreProcessor,
		Extra:        map[string]string{device.KeySwitchChannel: feed},
		Children: []*mousecatcher.Event{
			{
				Type:        playlist.Child,
				Trigger:     0,
				Device:      p.cfg.VideoDevice,
				Action:      device.ActionVideoPlay,
				Duration:    p.cfg.ClockSeconds,
				Description: "countdown clock",
				Extra:       map[string]string{device.KeyFilename: p.cfg.ClockFile},
			},
		},
	}
	result.Children = append(result.Children, hold)
	return nil
}
