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

// NowNextConfig layers a repeating now/next graphic over long shows.
type NowNextConfig struct {
	Enabled bool `koanf:"enabled"`

	// PairProcessor names the graphic pair processor that renders each
	// occurrence.
	PairProcessor string `koanf:"pair_processor"`

	// Graphic and Layer pass through to the pair.
	Graphic string `koanf:"graphic"`
	Layer   int    `koanf:"layer"`

	// ThresholdSeconds gates the sequence: shows at or under it get no
	// now/next. PeriodSeconds spaces occurrences; OnAirSeconds is how
	// long each stays up.
	ThresholdSeconds float64 `koanf:"threshold_seconds"`
	PeriodSeconds    float64 `koanf:"period_seconds"`
	OnAirSeconds     float64 `koanf:"on_air_seconds"`
}

// ShowConfig configures a show wrapper processor.
type ShowConfig struct {
	// VideoDevice plays the show file.
	VideoDevice string `koanf:"video_device"`

	// FillProcessor and FillSeconds prepend a continuity fill. An empty
	// processor name or zero length disables it.
	FillProcessor string  `koanf:"fill_processor"`
	FillSeconds   float64 `koanf:"fill_seconds"`

	NowNext NowNextConfig `koanf:"nownext"`
}

// Show wraps a plain file event into a full programme block: an
// optional continuity fill leader, the video play, and a now/next
// sequence over long shows.
type Show struct {
	cfg  ShowConfig
	rate clock.Rate
}

// NewShow validates the config and returns the processor.
func NewShow(cfg ShowConfig, rate clock.Rate) (*Show, error) {
	if cfg.VideoDevice == "" {
		return nil, fmt.Errorf("show: no video device configured")
	}
	if cfg.NowNext.Enabled {
		if cfg.NowNext.PairProcessor == "" || cfg.NowNext.Graphic == "" {
			return nil, fmt.Errorf("show: now/next enabled without pair processor and graphic")
		}
		if cfg.NowNext.PeriodSeconds <= 0 || cfg.NowNext.OnAirSeconds <= 0 {
			return nil, fmt.Errorf("show: now/next needs positive period and on-air seconds")
		}
	}
	return &Show{cfg: cfg, rate: rate}, nil
}

// Handle expands {filename, duration} into the programme block.
func (p *Show) Handle(input, result *mousecatcher.Event) error {
	filename, ok := input.ExtraValue(device.KeyFilename)
	if !ok || filename == "" {
		return fmt.Errorf("no %s in extra data", device.KeyFilename)
	}
	if input.Duration <= 0 {
		return fmt.Errorf("show %s has no duration", filename)
	}

	result.Type = input.Type
	result.Trigger = input.Trigger
	result.Device = input.Device
	result.Duration = p.cfg.FillSeconds + input.Duration
	result.Description = input.Description
	if result.Description == "" {
		result.Description = filename
	}

	var playOffset int64
	if p.cfg.FillProcessor != "" && p.cfg.FillSeconds > 0 {
		result.Children = append(result.Children, &mousecatcher.Event{
			Type:        playlist.Child,
			Trigger:     0,
			Device:      p.cfg.FillProcessor,
			Duration:    p.cfg.FillSeconds,
			Description: result.Description + " leader",
		})
		playOffset = endSeconds(p.rate, p.cfg.FillSeconds)
	}

	result.Children = append(result.Children, &mousecatcher.Event{
		Type:        playlist.Child,
		Trigger:     playOffset,
		Device:      p.cfg.VideoDevice,
		Action:      device.ActionVideoPlay,
		Duration:    input.Duration,
		Description: result.Description,
		Extra:       map[string]string{device.KeyFilename: filename},
	})

	result.Children = append(result.Children,
		p.nowNext(playOffset, input.Duration, result.Description)...)
	return nil
}

// nowNext emits one pair invocation per period while the occurrence
// still finishes inside the show.
func (p *Show) nowNext(playOffset int64, duration float64, description string) []*mousecatcher.Event {
	nn := p.cfg.NowNext
	if !nn.Enabled || duration <= nn.ThresholdSeconds {
		return nil
	}

	period := endSeconds(p.rate, nn.PeriodSeconds)
	onAir := endSeconds(p.rate, nn.OnAirSeconds)
	end := endSeconds(p.rate, duration)

	var out []*mousecatcher.Event
	for at := period; at+onAir <= end; at += period {
		out = append(out, &mousecatcher.Event{
			Type:        playlist.Child,
			Trigger:     playOffset + at,
			Device:      nn.PairProcessor,
			Duration:    nn.OnAirSeconds,
			Description: "now/next",
			Extra: map[string]string{
				device.KeyGraphicName: nn.Graphic,
				device.KeyHostLayer:   strconv.Itoa(nn.Layer),
				"now":                 description,
			},
		})
	}
	return out
}
