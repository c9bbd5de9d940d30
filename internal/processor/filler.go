// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/asrun"
	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/jobs"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// KeyPlaceholder tags a filler placeholder row with the token its
// selection job uses to find it again at completion.
const KeyPlaceholder = "placeholderid"

// KeyBlacklist carries caller-supplied item ids the filler must not
// pick, comma-separated.
const KeyBlacklist = "blacklist"

// SlotConfig is one (type, device) step of the filler walk.
type SlotConfig struct {
	Type   string `koanf:"type"`
	Device string `koanf:"device"`
}

// ContinuityConfig pads residual fill time with a static graphic.
type ContinuityConfig struct {
	Device  string `koanf:"device"`
	Graphic string `koanf:"graphic"`
	Layer   int    `koanf:"layer"`
}

// FillerConfig configures a schedule filler processor.
type FillerConfig struct {
	Slots []SlotConfig `koanf:"slots"`

	// Brackets and FileWeightFactor shape the selection score.
	Brackets         []asrun.Bracket `koanf:"brackets"`
	FileWeightFactor float64         `koanf:"file_weight_factor"`

	// ResidualFromLast keeps picking from the final slot until nothing
	// fits the remaining time.
	ResidualFromLast bool `koanf:"residual_from_last"`

	Continuity ContinuityConfig `koanf:"continuity"`

	// JobPriority orders the selection job against other async work.
	JobPriority int `koanf:"job_priority"`
}

// Filler fills a requested duration with inventory items. Handle only
// plants a placeholder row and queues the selection as an async job, so
// the scoring query never runs on the tick thread; the job's completion
// phase inserts the chosen items as children of the placeholder.
type Filler struct {
	name     string
	cfg      FillerConfig
	rate     clock.Rate
	db       *asrun.DB
	runner   *jobs.Runner
	channels ChannelResolver
	log      zerolog.Logger
}

// NewFiller validates config and wiring and returns the processor.
func NewFiller(name string, cfg FillerConfig, deps Deps) (*Filler, error) {
	if len(cfg.Slots) == 0 {
		return nil, fmt.Errorf("filler: no slots configured")
	}
	for i, s := range cfg.Slots {
		if s.Type == "" || s.Device == "" {
			return nil, fmt.Errorf("filler: slot %d needs type and device", i)
		}
	}
	if len(cfg.Brackets) == 0 {
		return nil, fmt.Errorf("filler: no score brackets configured")
	}
	for i, b := range cfg.Brackets {
		if b.To > 0 && b.To <= b.From {
			return nil, fmt.Errorf("filler: bracket %d is empty", i)
		}
	}
	if deps.DB == nil || deps.Jobs == nil || deps.Channels == nil {
		return nil, fmt.Errorf("filler: database, job runner and channel resolver required")
	}
	if cfg.JobPriority == 0 {
		cfg.JobPriority = 5
	}
	return &Filler{
		name:     name,
		cfg:      cfg,
		rate:     deps.Rate,
		db:       deps.DB,
		runner:   deps.Jobs,
		channels: deps.Channels,
		log:      logging.With().Str("component", "filler").Str("processor", name).Logger(),
	}, nil
}

type fillerPick struct {
	item    asrun.Item
	trigger int64
}

type fillerPayload struct {
	channel   string
	token     string
	blacklist []int64

	// Set by the worker for the completion phase.
	parent    int
	picks     []fillerPick
	padStart  int64
	padEnd    int64
	padFrames int
}

// Handle plants the placeholder and queues the selection job.
func (p *Filler) Handle(input, result *mousecatcher.Event) error {
	if input.Duration <= 0 {
		return fmt.Errorf("fill has no duration")
	}
	blacklist, err := parseBlacklist(input)
	if err != nil {
		return err
	}

	token := uuid.NewString()
	result.Type = input.Type
	result.Trigger = input.Trigger
	result.Device = input.Device
	result.Duration = input.Duration
	result.Description = input.Description
	if result.Description == "" {
		result.Description = "schedule fill"
	}
	result.SetExtra(KeyPlaceholder, token)

	_, err = p.runner.Submit(jobs.Job{
		Work:        p.work,
		Complete:    p.complete,
		Payload:     &fillerPayload{channel: input.Channel, token: token, blacklist: blacklist},
		Priority:    p.cfg.JobPriority,
		Description: "fill " + input.Channel + " " + token[:8],
	})
	if err != nil {
		return fmt.Errorf("queue selection job: %w", err)
	}
	return nil
}

func parseBlacklist(input *mousecatcher.Event) ([]int64, error) {
	raw, ok := input.ExtraValue(KeyBlacklist)
	if !ok || raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad blacklist entry %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

// work runs on the async worker. It takes the engine mutex only long
// enough to locate the placeholder row, then walks the slots against
// the inventory without blocking the tick.
func (p *Filler) work(ctx context.Context, payload any, guard jobs.Guard) error {
	pl := payload.(*fillerPayload)

	if err := guard.Lock(ctx); err != nil {
		return err
	}
	row, ok := p.findPlaceholder(pl.channel, pl.token)
	guard.Unlock()
	if !ok {
		return fmt.Errorf("placeholder %s gone from %s", pl.token, pl.channel)
	}

	pl.parent = row.ID
	base := row.Trigger
	remaining := row.Duration
	cursor := base
	blacklist := append([]int64(nil), pl.blacklist...)
	now := time.Unix(base, 0)

	pick := func(slot SlotConfig) (bool, error) {
		it, ok, err := p.db.PickItem(ctx, asrun.PickRequest{
			Type:              slot.Type,
			Device:            slot.Device,
			MaxDurationFrames: remaining,
			Blacklist:         blacklist,
			Now:               now,
			Brackets:          p.cfg.Brackets,
			FileWeightFactor:  p.cfg.FileWeightFactor,
		})
		if err != nil || !ok {
			return false, err
		}
		if err := p.db.RecordPlay(ctx, it.ID, now); err != nil {
			return false, err
		}
		pl.picks = append(pl.picks, fillerPick{item: it, trigger: cursor})
		cursor = p.rate.EndTime(cursor, it.DurationFrames)
		remaining -= it.DurationFrames
		blacklist = append(blacklist, it.ID)
		return true, nil
	}

	for _, slot := range p.cfg.Slots {
		if remaining <= 0 {
			break
		}
		if _, err := pick(slot); err != nil {
			return err
		}
	}
	if p.cfg.ResidualFromLast {
		last := p.cfg.Slots[len(p.cfg.Slots)-1]
		for remaining > 0 {
			ok, err := pick(last)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
	}

	pl.padStart = cursor
	pl.padEnd = p.rate.EndTime(base, row.Duration)
	pl.padFrames = remaining
	return nil
}

// complete runs on the tick thread under the engine mutex. It inserts
// the picks as children of the placeholder, padding any residue with
// the continuity graphic.
func (p *Filler) complete(payload any) {
	pl := payload.(*fillerPayload)

	st, ok := p.channels.Channel(pl.channel)
	if !ok {
		p.log.Error().Str("channel", pl.channel).Msg("Fill channel gone")
		return
	}
	row, ok := p.findPlaceholder(pl.channel, pl.token)
	if !ok || row.ID != pl.parent {
		p.log.Warn().Str("token", pl.token).Msg("Fill placeholder removed before completion")
		return
	}

	now := time.Now().Unix()
	for _, pick := range pl.picks {
		_, err := st.Add(playlist.Event{
			Type:        playlist.Child,
			Trigger:     pick.trigger,
			Device:      pick.item.Device,
			Target:      playlist.TargetVideo,
			Action:      device.ActionVideoPlay,
			Duration:    pick.item.DurationFrames,
			Parent:      pl.parent,
			Description: "fill: " + pick.item.File,
			Extra:       map[string]string{device.KeyFilename: pick.item.File},
		}, now)
		if err != nil {
			p.log.Error().Err(err).Str("file", pick.item.File).Msg("Fill insert failed")
			return
		}
	}
	p.pad(st, pl, now)

	p.log.Info().
		Str("channel", pl.channel).
		Int("parent", pl.parent).
		Int("picks", len(pl.picks)).
		Int("pad_frames", pl.padFrames).
		Msg("Fill completed")
}

// pad covers [padStart, padEnd) with the continuity graphic when
// configured and at least a second is left.
func (p *Filler) pad(st *playlist.Store, pl *fillerPayload, now int64) {
	cont := p.cfg.Continuity
	if cont.Device == "" || cont.Graphic == "" || pl.padEnd-pl.padStart < 1 {
		return
	}

	layer := strconv.Itoa(cont.Layer)
	up := playlist.Event{
		Type:        playlist.Child,
		Trigger:     pl.padStart,
		Device:      cont.Device,
		Target:      playlist.TargetGraphics,
		Action:      device.ActionGraphicsAdd,
		Duration:    pl.padFrames,
		Parent:      pl.parent,
		Description: "continuity",
		Extra: map[string]string{
			device.KeyGraphicName: cont.Graphic,
			device.KeyHostLayer:   layer,
		},
	}
	down := playlist.Event{
		Type:        playlist.Child,
		Trigger:     pl.padEnd,
		Device:      cont.Device,
		Target:      playlist.TargetGraphics,
		Action:      device.ActionGraphicsRemove,
		Parent:      pl.parent,
		Description: "continuity down",
		Extra: map[string]string{
			device.KeyGraphicName: cont.Graphic,
			device.KeyHostLayer:   layer,
		},
	}
	for _, ev := range []playlist.Event{up, down} {
		if _, err := st.Add(ev, now); err != nil {
			p.log.Error().Err(err).Msg("Continuity insert failed")
			return
		}
	}
}

func (p *Filler) findPlaceholder(channel, token string) (playlist.Event, bool) {
	st, ok := p.channels.Channel(channel)
	if !ok {
		return playlist.Event{}, false
	}
	for _, ev := range st.All() {
		if v, ok := ev.ExtraValue(KeyPlaceholder); ok && v == token {
			return ev, true
		}
	}
	return playlist.Event{}, false
}
