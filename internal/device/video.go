// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/jobs"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/playlist"
)

// VideoState is the transport state a video device reports.
type VideoState int

const (
	VideoStopped VideoState = iota
	VideoPlaying
	VideoMissing
	VideoFail
)

func (s VideoState) String() string {
	switch s {
	case VideoStopped:
		return "stopped"
	case VideoPlaying:
		return "playing"
	case VideoMissing:
		return "missing"
	case VideoFail:
		return "fail"
	default:
		return fmt.Sprintf("videostate(%d)", int(s))
	}
}

func parseVideoState(s string) (VideoState, bool) {
	switch s {
	case "stopped":
		return VideoStopped, true
	case "playing":
		return VideoPlaying, true
	case "missing":
		return VideoMissing, true
	case "fail":
		return VideoFail, true
	default:
		return 0, false
	}
}

// FileInfo describes one clip in a video device's catalogue.
type FileInfo struct {
	Path           string `json:"path"`
	DurationFrames int    `json:"duration_frames"`
	Size           int64  `json:"size"`
}

// VideoDriver is the video family command set. Play is the composite
// load-then-play unless the driver overrides it.
type VideoDriver interface {
	Driver
	Play(filename string) error
	Load(filename string) error
	PlayLoaded() error
	StopPlayback() error

	// VideoState reports (transport state, current filename, remaining
	// frames).
	VideoState() (VideoState, string, int)

	Catalogue() map[string]FileInfo
	SetCatalogue(files map[string]FileInfo)
}

// RunVideoEvent maps one playlist event onto the video command set.
func RunVideoEvent(v VideoDriver, ev *playlist.Event) error {
	switch ev.Action {
	case ActionVideoPlay:
		name, _ := ev.ExtraValue(KeyFilename)
		if name == "" {
			return fmt.Errorf("video play: no %s in extra-data", KeyFilename)
		}
		return v.Play(name)
	case ActionVideoLoad:
		name, _ := ev.ExtraValue(KeyFilename)
		if name == "" {
			return fmt.Errorf("video load: no %s in extra-data", KeyFilename)
		}
		return v.Load(name)
	case ActionVideoPlayLoaded:
		return v.PlayLoaded()
	case ActionVideoStop:
		return v.StopPlayback()
	default:
		return fmt.Errorf("video action %d unknown", ev.Action)
	}
}

// lineVideo drives a video server over the line protocol:
//
//	→ LOAD <name>
//	→ PLAY
//	→ STOP
//	→ STATUS
//	← STATUS <stopped|playing|missing|fail> [<name> <remaining>]
//	← ERR <message>
//
// Remaining frames decay locally between STATUS replies so operator
// views stay live even on a quiet link.
type lineVideo struct {
	name         string
	conn         *Conn
	replyTimeout time.Duration
	log          zerolog.Logger

	state     VideoState
	current   string
	loaded    string
	remaining int
	catalogue map[string]FileInfo
}

func newLineVideo(s Settings) (Driver, error) {
	if s.Address == "" {
		return nil, fmt.Errorf("video line driver requires an address")
	}
	timeout := s.ReplyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lineVideo{
		name:         s.Name,
		conn:         NewConn(s.Name, s.Address),
		replyTimeout: timeout,
		log:          logging.With().Str("device", s.Name).Logger(),
		catalogue:    make(map[string]FileInfo),
	}, nil
}

func (v *lineVideo) Start(ctx context.Context) error {
	v.conn.Start(ctx)
	return nil
}

func (v *lineVideo) Stop() {
	v.conn.Stop()
}

func (v *lineVideo) Poll(now int64) {
	for {
		select {
		case line := <-v.conn.Lines():
			v.handleLine(line)
		default:
			if v.state == VideoPlaying && v.remaining > 0 {
				v.remaining--
				if v.remaining == 0 {
					v.state = VideoStopped
					v.current = ""
				}
			}
			return
		}
	}
}

func (v *lineVideo) UpdateHardwareStatus() error {
	healthy := v.conn.Connected() &&
		v.conn.LastReceived() > 0 &&
		time.Since(time.Unix(v.conn.LastReceived(), 0)) <= v.replyTimeout

	// Solicit the next reply regardless; a booting device becomes
	// healthy once it answers one of these.
	if err := v.conn.Send("STATUS"); err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("video device %q: no status reply within %s", v.name, v.replyTimeout)
	}
	return nil
}

func (v *lineVideo) RunEvent(ev *playlist.Event) error {
	return RunVideoEvent(v, ev)
}

func (v *lineVideo) Play(filename string) error {
	if err := v.Load(filename); err != nil {
		return err
	}
	if v.state == VideoMissing {
		return nil
	}
	return v.PlayLoaded()
}

func (v *lineVideo) Load(filename string) error {
	if len(v.catalogue) > 0 {
		if _, ok := v.catalogue[filename]; !ok {
			// Content problem, not a device problem; the device stays up.
			v.log.Warn().Str("filename", filename).Msg("File not in catalogue")
			v.state = VideoMissing
			v.current = filename
			v.remaining = 0
			return nil
		}
	}
	if err := v.conn.Send("LOAD " + filename); err != nil {
		return err
	}
	v.loaded = filename
	if v.state == VideoMissing {
		v.state = VideoStopped
	}
	return nil
}

func (v *lineVideo) PlayLoaded() error {
	if v.loaded == "" {
		return fmt.Errorf("video device %q: nothing loaded", v.name)
	}
	if err := v.conn.Send("PLAY"); err != nil {
		return err
	}
	v.state = VideoPlaying
	v.current = v.loaded
	if info, ok := v.catalogue[v.loaded]; ok {
		v.remaining = info.DurationFrames
	}
	v.loaded = ""
	return nil
}

func (v *lineVideo) StopPlayback() error {
	if err := v.conn.Send("STOP"); err != nil {
		return err
	}
	v.state = VideoStopped
	v.current = ""
	v.remaining = 0
	return nil
}

func (v *lineVideo) VideoState() (VideoState, string, int) {
	return v.state, v.current, v.remaining
}

func (v *lineVideo) Catalogue() map[string]FileInfo {
	return v.catalogue
}

func (v *lineVideo) SetCatalogue(files map[string]FileInfo) {
	v.catalogue = files
}

func (v *lineVideo) handleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "STATUS":
		if len(fields) < 2 {
			return
		}
		state, ok := parseVideoState(fields[1])
		if !ok {
			v.log.Warn().Str("line", line).Msg("Unparseable status line")
			return
		}
		v.state = state
		if state == VideoPlaying && len(fields) >= 4 {
			v.current = fields[2]
			if rem, err := strconv.Atoi(fields[3]); err == nil {
				v.remaining = rem
			}
		}
		if state == VideoStopped {
			v.current = ""
			v.remaining = 0
		}
	case "ERR":
		v.log.Error().Str("line", line).Msg("Device reported error")
	}
}

// NewCatalogueJob builds the async refresh for a video device. The
// work function reads the scanned file table off the tick thread; the
// completion callback swaps the catalogue in under the engine mutex
// and logs the delta.
func NewCatalogueJob(d *Device, src CatalogueSource) (jobs.Job, error) {
	v, ok := d.Video()
	if !ok {
		return jobs.Job{}, fmt.Errorf("device %q has no video catalogue", d.Name())
	}

	payload := &cataloguePayload{device: d.Name()}
	return jobs.Job{
		Description: "catalogue refresh " + d.Name(),
		Payload:     payload,
		Priority:    1,
		Work: func(ctx context.Context, p any, _ jobs.Guard) error {
			pl := p.(*cataloguePayload)
			files, err := src.Files(ctx, pl.device)
			if err != nil {
				return fmt.Errorf("catalogue for %q: %w", pl.device, err)
			}
			pl.files = files
			return nil
		},
		Complete: func(p any) {
			pl := p.(*cataloguePayload)
			old := v.Catalogue()
			added, removed := diffCatalogue(old, pl.files)
			v.SetCatalogue(pl.files)
			logging.Info().
				Str("device", pl.device).
				Int("files", len(pl.files)).
				Int("added", added).
				Int("removed", removed).
				Msg("Catalogue refreshed")
		},
	}, nil
}

// CatalogueSource supplies the scanned file table for one device.
// The scanner's media table implements it.
type CatalogueSource interface {
	Files(ctx context.Context, device string) (map[string]FileInfo, error)
}

type cataloguePayload struct {
	device string
	files  map[string]FileInfo
}

func diffCatalogue(old, next map[string]FileInfo) (added, removed int) {
	for name := range next {
		if _, ok := old[name]; !ok {
			added++
		}
	}
	for name := range old {
		if _, ok := next[name]; !ok {
			removed++
		}
	}
	return added, removed
}

func init() {
	Register(FamilyVideo, "line", newLineVideo)
}
