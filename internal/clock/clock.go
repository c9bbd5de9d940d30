// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package clock holds the frame arithmetic shared by the engine, the
// playlist, and the wire adapters.
//
// Durations are expressed in whole frames everywhere inside the engine and
// in seconds at every wire boundary. This package is the single conversion
// point between the two.
package clock

import (
	"fmt"
	"math"
	"time"
)

// Rate is a playout frame rate in whole frames per second.
type Rate int

// DefaultRate is the standard PAL playout rate.
const DefaultRate Rate = 25

// Validate reports whether the rate is usable for a tick loop.
func (r Rate) Validate() error {
	if r < 1 || r > 1000 {
		return fmt.Errorf("frame rate %d out of range [1,1000]", int(r))
	}
	return nil
}

// Interval returns the wall-clock duration of one frame.
func (r Rate) Interval() time.Duration {
	return time.Second / time.Duration(r)
}

// SecondsToFrames converts wire seconds to whole frames, rounding half up.
func (r Rate) SecondsToFrames(s float64) int {
	return int(math.Round(s * float64(r)))
}

// FramesToSeconds converts frames to seconds for the wire.
func (r Rate) FramesToSeconds(frames int) float64 {
	return float64(frames) / float64(r)
}

// FramesToDuration converts frames to a wall-clock duration.
func (r Rate) FramesToDuration(frames int) time.Duration {
	return time.Duration(frames) * r.Interval()
}

// EndTime returns the unix-seconds end of an event starting at trigger
// with the given duration in frames. Partial trailing seconds round up so
// an event is considered on air until its final frame has played.
func (r Rate) EndTime(trigger int64, frames int) int64 {
	secs := frames / int(r)
	if frames%int(r) != 0 {
		secs++
	}
	return trigger + int64(secs)
}

// Timecode renders a frame count as hh:mm:ss:ff for operator displays.
func (r Rate) Timecode(frames int) string {
	if frames < 0 {
		frames = 0
	}
	ff := frames % int(r)
	totalSecs := frames / int(r)
	ss := totalSecs % 60
	mm := (totalSecs / 60) % 60
	hh := totalSecs / 3600
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hh, mm, ss, ff)
}
