// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package clock

import (
	"testing"
	"time"
)

func TestRateValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate    Rate
		wantErr bool
	}{
		{25, false},
		{30, false},
		{50, false},
		{1, false},
		{1000, false},
		{0, true},
		{-25, true},
		{1001, true},
	}

	for _, tt := range tests {
		err := tt.rate.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Rate(%d).Validate() error = %v, wantErr %v", tt.rate, err, tt.wantErr)
		}
	}
}

func TestInterval(t *testing.T) {
	t.Parallel()

	if got := DefaultRate.Interval(); got != 40*time.Millisecond {
		t.Errorf("DefaultRate.Interval() = %v, want 40ms", got)
	}
	if got := Rate(50).Interval(); got != 20*time.Millisecond {
		t.Errorf("Rate(50).Interval() = %v, want 20ms", got)
	}
}

func TestSecondsToFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		secs float64
		want int
	}{
		{10, 250},
		{0, 0},
		{0.02, 1},  // rounds half up
		{0.019, 0}, // rounds down
		{24, 600},
		{1.5, 38}, // 37.5 rounds up
	}

	for _, tt := range tests {
		if got := DefaultRate.SecondsToFrames(tt.secs); got != tt.want {
			t.Errorf("SecondsToFrames(%v) = %d, want %d", tt.secs, got, tt.want)
		}
	}
}

func TestFramesToSeconds(t *testing.T) {
	t.Parallel()

	if got := DefaultRate.FramesToSeconds(250); got != 10 {
		t.Errorf("FramesToSeconds(250) = %v, want 10", got)
	}
	if got := DefaultRate.FramesToSeconds(10); got != 0.4 {
		t.Errorf("FramesToSeconds(10) = %v, want 0.4", got)
	}
}

func TestEndTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		trigger int64
		frames  int
		want    int64
	}{
		{1000, 250, 1010}, // exact seconds
		{1000, 0, 1000},
		{1000, 251, 1011}, // partial second rounds up
		{1000, 24, 1001},
	}

	for _, tt := range tests {
		if got := DefaultRate.EndTime(tt.trigger, tt.frames); got != tt.want {
			t.Errorf("EndTime(%d, %d) = %d, want %d", tt.trigger, tt.frames, got, tt.want)
		}
	}
}

func TestTimecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frames int
		want   string
	}{
		{0, "00:00:00:00"},
		{24, "00:00:00:24"},
		{25, "00:00:01:00"},
		{250, "00:00:10:00"},
		{25 * 3600, "01:00:00:00"},
		{-5, "00:00:00:00"},
	}

	for _, tt := range tests {
		if got := DefaultRate.Timecode(tt.frames); got != tt.want {
			t.Errorf("Timecode(%d) = %q, want %q", tt.frames, got, tt.want)
		}
	}
}
