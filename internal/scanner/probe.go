// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tarantula/internal/clock"
)

// prober measures a media file and returns its duration in frames.
// Tests swap in a fake; production uses ffprobe.
type prober func(ctx context.Context, path string) (int, error)

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ffprobeProber shells out to ffprobe and parses its JSON format
// section. The duration comes back as fractional seconds and is
// rounded to frames at the channel rate.
func ffprobeProber(command string, timeout time.Duration, rate clock.Rate) prober {
	if command == "" {
		command = "ffprobe"
	}
	return func(ctx context.Context, path string) (int, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, command,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			path,
		)
		out, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
				return 0, fmt.Errorf("%s: %s", command, bytes.TrimSpace(exitErr.Stderr))
			}
			return 0, fmt.Errorf("%s: %w", command, err)
		}

		var probe ffprobeOutput
		if err := json.Unmarshal(out, &probe); err != nil {
			return 0, fmt.Errorf("parse %s output: %w", command, err)
		}
		if probe.Format.Duration == "" {
			return 0, fmt.Errorf("%s reported no duration for %s", command, filepath.Base(path))
		}

		seconds, err := strconv.ParseFloat(probe.Format.Duration, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
		}

		frames := rate.SecondsToFrames(seconds)
		if frames <= 0 {
			return 0, fmt.Errorf("non-positive duration for %s", filepath.Base(path))
		}
		return frames, nil
	}
}
