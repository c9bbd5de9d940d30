// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/playlist"
)

func startFeed(t *testing.T, cfg config.FeedConfig) *Feed {
	t.Helper()
	f := NewFeed(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("feed pump did not stop")
		}
		_ = f.Close()
	})
	return f
}

func TestFeedDeliversPlayBegin(t *testing.T) {
	t.Parallel()

	f := startFeed(t, config.FeedConfig{BufferSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := f.Subscriber().Subscribe(ctx, TopicPlayBegin)
	if err != nil {
		t.Fatal(err)
	}

	row := playlist.Event{
		ID:          7,
		Type:        playlist.Fixed,
		Trigger:     1700000000,
		Device:      "vt",
		Target:      playlist.TargetVideo,
		Action:      0,
		Duration:    250,
		Description: "clip",
	}
	f.PlayBegin("one", row, 1700000010)

	select {
	case msg := <-msgs:
		var pm PlayMessage
		if err := json.Unmarshal(msg.Payload, &pm); err != nil {
			t.Fatal(err)
		}
		msg.Ack()
		if pm.Channel != "one" || pm.Event.ID != 7 || pm.EndsAt != 1700000010 {
			t.Errorf("message = %+v", pm)
		}
		if pm.Event.Family != "video" || pm.Event.DurationFrames != 250 {
			t.Errorf("event info = %+v", pm.Event)
		}
		if pm.At.IsZero() {
			t.Error("At not set")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message on playout.begin")
	}
}

func TestFeedDeliversDeviceStatus(t *testing.T) {
	t.Parallel()

	f := startFeed(t, config.FeedConfig{BufferSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := f.Subscriber().Subscribe(ctx, TopicDeviceStatus)
	if err != nil {
		t.Fatal(err)
	}

	f.DeviceStatus("vt", "video", "line", "ready")

	select {
	case msg := <-msgs:
		var sm StatusMessage
		if err := json.Unmarshal(msg.Payload, &sm); err != nil {
			t.Fatal(err)
		}
		msg.Ack()
		if sm.Device != "vt" || sm.Family != "video" || sm.Kind != "line" || sm.Status != "ready" {
			t.Errorf("message = %+v", sm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message on device.status")
	}
}

// Publishing without the pump running must never block the caller: the
// tick thread sits behind these calls.
func TestFeedPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	f := NewFeed(config.FeedConfig{BufferSize: 1})
	t.Cleanup(func() { _ = f.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			f.ScheduleChanged("one", int64(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with a full buffer")
	}
	if n := len(f.out); n != 1 {
		t.Errorf("staged = %d, want 1 (rest dropped)", n)
	}
}
