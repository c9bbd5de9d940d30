// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tarantula/internal/logging"
)

// stubService blocks until cancelled and counts its starts.
type stubService struct {
	name    string
	runs    atomic.Int32
	started chan struct{}
}

func newStubService(name string) *stubService {
	return &stubService{name: name, started: make(chan struct{}, 8)}
}

func (s *stubService) String() string { return s.name }

func (s *stubService) Serve(ctx context.Context) error {
	s.runs.Add(1)
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

// flakyService fails its first run, then behaves.
type flakyService struct {
	runs      atomic.Int32
	recovered chan struct{}
}

func (s *flakyService) String() string { return "flaky" }

func (s *flakyService) Serve(ctx context.Context) error {
	if s.runs.Add(1) == 1 {
		return errors.New("first run fails")
	}
	select {
	case s.recovered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func awaitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.FailureDecay != 30.0 {
		t.Errorf("failure parameters = %+v", cfg)
	}
	if cfg.FailureBackoff != 15*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("timing parameters = %+v", cfg)
	}
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("threshold = %v", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v", tree.config.ShutdownTimeout)
	}
	if tree.Root() == nil {
		t.Error("root supervisor missing")
	}
}

func TestTreeRunsAllLayers(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	engine := newStubService("engine")
	io := newStubService("tcp")
	feed := newStubService("hub")
	tree.AddEngineService(engine)
	tree.AddIOService(io)
	tree.AddFeedService(feed)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	awaitSignal(t, engine.started, "engine service start")
	awaitSignal(t, io.started, "io service start")
	awaitSignal(t, feed.started, "feed service start")

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	flaky := &flakyService{recovered: make(chan struct{}, 1)}
	tree.AddIOService(flaky)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	awaitSignal(t, flaky.recovered, "service restart")
	if flaky.runs.Load() < 2 {
		t.Errorf("runs = %d, want at least 2", flaky.runs.Load())
	}

	cancel()
	<-errCh
}
