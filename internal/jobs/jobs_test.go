// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeGuard struct {
	locks   atomic.Int64
	unlocks atomic.Int64
}

func (g *fakeGuard) Lock(ctx context.Context) error {
	g.locks.Add(1)
	return nil
}

func (g *fakeGuard) Unlock() {
	g.unlocks.Add(1)
}

func startRunner(t *testing.T) (*Runner, *fakeGuard) {
	t.Helper()
	guard := &fakeGuard{}
	r := NewRunner(guard)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return r, guard
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSubmitRunsWorkThenCompletion(t *testing.T) {
	t.Parallel()

	r, guard := startRunner(t)

	worked := make(chan struct{})
	var completedWith any
	_, err := r.Submit(Job{
		Description: "round-trip",
		Payload:     "payload-42",
		Work: func(ctx context.Context, payload any, g Guard) error {
			if err := g.Lock(ctx); err != nil {
				return err
			}
			g.Unlock()
			close(worked)
			return nil
		},
		Complete: func(payload any) { completedWith = payload },
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	wait(t, worked, "work function")

	// The completion callback must not fire until the tick thread asks.
	waitSettled(t, r)
	if completedWith != nil {
		t.Fatal("completion ran before the completion phase")
	}
	if ran := r.RunCompletions(); ran != 1 {
		t.Errorf("RunCompletions ran %d callbacks, want 1", ran)
	}
	if completedWith != "payload-42" {
		t.Errorf("completion payload = %v, want payload-42", completedWith)
	}
	if guard.locks.Load() != 1 || guard.unlocks.Load() != 1 {
		t.Errorf("guard saw %d locks / %d unlocks, want 1/1",
			guard.locks.Load(), guard.unlocks.Load())
	}
}

func TestPriorityOrdersQueuedWork(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)

	gate := make(chan struct{})
	gateRunning := make(chan struct{})
	if _, err := r.Submit(Job{
		Description: "gate",
		Work: func(ctx context.Context, _ any, _ Guard) error {
			close(gateRunning)
			<-gate
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	wait(t, gateRunning, "gate job")

	var mu sync.Mutex
	var order []string
	record := func(name string) Job {
		return Job{
			Description: name,
			Work: func(ctx context.Context, _ any, _ Guard) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			},
		}
	}

	low := record("low")
	low.Priority = 1
	high := record("high")
	high.Priority = 10
	mid := record("mid")
	mid.Priority = 5

	for _, j := range []Job{low, high, mid} {
		if _, err := r.Submit(j); err != nil {
			t.Fatal(err)
		}
	}
	close(gate)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d jobs ran", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "high" || order[1] != "mid" || order[2] != "low" {
		t.Errorf("execution order = %v, want [high mid low]", order)
	}
}

func TestCompletionsRunInSubmissionOrder(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)

	gate := make(chan struct{})
	gateRunning := make(chan struct{})
	if _, err := r.Submit(Job{
		Work: func(ctx context.Context, _ any, _ Guard) error {
			close(gateRunning)
			<-gate
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	wait(t, gateRunning, "gate job")

	var order []string
	note := func(name string, priority int) Job {
		return Job{
			Description: name,
			Priority:    priority,
			Work:        func(ctx context.Context, _ any, _ Guard) error { return nil },
			Complete:    func(any) { order = append(order, name) },
		}
	}

	// "second" outranks "first" and executes earlier, but callbacks
	// keep submission order.
	if _, err := r.Submit(note("first", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Submit(note("second", 9)); err != nil {
		t.Fatal(err)
	}
	close(gate)

	waitSettled(t, r)
	if ran := r.RunCompletions(); ran != 2 {
		t.Fatalf("RunCompletions ran %d callbacks, want 2", ran)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("callback order = %v, want [first second]", order)
	}
}

func TestPanicFailsJobAndWorkerSurvives(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)

	completed := false
	if _, err := r.Submit(Job{
		Description: "bad",
		Work:        func(ctx context.Context, _ any, _ Guard) error { panic("boom") },
		Complete:    func(any) { completed = true },
	}); err != nil {
		t.Fatal(err)
	}

	survived := make(chan struct{})
	if _, err := r.Submit(Job{
		Description: "good",
		Work: func(ctx context.Context, _ any, _ Guard) error {
			close(survived)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	wait(t, survived, "job after panic")
	r.RunCompletions()
	if completed {
		t.Error("panicked job's completion callback ran")
	}
}

func TestFailedJobSkipsCompletion(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)

	worked := make(chan struct{})
	completed := false
	if _, err := r.Submit(Job{
		Work: func(ctx context.Context, _ any, _ Guard) error {
			defer close(worked)
			return errors.New("device unreachable")
		},
		Complete: func(any) { completed = true },
	}); err != nil {
		t.Fatal(err)
	}

	wait(t, worked, "failing job")
	waitSettled(t, r)
	if ran := r.RunCompletions(); ran != 0 {
		t.Errorf("RunCompletions ran %d callbacks, want 0", ran)
	}
	if completed {
		t.Error("failed job's completion callback ran")
	}
}

func TestRepeatJobRequeues(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)

	runs := make(chan struct{}, 8)
	var count atomic.Int64
	if _, err := r.Submit(Job{
		Description: "repeat",
		Repeat:      true,
		Work: func(ctx context.Context, _ any, _ Guard) error {
			count.Add(1)
			runs <- struct{}{}
			return nil
		},
		Complete: func(any) {},
	}); err != nil {
		t.Fatal(err)
	}

	wait(t, runs, "first run")
	waitSettled(t, r)
	r.RunCompletions() // requeues
	wait(t, runs, "second run")

	if got := count.Load(); got < 2 {
		t.Errorf("repeat job ran %d times, want at least 2", got)
	}
}

func TestCancelReadyJob(t *testing.T) {
	t.Parallel()

	// No worker: jobs stay ready.
	r := NewRunner(&fakeGuard{})

	id, err := r.Submit(Job{
		Work: func(ctx context.Context, _ any, _ Guard) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", r.Pending())
	}

	if !r.Cancel(id) {
		t.Error("Cancel(ready job) = false, want true")
	}
	if r.Pending() != 0 {
		t.Errorf("Pending after cancel = %d, want 0", r.Pending())
	}
	if r.Cancel(id) {
		t.Error("second Cancel = true, want false")
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	r := NewRunner(&fakeGuard{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	cancel()
	wait(t, done, "worker shutdown")

	if _, err := r.Submit(Job{
		Work: func(ctx context.Context, _ any, _ Guard) error { return nil },
	}); !errors.Is(err, ErrHalted) {
		t.Errorf("Submit after shutdown = %v, want ErrHalted", err)
	}
}

func TestSubmitRejectsNilWork(t *testing.T) {
	t.Parallel()

	r := NewRunner(&fakeGuard{})
	if _, err := r.Submit(Job{Description: "empty"}); err == nil {
		t.Error("Submit with nil work function succeeded")
	}
}

// waitSettled polls until the worker has parked every finished job in
// the completion lists.
func waitSettled(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		idle := true
		for _, task := range r.tasks {
			if task.state == StateReady || task.state == StateRunning {
				idle = false
				break
			}
		}
		r.mu.Unlock()
		if idle {
			return
		}
		select {
		case <-deadline:
			t.Fatal("jobs never settled")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestStatusTracksLifecycle(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)

	release := make(chan struct{})
	started := make(chan struct{})
	id, err := r.Submit(Job{
		Work: func(context.Context, any, Guard) error {
			close(started)
			<-release
			return nil
		},
		Description: "status probe",
	})
	if err != nil {
		t.Fatal(err)
	}

	wait(t, started, "work to start")
	if st, ok := r.Status(id); !ok || st != StateRunning {
		t.Fatalf("status = %v/%v while running, want running/true", st, ok)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := r.Status(id); !ok || st == StateComplete {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st, ok := r.Status(id); ok && st != StateComplete {
		t.Fatalf("status = %v/%v after work, want complete or retired", st, ok)
	}

	r.RunCompletions()
	if _, ok := r.Status(id); ok {
		t.Fatal("retired job still reports a status")
	}
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	r, _ := startRunner(t)
	if _, ok := r.Status(uuid.New()); ok {
		t.Fatal("unknown id reported a status")
	}
}
