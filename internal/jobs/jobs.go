// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package jobs

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
)

// State tracks a job through its lifecycle.
type State int

const (
	StateReady State = iota
	StateRunning
	StateComplete
	StateFailed
	StateErased
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateErased:
		return "erased"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Guard is the engine mutex as seen by worker functions. Work functions
// acquire it only around engine state mutation and must not hold it
// across waits.
type Guard interface {
	Lock(ctx context.Context) error
	Unlock()
}

// WorkFunc runs on the worker goroutine.
type WorkFunc func(ctx context.Context, payload any, guard Guard) error

// CompleteFunc runs on the tick thread after the work function
// succeeded. The payload is the same value the work function saw.
type CompleteFunc func(payload any)

// Job describes a unit of background work. Priority orders the queue,
// higher first; equal priorities run in submission order. Repeat jobs
// re-enter the queue after their completion callback.
type Job struct {
	Work        WorkFunc
	Complete    CompleteFunc
	Payload     any
	Priority    int
	Repeat      bool
	Description string
}

// ErrHalted is returned by Submit after the runner shut down.
var ErrHalted = errors.New("job runner halted")

type task struct {
	id    uuid.UUID
	seq   uint64
	state State
	err   error
	index int
	Job
}

// Runner owns the job set and the single worker goroutine. It
// implements suture.Service; the supervisor restarts the worker if it
// ever returns early.
type Runner struct {
	guard Guard
	log   zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     taskHeap
	tasks     map[uuid.UUID]*task
	completed []*task
	failed    []*task
	seq       uint64
	halted    bool
}

// NewRunner builds a runner around the engine guard. Serve must be
// running before submitted jobs make progress.
func NewRunner(guard Guard) *Runner {
	r := &Runner{
		guard: guard,
		log:   logging.With().Str("component", "jobs").Logger(),
		tasks: make(map[uuid.UUID]*task),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Runner) String() string { return "job-runner" }

// Submit queues a job and wakes the worker. The returned id can cancel
// the job while it is still ready.
func (r *Runner) Submit(j Job) (uuid.UUID, error) {
	if j.Work == nil {
		return uuid.Nil, errors.New("job has no work function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halted {
		return uuid.Nil, ErrHalted
	}

	t := &task{id: uuid.New(), seq: r.seq, state: StateReady, Job: j}
	r.seq++
	r.tasks[t.id] = t
	heap.Push(&r.queue, t)
	metrics.JobQueueDepth.Set(float64(r.queue.Len()))

	r.log.Debug().
		Str("job_id", t.id.String()).
		Str("description", j.Description).
		Int("priority", j.Priority).
		Bool("repeat", j.Repeat).
		Msg("Job submitted")

	r.cond.Signal()
	return t.id, nil
}

// Cancel erases a job that has not started. Running, complete, and
// failed jobs are past cancelling and report false.
func (r *Runner) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.state != StateReady {
		return false
	}
	t.state = StateErased
	delete(r.tasks, id)
	return true
}

// Status reports a submitted job's state. The second return is false
// once the job has been retired: completed without repeat, failed and
// drained, or cancelled.
func (r *Runner) Status(id uuid.UUID) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return StateErased, false
	}
	return t.state, true
}

// Pending reports how many jobs are queued but not yet running.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.queue {
		if t.state == StateReady {
			n++
		}
	}
	return n
}

// Serve runs the worker loop until the context is cancelled. One job
// runs at a time; a panic inside a work function fails that job
// without taking down the worker.
func (r *Runner) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.halted = true
		r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer stop()

	r.log.Info().Msg("Job worker started")
	for {
		t := r.next(ctx)
		if t == nil {
			r.log.Info().Msg("Job worker stopped")
			return ctx.Err()
		}
		r.run(ctx, t)
	}
}

// next blocks until a ready job is available or the context ends.
func (r *Runner) next(ctx context.Context) *task {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}
		for r.queue.Len() > 0 {
			t := heap.Pop(&r.queue).(*task)
			metrics.JobQueueDepth.Set(float64(r.queue.Len()))
			if t.state != StateReady {
				continue
			}
			t.state = StateRunning
			return t
		}
		r.cond.Wait()
	}
}

func (r *Runner) run(ctx context.Context, t *task) {
	start := time.Now()
	err := r.invoke(ctx, t)
	elapsed := time.Since(start)

	r.mu.Lock()
	if err != nil {
		t.state = StateFailed
		t.err = err
		r.failed = append(r.failed, t)
	} else {
		t.state = StateComplete
		r.completed = append(r.completed, t)
	}
	r.mu.Unlock()

	status := "complete"
	if err != nil {
		status = "failed"
		r.log.Error().
			Err(err).
			Str("job_id", t.id.String()).
			Str("description", t.Description).
			Dur("elapsed", elapsed).
			Msg("Job failed")
	} else {
		r.log.Debug().
			Str("job_id", t.id.String()).
			Str("description", t.Description).
			Dur("elapsed", elapsed).
			Msg("Job finished")
	}
	metrics.RecordJob(status, elapsed)
}

func (r *Runner) invoke(ctx context.Context, t *task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return t.Work(ctx, t.Payload, r.guard)
}

// RunCompletions is the per-tick completion phase. The tick thread
// calls it while holding the engine mutex, so completion callbacks may
// mutate engine state directly. Completed jobs drain before failed
// ones, each group in submission order; repeat jobs then re-enter the
// queue. Returns how many callbacks ran.
func (r *Runner) RunCompletions() int {
	r.mu.Lock()
	completed := r.completed
	failed := r.failed
	r.completed = nil
	r.failed = nil
	r.mu.Unlock()

	sort.Slice(completed, func(i, j int) bool { return completed[i].seq < completed[j].seq })
	sort.Slice(failed, func(i, j int) bool { return failed[i].seq < failed[j].seq })

	ran := 0
	for _, t := range completed {
		if t.Complete != nil {
			t.Complete(t.Payload)
			ran++
		}
		r.finish(t)
	}
	for _, t := range failed {
		// The worker already logged the failure; no callback runs.
		r.mu.Lock()
		delete(r.tasks, t.id)
		r.mu.Unlock()
	}
	return ran
}

// finish retires or requeues one completed job.
func (r *Runner) finish(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !t.Repeat || r.halted {
		delete(r.tasks, t.id)
		return
	}
	t.state = StateReady
	t.err = nil
	heap.Push(&r.queue, t)
	metrics.JobQueueDepth.Set(float64(r.queue.Len()))
	r.cond.Signal()
}

// taskHeap orders by priority descending, then submission order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
