// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package mousecatcher

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/tarantula/internal/metrics"
)

// Queue is the shared action queue between source adapters and the
// pipeline. Its mutex covers only the pending slice; adapters may push
// from their own goroutines, the pipeline drains on the tick thread.
type Queue struct {
	mu      sync.Mutex
	pending []*EventAction
}

// NewQueue returns an empty action queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues one action, assigning a correlation id if the source
// did not set one.
func (q *Queue) Push(a *EventAction) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	q.mu.Lock()
	q.pending = append(q.pending, a)
	depth := len(q.pending)
	q.mu.Unlock()
	metrics.ActionQueueDepth.Set(float64(depth))
}

// Drain removes and returns all pending actions in arrival order.
func (q *Queue) Drain() []*EventAction {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	q.mu.Unlock()
	metrics.ActionQueueDepth.Set(0)
	return out
}

// Len reports the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
