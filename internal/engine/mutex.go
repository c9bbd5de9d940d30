// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package engine

import (
	"context"
	"time"
)

// TimedMutex is the engine mutex. The tick loop acquires it with a
// frame-budget timeout so a stuck job cannot stall the clock, and async
// jobs acquire it through the jobs.Guard interface with a context.
type TimedMutex struct {
	ch chan struct{}
}

// NewTimedMutex returns an unlocked mutex.
func NewTimedMutex() *TimedMutex {
	m := &TimedMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock blocks until the mutex is held or the context ends.
func (m *TimedMutex) Lock(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLockFor acquires the mutex, giving up after the timeout.
func (m *TimedMutex) TryLockFor(d time.Duration) bool {
	select {
	case <-m.ch:
		return true
	default:
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ch:
		return true
	case <-t.C:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unheld mutex panics, as with
// sync.Mutex.
func (m *TimedMutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("engine: unlock of unlocked mutex")
	}
}
