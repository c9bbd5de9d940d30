// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package device

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second

	// Reconnect pacing doubles from min to max after each failure.
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second

	sendBuffer = 64
	recvBuffer = 256

	maxLineBytes = 64 * 1024
)

var (
	ErrNotConnected  = errors.New("device link down")
	ErrSendQueueFull = errors.New("device send queue full")
)

// Conn is a line-oriented TCP client for device control protocols.
// A background goroutine owns dialing and reconnecting; received lines
// arrive on a buffered channel the driver drains during Poll, so the
// tick thread never touches the network.
//
// Sends pass through a circuit breaker: repeated failures open it and
// Send fails fast until the link proves itself again.
type Conn struct {
	name string
	addr string
	log  zerolog.Logger

	breaker *gobreaker.CircuitBreaker[any]

	out chan string
	in  chan string

	connected atomic.Bool
	lastRecv  atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConn prepares a client for addr. Start begins dialing.
func NewConn(name, addr string) *Conn {
	c := &Conn{
		name: name,
		addr: addr,
		log:  logging.With().Str("device", name).Str("addr", addr).Logger(),
		out:  make(chan string, sendBuffer),
		in:   make(chan string, recvBuffer),
	}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Device breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

// Start launches the connection manager.
func (c *Conn) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop tears the link down and waits for the manager to exit.
func (c *Conn) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Send queues one line for transmission.
func (c *Conn) Send(line string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		if !c.connected.Load() {
			return nil, ErrNotConnected
		}
		select {
		case c.out <- line:
			return nil, nil
		default:
			return nil, ErrSendQueueFull
		}
	})
	return err
}

// Lines is the stream of received lines, stripped of their terminator.
func (c *Conn) Lines() <-chan string { return c.in }

// Connected reports whether the link is currently up.
func (c *Conn) Connected() bool { return c.connected.Load() }

// LastReceived is the unix time of the newest received line, zero
// before any line arrives.
func (c *Conn) LastReceived() int64 { return c.lastRecv.Load() }

// run dials, pumps, and re-dials until the context ends.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	wait := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("Device dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > reconnectMax {
				wait = reconnectMax
			}
			continue
		}

		wait = reconnectMin
		c.log.Info().Msg("Device link up")
		c.connected.Store(true)
		metrics.DeviceLinkUp.WithLabelValues(c.name).Set(1)

		c.pump(ctx, conn)

		c.connected.Store(false)
		metrics.DeviceLinkUp.WithLabelValues(c.name).Set(0)
		c.log.Warn().Msg("Device link down")
	}
}

func (c *Conn) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "tcp", c.addr)
}

// pump runs the write loop in a goroutine and reads inline; it returns
// when either side fails or the context ends. A closer goroutine shuts
// the socket as soon as anything gives up, which unblocks whichever
// side is mid-IO.
func (c *Conn) pump(ctx context.Context, conn net.Conn) {
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-readerDone:
		case <-writerDone:
		}
		_ = conn.Close()
	}()

	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-readerDone:
				return
			case line := <-c.out:
				if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					c.log.Error().Err(err).Msg("Failed to set write deadline")
					return
				}
				if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
					c.log.Error().Err(err).Msg("Device write failed")
					return
				}
			}
		}
	}()

	func() {
		defer close(readerDone)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 4096), maxLineBytes)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			c.lastRecv.Store(time.Now().Unix())
			select {
			case c.in <- line:
			default:
				// Slow consumer; drop rather than stall the device.
				c.log.Warn().Msg("Device receive queue full, line dropped")
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Msg("Device read failed")
		}
	}()

	<-writerDone
}
