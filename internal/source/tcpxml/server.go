// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package tcpxml

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
	"github.com/tomtom215/tarantula/internal/source"
)

const (
	greeting = "Welcome to Tarantula.\r\n"

	// maxLine bounds one request document. Schedules arrive one event
	// tree per line, so a megabyte is generous.
	maxLine = 1 << 20

	writeTimeout   = 5 * time.Second
	inboundBacklog = 256
	connBacklog    = 64

	defaultRatePerSecond = 25
	defaultRateBurst     = 50
)

// command is one parsed request waiting to enter the pipeline, paired
// with the connection that gets the reply.
type command struct {
	action *mousecatcher.EventAction
	conn   *conn
}

// Server is the raw protocol adapter. Reader goroutines parse inbound
// documents onto a channel; the engine drains that channel through
// Tick, so all pipeline submission happens on the tick thread. Replies
// travel back through per-connection write queues.
type Server struct {
	cfg config.TCPConfig
	log zerolog.Logger

	inbound chan *command

	// inflight is touched only on the tick thread.
	inflight []*command

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
}

// New builds the adapter. Call Serve to listen and wire Tick into the
// engine's adapter list.
func New(cfg config.TCPConfig) *Server {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRatePerSecond
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	return &Server{
		cfg:     cfg,
		log:     logging.With().Str("component", "tcpxml").Logger(),
		inbound: make(chan *command, inboundBacklog),
		conns:   make(map[*conn]struct{}),
	}
}

func (s *Server) String() string { return "tcpxml" }

// Addr returns the bound listen address, nil before Serve has opened
// the listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcpxml listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Raw protocol listening")

	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeAll()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tcpxml accept: %w", err)
		}
		go s.serveConn(ctx, c)
	}
}

// Tick first answers actions the pipeline finished since the last
// tick, then feeds newly parsed commands into the queue. Runs on the
// tick thread under the engine mutex.
func (s *Server) Tick(q *mousecatcher.Queue) {
	if len(s.inflight) > 0 {
		keep := s.inflight[:0]
		for _, cmd := range s.inflight {
			if !cmd.action.Done {
				keep = append(keep, cmd)
				continue
			}
			s.reply(cmd)
		}
		s.inflight = keep
	}

	for {
		select {
		case cmd := <-s.inbound:
			q.Push(cmd.action)
			s.inflight = append(s.inflight, cmd)
		default:
			return
		}
	}
}

// reply writes the completion status for one finished action. Update
// actions already answered with a snapshot document through a report
// method, so a clean update needs no status line.
func (s *Server) reply(cmd *command) {
	a := cmd.action
	switch {
	case a.Return != "":
		cmd.conn.sendStatus("500 " + a.Return)
	case a.Kind.IsUpdate():
		metrics.TCPCommands.WithLabelValues("200").Inc()
	default:
		cmd.conn.sendStatus("200 SUCCESS")
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for cn := range s.conns {
		conns = append(conns, cn)
	}
	s.mu.Unlock()
	for _, cn := range conns {
		cn.close()
	}
}

func (s *Server) track(cn *conn) {
	s.mu.Lock()
	s.conns[cn] = struct{}{}
	s.mu.Unlock()
	metrics.TCPConnections.Inc()
}

func (s *Server) forget(cn *conn) {
	s.mu.Lock()
	delete(s.conns, cn)
	s.mu.Unlock()
	metrics.TCPConnections.Dec()
}

// conn is one client connection. The reader goroutine owns c's read
// side; a writer goroutine drains the write queue so neither the tick
// thread nor report methods ever block on a slow client.
type conn struct {
	c       net.Conn
	writes  chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	log     zerolog.Logger
}

func (cn *conn) close() {
	cn.once.Do(func() {
		close(cn.done)
		cn.c.Close()
	})
}

// send queues one reply frame. Frames for closed or saturated
// connections are dropped; the protocol has no delivery guarantee
// beyond the socket itself.
func (cn *conn) send(b []byte) {
	select {
	case <-cn.done:
	case cn.writes <- b:
	default:
		cn.log.Warn().Msg("Reply queue full, dropping frame")
	}
}

func (cn *conn) sendStatus(line string) {
	code := line
	if len(code) > 3 {
		code = code[:3]
	}
	metrics.TCPCommands.WithLabelValues(code).Inc()
	cn.send([]byte(line + "\r\n"))
}

func (cn *conn) sendDocument(doc []byte, err error) {
	if err != nil {
		cn.sendStatus("500 " + err.Error())
		return
	}
	metrics.TCPCommands.WithLabelValues("200").Inc()
	cn.send(append(doc, '\r', '\n'))
}

func (cn *conn) writeLoop() {
	for {
		select {
		case <-cn.done:
			return
		case b := <-cn.writes:
			cn.c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := cn.c.Write(b); err != nil {
				cn.log.Debug().Err(err).Msg("Write failed, closing connection")
				cn.close()
				return
			}
		}
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	cn := &conn{
		c:       c,
		writes:  make(chan []byte, connBacklog),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.RateBurst),
		log:     s.log.With().Str("remote", c.RemoteAddr().String()).Logger(),
	}
	s.track(cn)
	defer s.forget(cn)
	defer cn.close()

	go cn.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			cn.close()
		case <-cn.done:
		}
	}()

	cn.send([]byte(greeting))
	cn.log.Info().Msg("Connection opened")
	defer cn.log.Info().Msg("Connection closed")

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if string(line) == "quit" || string(line) == "exit" {
			return
		}
		if !cn.limiter.Allow() {
			cn.sendStatus("400 RATE LIMITED")
			continue
		}

		a, err := source.DecodeRequest(line)
		if err != nil {
			cn.sendStatus(statusFor(err))
			continue
		}
		a.Source = s
		a.Corr = cn

		select {
		case s.inbound <- &command{action: a, conn: cn}:
		default:
			cn.sendStatus("500 input queue full")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		cn.log.Debug().Err(err).Msg("Read failed")
	}
}

// statusFor maps a decode failure onto the protocol's 400 vocabulary.
func statusFor(err error) string {
	switch {
	case errors.Is(err, source.ErrNoAction):
		return "400 NO ACTION"
	case errors.Is(err, source.ErrBadAction):
		return "400 BAD ACTION"
	case errors.Is(err, source.ErrNoData):
		return "400 NO DATA"
	default:
		return "400 BAD DATA"
	}
}

// ReportPlaylist answers an UpdatePlaylist action with the playlist
// snapshot document. Called on the tick thread; encoding happens here
// but the write is queued, never blocking.
func (s *Server) ReportPlaylist(corr any, channel string, events []playlist.Event) {
	if cn, ok := corr.(*conn); ok {
		cn.sendDocument(source.EncodePlaylist(channel, events))
	}
}

// ReportDevices answers an UpdateDevices action.
func (s *Server) ReportDevices(corr any, devices []mousecatcher.DeviceSnapshot) {
	if cn, ok := corr.(*conn); ok {
		cn.sendDocument(source.EncodeDevices(devices))
	}
}

// ReportActions answers an UpdateActions action.
func (s *Server) ReportActions(corr any, tables map[string][]device.Action) {
	if cn, ok := corr.(*conn); ok {
		cn.sendDocument(source.EncodeActions(tables))
	}
}

// ReportProcessors answers an UpdateProcessors action.
func (s *Server) ReportProcessors(corr any, names []string) {
	if cn, ok := corr.(*conn); ok {
		cn.sendDocument(source.EncodeProcessors(names))
	}
}

// ReportFiles answers an UpdateFiles action.
func (s *Server) ReportFiles(corr any, deviceName string, files map[string]device.FileInfo) {
	if cn, ok := corr.(*conn); ok {
		cn.sendDocument(source.EncodeFiles(deviceName, files))
	}
}
