// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
)

//go:embed templates/schedule.html
var templateFS embed.FS

//go:embed static/tarantula.css
var stylesheet []byte

const (
	defaultWait      = 5 * time.Second
	defaultRateReqs  = 300
	defaultRateWin   = time.Minute
	maxBodyBytes     = 1 << 20
	inboundBacklog   = 128
	shutdownDeadline = 10 * time.Second
)

var (
	errBusy    = errors.New("request queue full")
	errTimeout = errors.New("engine did not answer in time")
)

// Options wires the web adapter.
type Options struct {
	Config config.HTTPConfig

	// Channels is the configured channel list, in display order. The
	// first entry is the default for mutations that name none.
	Channels []string

	// Rate renders frame durations as seconds and timecode.
	Rate clock.Rate

	// WS serves the live update socket; nil disables /ws.
	WS http.Handler
}

// waiter is one HTTP request's stake in the pipeline: a batch of
// actions pushed together, promoted to done once every one of them has
// been processed.
type waiter struct {
	actions []*mousecatcher.EventAction
	done    chan struct{}
}

func (wt *waiter) complete() bool {
	for _, a := range wt.actions {
		if !a.Done {
			return false
		}
	}
	return true
}

// Server is the HTTP adapter: the operator schedule page plus the
// mutation endpoints. Handlers never touch the engine directly; they
// queue actions and block their own goroutine until the tick thread
// has answered.
type Server struct {
	cfg      config.HTTPConfig
	channels []string
	rate     clock.Rate
	ws       http.Handler
	log      zerolog.Logger
	wait     time.Duration

	inbound chan *waiter

	// waiting is touched only on the tick thread.
	waiting []*waiter

	router *chi.Mux
	tmpl   *template.Template
}

// New builds the adapter and its router. Call Serve to listen and wire
// Tick into the engine's adapter list.
func New(opts Options) (*Server, error) {
	if len(opts.Channels) == 0 {
		return nil, errors.New("web: no channels configured")
	}
	wait := defaultWait
	if opts.Config.Timeout > 0 {
		wait = opts.Config.Timeout
	}
	s := &Server{
		cfg:      opts.Config,
		channels: opts.Channels,
		rate:     opts.Rate,
		ws:       opts.WS,
		log:      logging.With().Str("component", "web").Logger(),
		wait:     wait,
		inbound:  make(chan *waiter, inboundBacklog),
	}

	tmpl, err := template.New("schedule").Funcs(template.FuncMap{
		"timecode": s.rate.Timecode,
	}).ParseFS(templateFS, "templates/schedule.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse templates: %w", err)
	}
	s.tmpl = tmpl
	s.router = s.routes()
	return s, nil
}

func (s *Server) String() string { return "web" }

// Handler exposes the router for tests and for mounting behind an
// outer mux.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *chi.Mux {
	reqs := s.cfg.RateLimitReqs
	if reqs <= 0 {
		reqs = defaultRateReqs
	}
	window := s.cfg.RateLimitWindow
	if window <= 0 {
		window = defaultRateWin
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		MaxAge:         86400,
	}))
	r.Use(httprate.LimitByIP(reqs, window))

	r.Get("/", s.handlePage)
	r.Get("/{date:[0-9]{8}}", s.handlePage)
	r.Post("/add", s.handleAdd)
	r.Get("/remove/{id:[0-9]+}", s.handleRemove)
	r.Get("/trigger/{id:[0-9]+}", s.handleTrigger)
	r.Get("/files/{device}", s.handleFiles)
	r.Get("/tarantula.css", s.handleCSS)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWS)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Serve runs the HTTP server until the context is cancelled, then
// shuts it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.wait + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Web adapter listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("web shutdown: %w", err)
	}
	return ctx.Err()
}

// Tick promotes waiters whose actions have all completed, then admits
// newly queued requests into the pipeline. Runs on the tick thread
// under the engine mutex.
func (s *Server) Tick(q *mousecatcher.Queue) {
	if len(s.waiting) > 0 {
		keep := s.waiting[:0]
		for _, wt := range s.waiting {
			if wt.complete() {
				close(wt.done)
				continue
			}
			keep = append(keep, wt)
		}
		s.waiting = keep
	}

	for {
		select {
		case wt := <-s.inbound:
			for _, a := range wt.actions {
				q.Push(a)
			}
			s.waiting = append(s.waiting, wt)
		default:
			return
		}
	}
}

// await queues a batch and blocks until the tick thread promotes it or
// the wait budget runs out. A timed-out waiter stays in the tick
// thread's list until its actions complete; only the HTTP response is
// abandoned.
func (s *Server) await(wt *waiter) error {
	select {
	case s.inbound <- wt:
	default:
		return errBusy
	}
	select {
	case <-wt.done:
		return nil
	case <-time.After(s.wait):
		return errTimeout
	}
}

func (s *Server) defaultChannel(requested string) string {
	if requested == "" {
		return s.channels[0]
	}
	return requested
}

func renderClock(unix int64) string {
	return time.Unix(unix, 0).Format("15:04:05")
}

func (s *Server) renderSeconds(frames int) string {
	return strconv.FormatFloat(s.rate.FramesToSeconds(frames), 'f', 1, 64)
}
