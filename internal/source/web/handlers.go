// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/source"
)

// handleAdd accepts an event document as the request body and queues
// an add for the named (or default) channel.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "400 BAD DATA", http.StatusBadRequest)
		return
	}
	ev, err := source.DecodeEvent(body)
	if err != nil {
		http.Error(w, "400 "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mutate(w, &mousecatcher.EventAction{
		ID:      uuid.New(),
		Kind:    mousecatcher.KindAdd,
		Channel: s.defaultChannel(r.URL.Query().Get("channel")),
		Event:   ev,
	})
}

// handleRemove queues a remove for the row named in the path.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "400 BAD ID", http.StatusBadRequest)
		return
	}
	s.mutate(w, &mousecatcher.EventAction{
		ID:      uuid.New(),
		Kind:    mousecatcher.KindRemove,
		Channel: s.defaultChannel(r.URL.Query().Get("channel")),
		EventID: id,
	})
}

// handleTrigger releases a pending manual event immediately.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "400 BAD ID", http.StatusBadRequest)
		return
	}
	s.mutate(w, &mousecatcher.EventAction{
		ID:      uuid.New(),
		Kind:    mousecatcher.KindTrigger,
		Channel: s.defaultChannel(r.URL.Query().Get("channel")),
		EventID: id,
	})
}

// mutate queues one mutation action and answers with the protocol's
// plain-text status vocabulary.
func (s *Server) mutate(w http.ResponseWriter, a *mousecatcher.EventAction) {
	wt := &waiter{actions: []*mousecatcher.EventAction{a}, done: make(chan struct{})}
	if err := s.await(wt); err != nil {
		s.replyWaitError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if a.Return != "" {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "500 "+a.Return+"\n")
		return
	}
	io.WriteString(w, "200 SUCCESS\n")
}

// handleFiles requests one device's catalogue and answers with the
// snapshot document.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	deviceName := chi.URLParam(r, "device")
	fv := &filesView{}
	a := &mousecatcher.EventAction{
		ID:     uuid.New(),
		Kind:   mousecatcher.KindUpdateFiles,
		Device: deviceName,
		Source: s,
		Corr:   fv,
	}

	wt := &waiter{actions: []*mousecatcher.EventAction{a}, done: make(chan struct{})}
	if err := s.await(wt); err != nil {
		s.replyWaitError(w, err)
		return
	}
	if a.Return != "" {
		http.Error(w, "500 "+a.Return, http.StatusInternalServerError)
		return
	}
	if fv.err != nil {
		http.Error(w, "500 "+fv.err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write(fv.doc)
}

func (s *Server) replyWaitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBusy):
		http.Error(w, "503 BUSY", http.StatusServiceUnavailable)
	case errors.Is(err, errTimeout):
		http.Error(w, "504 ENGINE TIMEOUT", http.StatusGatewayTimeout)
	default:
		http.Error(w, "500 "+err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(stylesheet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		http.NotFound(w, r)
		return
	}
	s.ws.ServeHTTP(w, r)
}
