// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/tarantula/internal/events"
)

// startHub runs a hub until the test ends.
func startHub(t *testing.T) *Hub {
	t.Helper()

	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return h
}

// dial connects to the hub's handler with an allowed origin.
func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(url, "http")
	header := http.Header{"Origin": []string{"http://playout.local"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubBroadcastReachesClient(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(h.Handler([]string{"*"}))
	defer srv.Close()

	conn := dial(t, srv.URL)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	h.Broadcast(events.Frame{
		Topic: events.TopicPlayBegin,
		Data:  json.RawMessage(`{"channel":"svt1"}`),
	})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame events.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Topic != events.TopicPlayBegin {
		t.Errorf("topic = %q, want %q", frame.Topic, events.TopicPlayBegin)
	}
	if string(frame.Data) != `{"channel":"svt1"}` {
		t.Errorf("data = %s", frame.Data)
	}
}

func TestHubFansOutToEveryClient(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(h.Handler([]string{"*"}))
	defer srv.Close()

	conns := []*websocket.Conn{dial(t, srv.URL), dial(t, srv.URL), dial(t, srv.URL)}
	waitFor(t, "client registrations", func() bool { return h.ClientCount() == 3 })

	h.Broadcast(events.Frame{Topic: events.TopicDeviceStatus, Data: json.RawMessage(`{}`)})

	for i, conn := range conns {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("set read deadline: %v", err)
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(h.Handler([]string{"*"}))
	defer srv.Close()

	conn := dial(t, srv.URL)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	_ = conn.Close()
	waitFor(t, "client removal", func() bool { return h.ClientCount() == 0 })
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	// No Serve loop draining; every slot fills and the rest drop.
	h := NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Broadcast(events.Frame{Topic: events.TopicPlayEnd})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on saturated hub")
	}
}

func TestHandlerRejectsDisallowedOrigin(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(h.Handler([]string{"http://playout.local"}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tests := []struct {
		name   string
		header http.Header
		wantOK bool
	}{
		{"allowed origin", http.Header{"Origin": []string{"http://playout.local"}}, true},
		{"other origin", http.Header{"Origin": []string{"http://evil.example"}}, false},
		{"missing origin", http.Header{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, tt.header)
			if tt.wantOK && err != nil {
				t.Fatalf("dial: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Fatal("dial succeeded, want handshake rejection")
			}
			if conn != nil {
				_ = conn.Close()
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"wildcard", "http://anything.example", []string{"*"}, true},
		{"exact match", "http://playout.local", []string{"http://playout.local"}, true},
		{"no match", "http://other.example", []string{"http://playout.local"}, false},
		{"empty origin", "", []string{"*"}, false},
		{"empty allow list", "http://playout.local", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := originAllowed(tt.origin, tt.allowed); got != tt.want {
				t.Errorf("originAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
			}
		})
	}
}
