// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/config"
)

const testRate = clock.Rate(25)

func newTestTable(t *testing.T) *Table {
	t.Helper()

	table, err := OpenTable(t.TempDir())
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// countingProbe records which paths were probed and returns a fixed
// duration, failing paths listed in fail.
type countingProbe struct {
	mu     sync.Mutex
	calls  map[string]int
	frames int
	fail   map[string]bool
}

func newCountingProbe(frames int) *countingProbe {
	return &countingProbe{calls: make(map[string]int), frames: frames, fail: make(map[string]bool)}
}

func (p *countingProbe) probe(_ context.Context, path string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[filepath.Base(path)]++
	if p.fail[filepath.Base(path)] {
		return 0, fmt.Errorf("unreadable %s", path)
	}
	return p.frames, nil
}

func (p *countingProbe) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func newTestScanner(t *testing.T, root string, table *Table, probe *countingProbe) *Scanner {
	t.Helper()

	s := New(config.ScannerConfig{
		Roots:       []string{root},
		Extensions:  []string{".mp4", ".mov"},
		Device:      "vt",
		Concurrency: 2,
	}, testRate, table)
	s.probe = probe.probe
	return s
}

func TestScanPopulatesTable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "opener.mp4", "aaaa")
	writeFile(t, root, "ident.mov", "bbbbbb")
	writeFile(t, root, "notes.txt", "ignored")

	sub := filepath.Join(root, "promos")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "summer.mp4", "cc")

	table := newTestTable(t)
	probe := newCountingProbe(250)
	s := newTestScanner(t, root, table, probe)

	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	rows, err := table.Entries("vt")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (got %v)", len(rows), rows)
	}

	opener, ok := rows["opener.mp4"]
	if !ok {
		t.Fatal("opener.mp4 missing from table")
	}
	if opener.DurationFrames != 250 {
		t.Errorf("duration = %d, want 250", opener.DurationFrames)
	}
	if opener.Size != 4 {
		t.Errorf("size = %d, want 4", opener.Size)
	}
	if opener.Path != filepath.Join(root, "opener.mp4") {
		t.Errorf("path = %q", opener.Path)
	}

	if _, ok := rows["notes.txt"]; ok {
		t.Error("extension filter let notes.txt through")
	}
	if _, ok := rows["summer.mp4"]; !ok {
		t.Error("subdirectory file missing from table")
	}
}

func TestScanSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "opener.mp4", "aaaa")

	table := newTestTable(t)
	probe := newCountingProbe(100)
	s := newTestScanner(t, root, table, probe)

	for i := 0; i < 2; i++ {
		if err := s.Scan(context.Background()); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}

	if got := probe.count("opener.mp4"); got != 1 {
		t.Errorf("probe calls = %d, want 1 (unchanged file re-probed)", got)
	}
}

func TestScanReprobesChangedFiles(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "opener.mp4", "aaaa")
	writeFile(t, root, "ident.mov", "bb")

	table := newTestTable(t)
	probe := newCountingProbe(100)
	s := newTestScanner(t, root, table, probe)

	if err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Same size, newer mtime: still a change.
	bumped := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, bumped, bumped); err != nil {
		t.Fatal(err)
	}
	if err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := probe.count("opener.mp4"); got != 2 {
		t.Errorf("opener probe calls = %d, want 2", got)
	}
	if got := probe.count("ident.mov"); got != 1 {
		t.Errorf("ident probe calls = %d, want 1", got)
	}
}

func TestScanRemovesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "opener.mp4", "aaaa")
	writeFile(t, root, "ident.mov", "bb")

	table := newTestTable(t)
	s := newTestScanner(t, root, table, newCountingProbe(100))

	if err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	rows, err := table.Entries("vt")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rows["opener.mp4"]; ok {
		t.Error("deleted file still in table")
	}
	if _, ok := rows["ident.mov"]; !ok {
		t.Error("surviving file dropped from table")
	}
}

func TestScanSurvivesProbeFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.mp4", "aaaa")
	writeFile(t, root, "good.mov", "bb")

	table := newTestTable(t)
	probe := newCountingProbe(100)
	probe.fail["broken.mp4"] = true
	s := newTestScanner(t, root, table, probe)

	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan aborted on probe failure: %v", err)
	}

	rows, err := table.Entries("vt")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rows["broken.mp4"]; ok {
		t.Error("failed probe stored a row")
	}
	if _, ok := rows["good.mov"]; !ok {
		t.Error("good file missing")
	}
}

func TestScanExportsCatalogue(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "opener.mp4", "aaaa")

	table := newTestTable(t)
	probe := newCountingProbe(125)
	s := newTestScanner(t, root, table, probe)
	s.cfg.ExportPath = filepath.Join(t.TempDir(), "catalogue.json")

	if err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.cfg.ExportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}

	var doc struct {
		Device string           `json:"device"`
		Files  map[string]Entry `json:"files"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if doc.Device != "vt" {
		t.Errorf("device = %q, want vt", doc.Device)
	}
	if e, ok := doc.Files["opener.mp4"]; !ok || e.DurationFrames != 125 {
		t.Errorf("export files = %v", doc.Files)
	}
}

func TestScanMissingRootFails(t *testing.T) {
	table := newTestTable(t)
	s := newTestScanner(t, filepath.Join(t.TempDir(), "absent"), table, newCountingProbe(100))

	if err := s.Scan(context.Background()); err == nil {
		t.Error("scan of missing root succeeded")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	root := t.TempDir()
	table := newTestTable(t)
	s := newTestScanner(t, root, table, newCountingProbe(100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestFfprobeProberParsesDuration(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fakeprobe")
	body := "#!/bin/sh\necho '{\"format\":{\"duration\":\"10.5\"}}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	probe := ffprobeProber(script, 5*time.Second, testRate)
	frames, err := probe(context.Background(), "/media/opener.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	// 10.5 s at 25 fps rounds half up to 263 frames.
	if frames != 263 {
		t.Errorf("frames = %d, want 263", frames)
	}
}

func TestFfprobeProberRejectsMissingDuration(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fakeprobe")
	body := "#!/bin/sh\necho '{\"format\":{}}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	probe := ffprobeProber(script, 5*time.Second, testRate)
	if _, err := probe(context.Background(), "/media/opener.mp4"); err == nil {
		t.Error("probe accepted output without a duration")
	}
}
