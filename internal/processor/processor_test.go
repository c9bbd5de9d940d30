// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package processor

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tomtom215/tarantula/internal/clock"
)

func TestBuildKinds(t *testing.T) {
	t.Parallel()

	deps := Deps{Rate: clock.DefaultRate}

	p, err := Build(Settings{
		Name:        "strap",
		Kind:        "graphicpair",
		GraphicPair: GraphicPairConfig{Device: "cg"},
	}, deps)
	if err != nil || p == nil {
		t.Fatalf("graphic pair build failed: %v", err)
	}

	if _, err := Build(Settings{Name: "x", Kind: "teleporter"}, deps); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	// Fillers need the engine services; bare deps must fail, not panic.
	if _, err := Build(Settings{Name: "fill", Kind: "filler", Filler: fillerTestConfig()}, deps); err == nil {
		t.Fatal("expected error for filler without services")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	gp, err := NewGraphicPair(GraphicPairConfig{Device: "cg"}, clock.DefaultRate)
	if err != nil {
		t.Fatalf("NewGraphicPair: %v", err)
	}

	if err := r.Register("strap", gp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("score", gp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("strap", gp); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := r.Register("", gp); err == nil {
		t.Fatal("expected empty name error")
	}

	if _, ok := r.Get("strap"); !ok {
		t.Fatal("registered processor not found")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Fatal("unregistered processor found")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"score", "strap"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestLoadDirDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("10-show.yaml", `
name: evening-show
kind: show
show:
  video_device: vt
  fill_processor: fill
  fill_seconds: 20
`)
	write("20-strap.yml", `
name: strap
kind: graphicpair
graphicpair:
  device: cg
  default_layer: 4
`)
	write("notes.txt", "not a processor")

	docs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("documents = %d, want 2", len(docs))
	}
	if docs[0].Settings.Name != "evening-show" || docs[1].Settings.Name != "strap" {
		t.Fatalf("wrong order: %s, %s", docs[0].Settings.Name, docs[1].Settings.Name)
	}
	if docs[0].Settings.Show.VideoDevice != "vt" || docs[0].Settings.Show.FillSeconds != 20 {
		t.Fatalf("show settings wrong: %+v", docs[0].Settings.Show)
	}
	if docs[1].Settings.GraphicPair.DefaultLayer != 4 {
		t.Fatalf("graphic pair settings wrong: %+v", docs[1].Settings.GraphicPair)
	}

	write("30-dup.yaml", `
name: strap
kind: graphicpair
graphicpair:
  device: cg
`)
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoadDirMissing(t *testing.T) {
	t.Parallel()

	docs, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil || docs != nil {
		t.Fatalf("missing dir should be empty, got %v, %v", docs, err)
	}
}
