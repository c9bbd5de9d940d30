// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/tarantula/internal/asrun"
	"github.com/tomtom215/tarantula/internal/clock"
	"github.com/tomtom215/tarantula/internal/jobs"
	"github.com/tomtom215/tarantula/internal/mousecatcher"
	"github.com/tomtom215/tarantula/internal/playlist"
	"github.com/tomtom215/tarantula/internal/validation"
)

// ChannelResolver finds a channel's playlist store. The filler's job
// completion resolves its placeholder row through this.
type ChannelResolver interface {
	Channel(name string) (*playlist.Store, bool)
}

// Deps carries the engine services processors may need. Rate is always
// set; DB, Jobs and Channels are required only by the filler.
type Deps struct {
	Rate     clock.Rate
	DB       *asrun.DB
	Jobs     *jobs.Runner
	Channels ChannelResolver
}

// Settings is one processor document. Exactly one of the kind sections
// is read, selected by Kind.
type Settings struct {
	Name string `koanf:"name" validate:"required"`
	Kind string `koanf:"kind" validate:"required,oneof=graphicpair show liveshow filler"`

	GraphicPair GraphicPairConfig `koanf:"graphicpair"`
	Show        ShowConfig        `koanf:"show"`
	LiveShow    LiveShowConfig    `koanf:"liveshow"`
	Filler      FillerConfig      `koanf:"filler"`
}

// Build constructs the processor a document describes.
func Build(s Settings, deps Deps) (mousecatcher.Processor, error) {
	switch s.Kind {
	case "graphicpair":
		return NewGraphicPair(s.GraphicPair, deps.Rate)
	case "show":
		return NewShow(s.Show, deps.Rate)
	case "liveshow":
		return NewLiveShow(s.LiveShow, deps.Rate)
	case "filler":
		return NewFiller(s.Name, s.Filler, deps)
	default:
		return nil, fmt.Errorf("unknown processor kind %q", s.Kind)
	}
}

// Registry is the name to processor map. It is filled at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	procs map[string]mousecatcher.Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]mousecatcher.Processor)}
}

// Register adds a processor under a unique name.
func (r *Registry) Register(name string, p mousecatcher.Processor) error {
	if name == "" {
		return fmt.Errorf("processor name is empty")
	}
	if _, dup := r.procs[name]; dup {
		return fmt.Errorf("processor %q already registered", name)
	}
	r.procs[name] = p
	return nil
}

// Get looks a processor up by name.
func (r *Registry) Get(name string) (mousecatcher.Processor, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.procs))
	for name := range r.procs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Document pairs loaded processor settings with their source file.
type Document struct {
	Settings Settings
	Path     string
}

// LoadSettings reads one processor YAML document.
func LoadSettings(path string) (Settings, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Settings{}, fmt.Errorf("failed to load processor config %s: %w", path, err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal processor config %s: %w", path, err)
	}
	if err := validation.ValidateStruct(&s); err != nil {
		return Settings{}, fmt.Errorf("processor config %s invalid: %w", path, err)
	}
	return s, nil
}

// LoadDir reads every .yaml/.yml document in a directory, sorted by
// file name. A missing directory yields no documents; a broken document
// fails the whole load.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read processor dir %s: %w", dir, err)
	}

	var docs []Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		s, err := LoadSettings(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Settings: s, Path: path})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	names := make(map[string]string, len(docs))
	for _, d := range docs {
		if prev, dup := names[d.Settings.Name]; dup {
			return nil, fmt.Errorf("processor %q defined in both %s and %s",
				d.Settings.Name, prev, d.Path)
		}
		names[d.Settings.Name] = d.Path
	}
	return docs, nil
}

// endSeconds converts a wire duration to the whole-second offset at
// which the following event starts, rounding partial seconds up the
// same way the playlist rounds event ends.
func endSeconds(rate clock.Rate, seconds float64) int64 {
	return rate.EndTime(0, rate.SecondsToFrames(seconds))
}
