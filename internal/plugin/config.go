// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/validation"
)

// Document pairs loaded device settings with the file they came from,
// so the supervisor can reload the same file later.
type Document struct {
	Settings device.Settings
	Path     string
}

// LoadSettings reads one device plugin YAML document.
func LoadSettings(path string) (device.Settings, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return device.Settings{}, fmt.Errorf("failed to load plugin config %s: %w", path, err)
	}

	s := device.Settings{
		// Handshake every second at the default frame rate.
		PollPeriod: 25,
	}
	if err := k.Unmarshal("", &s); err != nil {
		return device.Settings{}, fmt.Errorf("failed to unmarshal plugin config %s: %w", path, err)
	}
	if err := validation.ValidateStruct(&s); err != nil {
		return device.Settings{}, fmt.Errorf("plugin config %s invalid: %w", path, err)
	}
	return s, nil
}

// LoadDir reads every .yaml/.yml document in a directory, sorted by
// file name so adoption order is stable across restarts. A missing
// directory yields no documents; a broken document fails the whole
// load, since a playout chain with a silently absent device is worse
// than one that refuses to start.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin dir %s: %w", dir, err)
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
			return nil, fmt.Errorf("device %q defined in both %s and %s",
				d.Settings.Name, prev, d.Path)
		}
		names[d.Settings.Name] = d.Path
	}
	return docs, nil
}
