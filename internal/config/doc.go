// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package config loads and validates daemon configuration with Koanf v2.
//
// Sources are layered: struct defaults, then an optional YAML file
// (tarantula.yaml, or CONFIG_PATH), then TARANTULA_* environment
// variables. Structured sections (channels, reload time sequences) are
// file-only; scalar settings and comma-separated lists may come from the
// environment.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Cannot load configuration")
//	}
//
// Per-plugin configuration documents live outside this package: the main
// config names the directories (plugins.device_dir, plugins.processor_dir)
// and internal/plugin parses the YAML documents inside them.
package config
