// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tarantula/internal/device"
	"github.com/tomtom215/tarantula/internal/logging"
)

// Entry is one scanned media file as stored in the table.
type Entry struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	ModTime        int64  `json:"mtime"`
	DurationFrames int    `json:"duration_frames"`
	ProbedAt       int64  `json:"probed_at"`
}

// Table is the BadgerDB media file table shared between the scanner and
// the video device catalogue job. Rows live under file|<device>|<name>.
//
// The table is derived state; a rescan rebuilds it, so writes are not
// fsynced.
type Table struct {
	db *badger.DB
}

// OpenTable opens (or creates) the media file table at path.
func OpenTable(path string) (*Table, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create file table directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open file table: %w", err)
	}

	logging.Info().Str("path", path).Msg("Media file table opened")
	return &Table{db: db}, nil
}

// Close releases the underlying database.
func (t *Table) Close() error {
	return t.db.Close()
}

// Put stores or replaces one file row.
func (t *Table) Put(dev, name string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal file row %s: %w", name, err)
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(dev, name), data)
	})
	if err != nil {
		return fmt.Errorf("store file row %s: %w", name, err)
	}
	return nil
}

// Delete removes one file row. Deleting an absent row is not an error.
func (t *Table) Delete(dev, name string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fileKey(dev, name))
	})
	if err != nil {
		return fmt.Errorf("delete file row %s: %w", name, err)
	}
	return nil
}

// Entries returns every row for a device keyed by file name.
func (t *Table) Entries(dev string) (map[string]Entry, error) {
	prefix := filePrefix(dev)
	rows := make(map[string]Entry)

	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(prefix))
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("unmarshal file row %s: %w", name, err)
			}
			rows[name] = e
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read file table: %w", err)
	}
	return rows, nil
}

// Files satisfies device.CatalogueSource: the catalogue refresh job
// reads the table off the tick thread.
func (t *Table) Files(ctx context.Context, dev string) (map[string]device.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := t.Entries(dev)
	if err != nil {
		return nil, err
	}

	files := make(map[string]device.FileInfo, len(rows))
	for name, e := range rows {
		files[name] = device.FileInfo{
			Path:           e.Path,
			DurationFrames: e.DurationFrames,
			Size:           e.Size,
		}
	}
	return files, nil
}

func fileKey(dev, name string) []byte {
	return []byte("file|" + dev + "|" + name)
}

func filePrefix(dev string) []byte {
	return []byte("file|" + dev + "|")
}
