// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package playlist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tarantula/internal/logging"
)

// ErrNoSnapshot marks restores of channels that were never snapshotted.
var ErrNoSnapshot = errors.New("no snapshot present")

// SnapshotStore persists per-channel timeline snapshots in BadgerDB for
// crash-recovery warm starts.
//
// Each save writes a complete new generation of rows and then flips a
// per-channel generation pointer in a single transaction, so a reader
// always sees either the previous snapshot or the new one, never a
// partial write. Old generations are dropped after the flip.
type SnapshotStore struct {
	db *badger.DB
}

// snapshotMeta describes one saved generation.
type snapshotMeta struct {
	Channel string `json:"channel"`
	NextID  int    `json:"next_id"`
	SavedAt int64  `json:"saved_at"`
	Rows    int    `json:"rows"`
}

// OpenSnapshots opens (or creates) the snapshot database at path.
func OpenSnapshots(path string) (*SnapshotStore, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	// Snapshots exist for crash recovery; fsync every write.
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	logging.Info().Str("path", path).Msg("Snapshot store opened")
	return &SnapshotStore{db: db}, nil
}

// Close releases the underlying database.
func (ss *SnapshotStore) Close() error {
	return ss.db.Close()
}

// Save atomically persists a channel's rows and id counter.
// Callers capture rows under the engine mutex and invoke Save outside it.
func (ss *SnapshotStore) Save(channel string, rows []Event, nextID int) error {
	current, err := ss.generation(channel)
	if err != nil {
		return err
	}
	next := current + 1

	wb := ss.db.NewWriteBatch()
	defer wb.Cancel()

	for _, ev := range rows {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", ev.ID, err)
		}
		if err := wb.Set(rowKey(channel, next, ev.ID), data); err != nil {
			return fmt.Errorf("batch event %d: %w", ev.ID, err)
		}
	}

	meta := snapshotMeta{
		Channel: channel,
		NextID:  nextID,
		SavedAt: time.Now().Unix(),
		Rows:    len(rows),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal snapshot meta: %w", err)
	}
	if err := wb.Set(metaKey(channel, next), metaData); err != nil {
		return fmt.Errorf("batch snapshot meta: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush snapshot batch: %w", err)
	}

	// The pointer flip is the commit point.
	err = ss.db.Update(func(txn *badger.Txn) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next)
		return txn.Set(genKey(channel), buf[:])
	})
	if err != nil {
		return fmt.Errorf("flip snapshot generation: %w", err)
	}

	if current > 0 {
		ss.dropGeneration(channel, current)
	}

	logging.Debug().
		Str("channel", channel).
		Uint64("generation", next).
		Int("rows", len(rows)).
		Msg("Snapshot saved")
	return nil
}

// Restore loads the current snapshot generation for a channel.
func (ss *SnapshotStore) Restore(channel string) ([]Event, int, error) {
	gen, err := ss.generation(channel)
	if err != nil {
		return nil, 0, err
	}
	if gen == 0 {
		return nil, 0, fmt.Errorf("channel %s: %w", channel, ErrNoSnapshot)
	}

	var (
		events []Event
		meta   snapshotMeta
	)
	err = ss.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = genPrefix(channel, gen)
		it := txn.NewIterator(opts)
		defer it.Close()

		metaK := string(metaKey(channel, gen))
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(item.Key()) == metaK {
				if err := json.Unmarshal(data, &meta); err != nil {
					return fmt.Errorf("unmarshal snapshot meta: %w", err)
				}
				continue
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return fmt.Errorf("unmarshal snapshot row: %w", err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}

	logging.Info().
		Str("channel", channel).
		Uint64("generation", gen).
		Int("rows", len(events)).
		Msg("Snapshot restored")
	return events, meta.NextID, nil
}

// generation reads the current generation pointer, 0 when absent.
func (ss *SnapshotStore) generation(channel string) (uint64, error) {
	var gen uint64
	err := ss.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(genKey(channel))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				gen = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("read snapshot generation: %w", err)
	}
	return gen, nil
}

// dropGeneration deletes a superseded generation. Failures only leak
// space, so they are logged and swallowed.
func (ss *SnapshotStore) dropGeneration(channel string, gen uint64) {
	var keys [][]byte
	err := ss.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = genPrefix(channel, gen)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err == nil && len(keys) > 0 {
		wb := ss.db.NewWriteBatch()
		defer wb.Cancel()
		for _, k := range keys {
			if err = wb.Delete(k); err != nil {
				break
			}
		}
		if err == nil {
			err = wb.Flush()
		}
	}
	if err != nil {
		logging.Warn().
			Err(err).
			Str("channel", channel).
			Uint64("generation", gen).
			Msg("Failed to drop old snapshot generation")
	}
}

func genKey(channel string) []byte {
	return []byte("pl|" + channel + "|gen")
}

func genPrefix(channel string, gen uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], gen)
	return append([]byte("pl|"+channel+"|g|"), append(buf[:], '|')...)
}

func rowKey(channel string, gen uint64, id int) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return append(genPrefix(channel, gen), append([]byte("ev|"), buf[:]...)...)
}

func metaKey(channel string, gen uint64) []byte {
	return append(genPrefix(channel, gen), []byte("meta")...)
}
