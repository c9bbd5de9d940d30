// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package asrun

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tarantula/internal/config"
	"github.com/tomtom215/tarantula/internal/logging"
	"github.com/tomtom215/tarantula/internal/metrics"
)

// maxPending bounds the appender buffer when the database is down.
// Beyond it the oldest rows are dropped with an error logged.
const maxPending = 10000

// Row is one as-run record: a single event dispatch on a channel.
type Row struct {
	ID             uuid.UUID
	Channel        string
	EventID        int
	Device         string
	Family         string
	Action         int
	Description    string
	TriggerAt      int64
	DurationFrames int
	DispatchedAt   time.Time
}

// DB is the as-run log. Dispatch rows are buffered in memory and
// flushed in batches by the appender loop; the filler tables are
// queried directly.
type DB struct {
	conn *sql.DB
	log  zerolog.Logger

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []Row
	kick    chan struct{}
}

// Open opens (creating if needed) the as-run database and its schema.
func Open(cfg config.AsRunConfig) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create as-run directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open as-run database: %w", err)
	}

	d := &DB{
		conn:          conn,
		log:           logging.With().Str("component", "asrun").Logger(),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		kick:          make(chan struct{}, 1),
	}
	if d.batchSize <= 0 {
		d.batchSize = 64
	}
	if d.flushInterval <= 0 {
		d.flushInterval = 2 * time.Second
	}

	if err := d.createTables(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

// Close flushes whatever is buffered and closes the connection.
func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.Flush(ctx)
	return d.conn.Close()
}

// Conn exposes the underlying connection for maintenance tooling.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS asrun_events (
			id UUID PRIMARY KEY,
			channel TEXT NOT NULL,
			event_id INTEGER NOT NULL,
			device TEXT NOT NULL,
			family TEXT NOT NULL,
			action INTEGER NOT NULL,
			description TEXT,
			trigger_at BIGINT NOT NULL,
			duration_frames INTEGER NOT NULL,
			dispatched_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_asrun_channel_time
			ON asrun_events(channel, dispatched_at)`,
		`CREATE SEQUENCE IF NOT EXISTS filler_items_seq`,
		`CREATE TABLE IF NOT EXISTS filler_items (
			id BIGINT PRIMARY KEY,
			file TEXT NOT NULL,
			device TEXT NOT NULL,
			type TEXT NOT NULL,
			duration_frames INTEGER NOT NULL,
			weight DOUBLE NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS filler_plays (
			item_id BIGINT NOT NULL,
			played_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_filler_plays_item
			ON filler_plays(item_id)`,
	}
	for _, q := range queries {
		if _, err := d.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create as-run schema: %w", err)
		}
	}
	return nil
}

// Record buffers one dispatch row for the appender loop. It never
// blocks the caller; the tick thread calls this on every dispatch.
func (d *DB) Record(row Row) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.DispatchedAt.IsZero() {
		row.DispatchedAt = time.Now()
	}

	d.mu.Lock()
	d.pending = append(d.pending, row)
	if over := len(d.pending) - maxPending; over > 0 {
		d.pending = d.pending[over:]
		metrics.AsRunErrors.Inc()
		d.log.Error().Int("dropped", over).Msg("As-run buffer overflow")
	}
	full := len(d.pending) >= d.batchSize
	d.mu.Unlock()

	if full {
		select {
		case d.kick <- struct{}{}:
		default:
		}
	}
}

// Pending reports the number of buffered rows.
func (d *DB) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// String names the appender service in supervisor logs.
func (d *DB) String() string { return "asrun" }

// Serve runs the appender loop until the context is cancelled, then
// drains one final time.
func (d *DB) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drain, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			d.Flush(drain)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			d.Flush(ctx)
		case <-d.kick:
			d.Flush(ctx)
		}
	}
}

// Flush writes all buffered rows in one transaction. On failure the
// rows return to the buffer for the next attempt.
func (d *DB) Flush(ctx context.Context) {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := d.insertBatch(ctx, batch); err != nil {
		metrics.AsRunErrors.Inc()
		d.log.Error().Err(err).Int("rows", len(batch)).Msg("As-run flush failed")

		d.mu.Lock()
		d.pending = append(batch, d.pending...)
		d.mu.Unlock()
		return
	}
	metrics.RecordAsRunBatch(len(batch))
}

func (d *DB) insertBatch(ctx context.Context, batch []Row) (err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin as-run batch: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.log.Error().Err(rbErr).Msg("As-run rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO asrun_events (
		id, channel, event_id, device, family, action,
		description, trigger_at, duration_frames, dispatched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare as-run insert: %w", err)
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, row := range batch {
		if _, err = stmt.ExecContext(ctx,
			row.ID.String(), row.Channel, row.EventID, row.Device,
			row.Family, row.Action, row.Description, row.TriggerAt,
			row.DurationFrames, row.DispatchedAt,
		); err != nil {
			return fmt.Errorf("insert as-run row %s: %w", row.ID, err)
		}
	}
	return tx.Commit()
}

// EventsBetween returns as-run rows for a channel in [from, to), newest
// first, for operator review tooling.
func (d *DB) EventsBetween(ctx context.Context, channel string, from, to time.Time) ([]Row, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT
			CAST(id AS VARCHAR), channel, event_id, device, family, action,
			description, trigger_at, duration_frames, dispatched_at
		FROM asrun_events
		WHERE channel = ? AND dispatched_at >= ? AND dispatched_at < ?
		ORDER BY dispatched_at DESC`,
		channel, from, to)
	if err != nil {
		return nil, fmt.Errorf("query as-run events: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			d.log.Error().Err(cerr).Msg("As-run rows close failed")
		}
	}()

	var out []Row
	for rows.Next() {
		var (
			r  Row
			id string
		)
		if err := rows.Scan(&id, &r.Channel, &r.EventID, &r.Device,
			&r.Family, &r.Action, &r.Description, &r.TriggerAt,
			&r.DurationFrames, &r.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan as-run row: %w", err)
		}
		if parsed, perr := uuid.Parse(id); perr == nil {
			r.ID = parsed
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
