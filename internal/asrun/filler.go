// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package asrun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Item is one row of the filler inventory.
type Item struct {
	ID             int64
	File           string
	Device         string
	Type           string
	DurationFrames int
	Weight         float64
}

// Bracket weights the seconds-since-last-play term of the filler score
// for plays falling inside [From, To) seconds ago. To <= 0 leaves the
// bracket open-ended.
type Bracket struct {
	From   int64   `koanf:"from"`
	To     int64   `koanf:"to"`
	Weight float64 `koanf:"weight"`
}

// PickRequest selects one filler item.
//
// The score of a candidate is the sum over brackets of
// weight*sinceLastPlay for the brackets containing sinceLastPlay, plus
// the item's static weight scaled by FileWeightFactor. Never-played
// items take no bracket terms at all. The candidate with the lowest
// score wins; ties break randomly.
type PickRequest struct {
	Type              string
	Device            string
	MaxDurationFrames int
	Blacklist         []int64
	Now               time.Time
	Brackets          []Bracket
	FileWeightFactor  float64
}

// AddItem inserts one inventory row and returns its id.
func (d *DB) AddItem(ctx context.Context, it Item) (int64, error) {
	row := d.conn.QueryRowContext(ctx, `INSERT INTO filler_items
			(id, file, device, type, duration_frames, weight)
		VALUES (nextval('filler_items_seq'), ?, ?, ?, ?, ?)
		RETURNING id`,
		it.File, it.Device, it.Type, it.DurationFrames, it.Weight)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert filler item %q: %w", it.File, err)
	}
	return id, nil
}

// RemoveItem deletes an inventory row and its play history.
func (d *DB) RemoveItem(ctx context.Context, id int64) error {
	if _, err := d.conn.ExecContext(ctx,
		`DELETE FROM filler_plays WHERE item_id = ?`, id); err != nil {
		return fmt.Errorf("delete filler plays %d: %w", id, err)
	}
	if _, err := d.conn.ExecContext(ctx,
		`DELETE FROM filler_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete filler item %d: %w", id, err)
	}
	return nil
}

// Items returns the whole inventory ordered by id.
func (d *DB) Items(ctx context.Context) ([]Item, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT
			id, file, device, type, duration_frames, weight
		FROM filler_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query filler items: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			d.log.Error().Err(cerr).Msg("Filler rows close failed")
		}
	}()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.File, &it.Device, &it.Type,
			&it.DurationFrames, &it.Weight); err != nil {
			return nil, fmt.Errorf("scan filler item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// RecordPlay appends one play of an item to the history.
func (d *DB) RecordPlay(ctx context.Context, itemID int64, at time.Time) error {
	if _, err := d.conn.ExecContext(ctx,
		`INSERT INTO filler_plays (item_id, played_at) VALUES (?, ?)`,
		itemID, at.Unix()); err != nil {
		return fmt.Errorf("record filler play %d: %w", itemID, err)
	}
	return nil
}

// PickItem runs the weighted selection. ok is false when no candidate
// satisfies the constraints.
func (d *DB) PickItem(ctx context.Context, req PickRequest) (it Item, ok bool, err error) {
	where := []string{"i.type = ?", "i.device = ?", "i.duration_frames <= ?"}
	args := []any{req.Now.Unix(), req.Type, req.Device, req.MaxDurationFrames}
	if len(req.Blacklist) > 0 {
		marks := strings.TrimRight(strings.Repeat("?,", len(req.Blacklist)), ",")
		where = append(where, fmt.Sprintf("i.id NOT IN (%s)", marks))
		for _, id := range req.Blacklist {
			args = append(args, id)
		}
	}

	query := fmt.Sprintf(`WITH last_plays AS (
			SELECT item_id, MAX(played_at) AS last_play
			FROM filler_plays
			GROUP BY item_id
		),
		candidates AS (
			SELECT i.id, i.file, i.device, i.type, i.duration_frames, i.weight,
				CAST(? AS BIGINT) - lp.last_play AS since
			FROM filler_items i
			LEFT JOIN last_plays lp ON lp.item_id = i.id
			WHERE %s
		)
		SELECT id, file, device, type, duration_frames, weight
		FROM candidates
		ORDER BY %s ASC, random()
		LIMIT 1`,
		strings.Join(where, " AND "),
		scoreExpr(req.Brackets, req.FileWeightFactor))

	row := d.conn.QueryRowContext(ctx, query, args...)
	err = row.Scan(&it.ID, &it.File, &it.Device, &it.Type,
		&it.DurationFrames, &it.Weight)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("pick filler item: %w", err)
	}
	return it, true, nil
}

// scoreExpr renders the bracketed score as SQL. Bracket bounds come
// from startup configuration, never from the wire, so interpolating
// them as literals is safe and keeps the placeholder list short.
func scoreExpr(brackets []Bracket, fileWeightFactor float64) string {
	terms := make([]string, 0, len(brackets)+1)
	for _, b := range brackets {
		if b.To > 0 {
			terms = append(terms, fmt.Sprintf(
				"(%g * CASE WHEN since >= %d AND since < %d THEN since ELSE 0 END)",
				b.Weight, b.From, b.To))
		} else {
			terms = append(terms, fmt.Sprintf(
				"(%g * CASE WHEN since >= %d THEN since ELSE 0 END)",
				b.Weight, b.From))
		}
	}
	terms = append(terms, fmt.Sprintf("(weight * %g)", fileWeightFactor))
	return "(" + strings.Join(terms, " + ") + ")"
}
