package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

// EventRecord is one accepted engagement event as stored in the event log.
type EventRecord struct {
	ID           int64
	ItemID       string
	Type         permanence.EventType
	Ratio        float64
	Weight       float64
	Contribution float64
	OccurredAt   time.Time
	RecordedAt   time.Time
}

// RecordEvent saves the item's updated engagement fields and appends the
// event to the log in one transaction.
func (db *DB) RecordEvent(ctx context.Context, it *permanence.Item, ev permanence.Event, contribution float64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record event: %w", err)
	}
	defer tx.Rollback()

	if err := saveItem(ctx, tx, it); err != nil {
		return err
	}

	weight := ev.Weight
	if weight == 0 {
		weight = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO engagement_events (item_id, event_type, ratio, weight, contribution, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, it.ID, string(ev.Type), ev.Ratio, weight, contribution, millis(ev.At), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for an item, newest first.
func (db *DB) ListEvents(ctx context.Context, itemID string, limit int) ([]EventRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, item_id, event_type, ratio, weight, contribution, occurred_at, recorded_at
		FROM engagement_events WHERE item_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var typ string
		var occurred, recorded int64
		if err := rows.Scan(&e.ID, &e.ItemID, &typ, &e.Ratio, &e.Weight, &e.Contribution, &occurred, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = permanence.EventType(typ)
		e.OccurredAt = fromMillis(occurred)
		e.RecordedAt = fromMillis(recorded)
		events = append(events, e)
	}
	return events, rows.Err()
}
