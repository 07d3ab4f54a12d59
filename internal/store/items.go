package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

const itemColumns = `id, user_id, kind, created_at, raw_engagement, engagement, event_count,
	last_interaction_at, current_score, state, sustain_streak, streak_at, last_evaluated_at`

// CreateItem inserts a new item. Returns permanence.ErrDuplicateItem if the id exists.
func (db *DB) CreateItem(ctx context.Context, it *permanence.Item) error {
	now := time.Now().UnixMilli()
	result, err := db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, it.ID, it.UserID, string(it.Kind), millis(it.CreatedAt),
		it.RawEngagement, it.Engagement, it.EventCount,
		millis(it.LastInteractionAt), it.CurrentScore, string(it.State),
		it.SustainStreak, nullMillis(it.StreakAt), nullMillis(it.LastEvaluatedAt), now)
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("create item %s: %w", it.ID, permanence.ErrDuplicateItem)
	}
	return nil
}

// GetItem returns an item by id, or nil if not found.
func (db *DB) GetItem(ctx context.Context, id string) (*permanence.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// SaveItem persists the mutable fields of an item.
func (db *DB) SaveItem(ctx context.Context, it *permanence.Item) error {
	return saveItem(ctx, db.DB, it)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveItem(ctx context.Context, x execer, it *permanence.Item) error {
	result, err := x.ExecContext(ctx, `
		UPDATE items SET raw_engagement = ?, engagement = ?, event_count = ?,
			last_interaction_at = ?, current_score = ?, state = ?,
			sustain_streak = ?, streak_at = ?, last_evaluated_at = ?, updated_at = ?
		WHERE id = ?
	`, it.RawEngagement, it.Engagement, it.EventCount,
		millis(it.LastInteractionAt), it.CurrentScore, string(it.State),
		it.SustainStreak, nullMillis(it.StreakAt), nullMillis(it.LastEvaluatedAt),
		time.Now().UnixMilli(), it.ID)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("save item %s: %w", it.ID, permanence.ErrItemNotFound)
	}
	return nil
}

// ListEvaluableIDs returns ids of Active and Fading items greater than after,
// in id order. Paging by id keeps a sweep stable while items change state.
func (db *DB) ListEvaluableIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM items
		WHERE state IN ('active', 'fading') AND id > ?
		ORDER BY id
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluable: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan evaluable id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByState returns the number of items in each state.
func (db *DB) CountByState(ctx context.Context) (map[permanence.State]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT state, COUNT(*) FROM items GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := map[permanence.State]int{
		permanence.StateActive:   0,
		permanence.StateFading:   0,
		permanence.StateExpired:  0,
		permanence.StateArchived: 0,
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[permanence.State(state)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*permanence.Item, error) {
	var it permanence.Item
	var kind, state string
	var createdAt, lastInteraction int64
	var streakAt, lastEvaluated sql.NullInt64
	if err := row.Scan(&it.ID, &it.UserID, &kind, &createdAt,
		&it.RawEngagement, &it.Engagement, &it.EventCount,
		&lastInteraction, &it.CurrentScore, &state,
		&it.SustainStreak, &streakAt, &lastEvaluated); err != nil {
		return nil, err
	}
	it.Kind = permanence.Kind(kind)
	it.State = permanence.State(state)
	it.CreatedAt = fromMillis(createdAt)
	it.LastInteractionAt = fromMillis(lastInteraction)
	it.StreakAt = fromNullMillis(streakAt)
	it.LastEvaluatedAt = fromNullMillis(lastEvaluated)
	return &it, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) time.Time {
	if !ms.Valid {
		return time.Time{}
	}
	return fromMillis(ms.Int64)
}

// PurgeExpired deletes Expired items last evaluated before cutoff, along with
// their event log. Archived items are never purged.
func (db *DB) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `
		DELETE FROM items
		WHERE state = 'expired' AND last_evaluated_at IS NOT NULL AND last_evaluated_at < ?
	`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return result.RowsAffected()
}
