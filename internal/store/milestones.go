package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

// MilestoneCursor marks a position in a user's archive listing.
// The zero value starts from the newest entry.
type MilestoneCursor struct {
	CreatedAt time.Time
	ItemID    string
}

// AddMilestone appends an item snapshot to the archive. Entries are never
// updated or removed; a second add for the same item returns
// permanence.ErrDuplicateArchive.
func (db *DB) AddMilestone(ctx context.Context, it *permanence.Item, archivedAt time.Time) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO milestones (item_id, user_id, kind, created_at, raw_engagement, engagement,
			event_count, last_interaction_at, current_score, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO NOTHING
	`, it.ID, it.UserID, string(it.Kind), millis(it.CreatedAt), it.RawEngagement, it.Engagement,
		it.EventCount, millis(it.LastInteractionAt), it.CurrentScore, millis(archivedAt))
	if err != nil {
		return fmt.Errorf("add milestone: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("add milestone %s: %w", it.ID, permanence.ErrDuplicateArchive)
	}
	return nil
}

// ListMilestonesPage returns up to limit archived items for a user strictly
// after cursor, ordered by created_at descending and item id ascending.
// The rows are fully read before returning so callers may issue further
// queries between pages.
func (db *DB) ListMilestonesPage(ctx context.Context, userID string, cursor MilestoneCursor, limit int) ([]permanence.Item, error) {
	var (
		query = `
		SELECT item_id, user_id, kind, created_at, raw_engagement, engagement,
			event_count, last_interaction_at, current_score, archived_at
		FROM milestones WHERE user_id = ?`
		args = []any{userID}
	)
	if cursor.ItemID != "" {
		ms := millis(cursor.CreatedAt)
		query += ` AND (created_at < ? OR (created_at = ? AND item_id > ?))`
		args = append(args, ms, ms, cursor.ItemID)
	}
	query += ` ORDER BY created_at DESC, item_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var items []permanence.Item
	for rows.Next() {
		var it permanence.Item
		var kind string
		var createdAt, lastInteraction, archivedAt int64
		if err := rows.Scan(&it.ID, &it.UserID, &kind, &createdAt, &it.RawEngagement, &it.Engagement,
			&it.EventCount, &lastInteraction, &it.CurrentScore, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		it.Kind = permanence.Kind(kind)
		it.State = permanence.StateArchived
		it.CreatedAt = fromMillis(createdAt)
		it.LastInteractionAt = fromMillis(lastInteraction)
		it.LastEvaluatedAt = fromMillis(archivedAt)
		items = append(items, it)
	}
	return items, rows.Err()
}
