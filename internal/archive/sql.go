package archive

import (
	"context"
	"iter"

	"github.com/lazypower/permanence/internal/permanence"
	"github.com/lazypower/permanence/internal/store"
)

// SQLArchive keeps the archive in the milestones table of the item database.
type SQLArchive struct {
	db       *store.DB
	pageSize int
}

// NewSQL returns an archive backed by db. The database is owned by the
// caller and is not closed by Close.
func NewSQL(db *store.DB, pageSize int) *SQLArchive {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SQLArchive{db: db, pageSize: pageSize}
}

func (a *SQLArchive) Add(ctx context.Context, it permanence.Item) error {
	if err := validate(it); err != nil {
		return err
	}
	return a.db.AddMilestone(ctx, &it, it.LastEvaluatedAt)
}

func (a *SQLArchive) List(ctx context.Context, userID string) iter.Seq2[permanence.Item, error] {
	return func(yield func(permanence.Item, error) bool) {
		var cursor store.MilestoneCursor
		for {
			if err := ctx.Err(); err != nil {
				yield(permanence.Item{}, err)
				return
			}
			page, err := a.db.ListMilestonesPage(ctx, userID, cursor, a.pageSize)
			if err != nil {
				yield(permanence.Item{}, err)
				return
			}
			for _, it := range page {
				if !yield(it, nil) {
					return
				}
			}
			if len(page) < a.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = store.MilestoneCursor{CreatedAt: last.CreatedAt, ItemID: last.ID}
		}
	}
}

func (a *SQLArchive) Close() error { return nil }
