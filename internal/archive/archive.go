// Package archive is the append-only store of permanent items.
//
// Entries are written once when an item is archived and never mutated or
// removed. Listing is lazy: a caller that stops early never loads the rest
// of a user's history.
package archive

import (
	"context"
	"fmt"
	"iter"

	"github.com/lazypower/permanence/internal/permanence"
)

// DefaultPageSize is how many entries a listing fetches per round trip.
const DefaultPageSize = 100

// Archive stores permanent items per user.
type Archive interface {
	// Add appends a snapshot of it. A second Add for the same item id
	// returns permanence.ErrDuplicateArchive and leaves the entry unchanged.
	Add(ctx context.Context, it permanence.Item) error
	// List yields a user's archived items ordered by creation time
	// descending, ties broken by item id ascending. Iteration stops at the
	// first error, which is yielded with a zero Item.
	List(ctx context.Context, userID string) iter.Seq2[permanence.Item, error]
	Close() error
}

// Collect drains up to limit entries from a listing. A limit of zero or less
// reads everything.
func Collect(seq iter.Seq2[permanence.Item, error], limit int) ([]permanence.Item, error) {
	var items []permanence.Item
	for it, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, it)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func validate(it permanence.Item) error {
	if it.ID == "" || it.UserID == "" {
		return fmt.Errorf("archive item: id and user id are required")
	}
	if it.State != permanence.StateArchived {
		return fmt.Errorf("archive item %s: state is %s, want archived", it.ID, it.State)
	}
	return nil
}
