package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lazypower/permanence/internal/permanence"
)

// Key layout:
//
//	e\x00<user>\x00<^created_ms hex>\x00<item id>  entry, JSON record
//	i\x00<item id>                                  id index, holds the entry key
//
// Inverting the creation time makes a forward prefix scan return the newest
// entry first; item ids break ties in ascending byte order.
const sep = "\x00"

// BadgerArchive keeps the archive in an embedded Badger key-value store,
// separate from the item database.
type BadgerArchive struct {
	db       *badger.DB
	pageSize int
}

type record struct {
	ItemID            string  `json:"item_id"`
	UserID            string  `json:"user_id"`
	Kind              string  `json:"kind"`
	CreatedAt         int64   `json:"created_at"`
	RawEngagement     float64 `json:"raw_engagement"`
	Engagement        float64 `json:"engagement"`
	EventCount        int     `json:"event_count"`
	LastInteractionAt int64   `json:"last_interaction_at"`
	CurrentScore      float64 `json:"current_score"`
	ArchivedAt        int64   `json:"archived_at"`
}

// OpenBadger opens (or creates) a Badger archive in dir.
func OpenBadger(dir string, pageSize int) (*BadgerArchive, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, pageSize)
}

// OpenBadgerMemory opens a Badger archive that lives only in memory.
func OpenBadgerMemory(pageSize int) (*BadgerArchive, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, pageSize)
}

func openBadger(opts badger.Options, pageSize int) (*BadgerArchive, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &BadgerArchive{db: db, pageSize: pageSize}, nil
}

func entryPrefix(userID string) []byte {
	return []byte("e" + sep + userID + sep)
}

// entryKey orders a user's entries newest first. The sign bit is flipped so
// pre-1970 timestamps sort below later ones before the value is inverted.
func entryKey(userID string, createdAt time.Time, itemID string) []byte {
	inverted := ^(uint64(createdAt.UnixMilli()) ^ (1 << 63))
	return []byte(fmt.Sprintf("e%s%s%s%016x%s%s", sep, userID, sep, inverted, sep, itemID))
}

func indexKey(itemID string) []byte {
	return []byte("i" + sep + itemID)
}

func (a *BadgerArchive) Add(ctx context.Context, it permanence.Item) error {
	if err := validate(it); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record{
		ItemID:            it.ID,
		UserID:            it.UserID,
		Kind:              string(it.Kind),
		CreatedAt:         it.CreatedAt.UnixMilli(),
		RawEngagement:     it.RawEngagement,
		Engagement:        it.Engagement,
		EventCount:        it.EventCount,
		LastInteractionAt: it.LastInteractionAt.UnixMilli(),
		CurrentScore:      it.CurrentScore,
		ArchivedAt:        it.LastEvaluatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	key := entryKey(it.UserID, it.CreatedAt, it.ID)
	err = a.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(it.ID))
		if err == nil {
			return fmt.Errorf("add archive %s: %w", it.ID, permanence.ErrDuplicateArchive)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(it.ID), key)
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent Add for the same id committed first.
		return fmt.Errorf("add archive %s: %w", it.ID, permanence.ErrDuplicateArchive)
	}
	return err
}

func (a *BadgerArchive) List(ctx context.Context, userID string) iter.Seq2[permanence.Item, error] {
	return func(yield func(permanence.Item, error) bool) {
		prefix := entryPrefix(userID)
		seek := prefix
		for {
			if err := ctx.Err(); err != nil {
				yield(permanence.Item{}, err)
				return
			}
			page, last, err := a.page(prefix, seek)
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
			// Smallest key strictly after last.
			seek = append(bytes.Clone(last), 0)
		}
	}
}

// page reads up to pageSize entries starting at seek inside a single read
// transaction, so no transaction stays open while the caller consumes them.
func (a *BadgerArchive) page(prefix, seek []byte) ([]permanence.Item, []byte, error) {
	var items []permanence.Item
	var last []byte
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = a.pageSize

		cur := txn.NewIterator(opts)
		defer cur.Close()

		for cur.Seek(seek); cur.ValidForPrefix(prefix) && len(items) < a.pageSize; cur.Next() {
			item := cur.Item()
			var rec record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode archive entry %q: %w", item.Key(), err)
			}
			items = append(items, rec.item())
			last = item.KeyCopy(nil)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list archive: %w", err)
	}
	return items, last, nil
}

func (r record) item() permanence.Item {
	return permanence.Item{
		ID:                r.ItemID,
		UserID:            r.UserID,
		Kind:              permanence.Kind(r.Kind),
		CreatedAt:         time.UnixMilli(r.CreatedAt).UTC(),
		RawEngagement:     r.RawEngagement,
		Engagement:        r.Engagement,
		EventCount:        r.EventCount,
		LastInteractionAt: time.UnixMilli(r.LastInteractionAt).UTC(),
		CurrentScore:      r.CurrentScore,
		State:             permanence.StateArchived,
		LastEvaluatedAt:   time.UnixMilli(r.ArchivedAt).UTC(),
	}
}

// Close closes the Badger instance.
func (a *BadgerArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
