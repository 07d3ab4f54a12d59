package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/permanence/internal/permanence"
	"github.com/lazypower/permanence/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T, pageSize int) Archive
}

var backends = []backend{
	{"sqlite", func(t *testing.T, pageSize int) Archive {
		db, err := store.OpenMemory()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return NewSQL(db, pageSize)
	}},
	{"badger", func(t *testing.T, pageSize int) Archive {
		a, err := OpenBadgerMemory(pageSize)
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })
		return a
	}},
}

func archived(id, user string, created time.Time) permanence.Item {
	it := permanence.NewItem(id, user, permanence.KindMilestone, created)
	it.State = permanence.StateArchived
	it.CurrentScore = 1.0
	it.LastEvaluatedAt = created
	return it
}

func TestListOrdering(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 2)
			ctx := context.Background()

			for _, it := range []permanence.Item{
				archived("a", "u1", t0),
				archived("c", "u1", t0.Add(time.Hour)),
				archived("b", "u1", t0.Add(time.Hour)),
				archived("d", "u1", t0.Add(2*time.Hour)),
				archived("z", "u10", t0.Add(5*time.Hour)),
			} {
				require.NoError(t, a.Add(ctx, it))
			}

			items, err := Collect(a.List(ctx, "u1"), 0)
			require.NoError(t, err)

			var ids []string
			for _, it := range items {
				ids = append(ids, it.ID)
				assert.Equal(t, permanence.StateArchived, it.State)
				assert.Equal(t, "u1", it.UserID)
			}
			assert.Equal(t, []string{"d", "b", "c", "a"}, ids)
		})
	}
}

func TestListOrderingAcrossEpoch(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 0)
			ctx := context.Background()

			for _, it := range []permanence.Item{
				archived("old", "u1", time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC)),
				archived("older", "u1", time.Date(1955, 1, 1, 0, 0, 0, 0, time.UTC)),
				archived("new", "u1", t0),
				archived("epoch", "u1", time.Unix(0, 0).UTC()),
			} {
				require.NoError(t, a.Add(ctx, it))
			}

			items, err := Collect(a.List(ctx, "u1"), 0)
			require.NoError(t, err)
			var ids []string
			for _, it := range items {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, []string{"new", "epoch", "old", "older"}, ids)
		})
	}
}

func TestListRoundTrip(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 0)
			ctx := context.Background()

			it := permanence.NewItem("a1", "u1", permanence.KindAchievement, t0)
			it.RawEngagement = 200
			it.Engagement = 0.98
			it.EventCount = 25
			it.LastInteractionAt = t0.Add(time.Minute)
			it.CurrentScore = 0.91
			it.State = permanence.StateArchived
			it.LastEvaluatedAt = t0.Add(3 * time.Hour)
			require.NoError(t, a.Add(ctx, it))

			items, err := Collect(a.List(ctx, "u1"), 0)
			require.NoError(t, err)
			require.Len(t, items, 1)

			got := items[0]
			assert.Equal(t, it.Kind, got.Kind)
			assert.Equal(t, it.Engagement, got.Engagement)
			assert.Equal(t, it.EventCount, got.EventCount)
			assert.Equal(t, it.CurrentScore, got.CurrentScore)
			assert.True(t, it.CreatedAt.Equal(got.CreatedAt))
			assert.True(t, it.LastInteractionAt.Equal(got.LastInteractionAt))
			assert.True(t, it.LastEvaluatedAt.Equal(got.LastEvaluatedAt))
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 0)
			ctx := context.Background()

			it := archived("m1", "u1", t0)
			require.NoError(t, a.Add(ctx, it))

			again := it
			again.CurrentScore = 0.5
			err := a.Add(ctx, again)
			assert.ErrorIs(t, err, permanence.ErrDuplicateArchive)

			items, err := Collect(a.List(ctx, "u1"), 0)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, 1.0, items[0].CurrentScore, "entry must not be mutated")
		})
	}
}

func TestAddRejectsNonArchived(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 0)
			it := permanence.NewItem("t1", "u1", permanence.KindTip, t0)
			assert.Error(t, a.Add(context.Background(), it))
		})
	}
}

func TestListEmptyUser(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 0)
			items, err := Collect(a.List(context.Background(), "nobody"), 0)
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

func TestListStopsEarlyAndRestarts(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 3)
			ctx := context.Background()

			for i := 0; i < 10; i++ {
				require.NoError(t, a.Add(ctx, archived(fmt.Sprintf("m%02d", i), "u1", t0.Add(time.Duration(i)*time.Minute))))
			}

			first, err := Collect(a.List(ctx, "u1"), 4)
			require.NoError(t, err)
			require.Len(t, first, 4)
			assert.Equal(t, "m09", first[0].ID)

			// A fresh listing starts over from the newest entry.
			all, err := Collect(a.List(ctx, "u1"), 0)
			require.NoError(t, err)
			require.Len(t, all, 10)
			assert.Equal(t, first, all[:4])
			assert.Equal(t, "m00", all[9].ID)
		})
	}
}

func TestListCancelled(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := b.open(t, 0)
			require.NoError(t, a.Add(context.Background(), archived("m1", "u1", t0)))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := Collect(a.List(ctx, "u1"), 0)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}
