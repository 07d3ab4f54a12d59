package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

func TestAddMilestoneDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := permanence.NewItem("m1", "user-1", permanence.KindMilestone, t0)
	if err := db.AddMilestone(ctx, &it, t0); err != nil {
		t.Fatalf("AddMilestone: %v", err)
	}
	err := db.AddMilestone(ctx, &it, t0.Add(time.Hour))
	if !errors.Is(err, permanence.ErrDuplicateArchive) {
		t.Errorf("second AddMilestone = %v, want ErrDuplicateArchive", err)
	}

}

func TestListMilestonesPageOrdering(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// b and c share a creation time; id breaks the tie ascending.
	entries := []struct {
		id      string
		user    string
		created time.Time
	}{
		{"a", "user-1", t0},
		{"c", "user-1", t0.Add(time.Hour)},
		{"b", "user-1", t0.Add(time.Hour)},
		{"d", "user-1", t0.Add(2 * time.Hour)},
		{"x", "user-2", t0.Add(3 * time.Hour)},
	}
	for _, e := range entries {
		it := permanence.NewItem(e.id, e.user, permanence.KindMilestone, e.created)
		if err := db.AddMilestone(ctx, &it, e.created); err != nil {
			t.Fatalf("AddMilestone(%s): %v", e.id, err)
		}
	}

	var ids []string
	var cursor MilestoneCursor
	for {
		page, err := db.ListMilestonesPage(ctx, "user-1", cursor, 2)
		if err != nil {
			t.Fatalf("ListMilestonesPage: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, it := range page {
			ids = append(ids, it.ID)
			if it.State != permanence.StateArchived {
				t.Errorf("%s state = %q, want archived", it.ID, it.State)
			}
		}
		last := page[len(page)-1]
		cursor = MilestoneCursor{CreatedAt: last.CreatedAt, ItemID: last.ID}
	}

	want := []string{"d", "b", "c", "a"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
}
