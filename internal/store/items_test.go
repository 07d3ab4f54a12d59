package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateAndGetItem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := permanence.NewItem("item-1", "user-1", permanence.KindTip, t0)
	if err := db.CreateItem(ctx, &it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	got, err := db.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got == nil {
		t.Fatal("GetItem returned nil")
	}
	if got.UserID != "user-1" || got.Kind != permanence.KindTip {
		t.Errorf("got user %q kind %q", got.UserID, got.Kind)
	}
	if !got.CreatedAt.Equal(t0) || !got.LastInteractionAt.Equal(t0) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.LastInteractionAt, t0)
	}
	if got.State != permanence.StateActive {
		t.Errorf("State = %q, want active", got.State)
	}
	if !got.LastEvaluatedAt.IsZero() || !got.StreakAt.IsZero() {
		t.Error("unset timestamps should round-trip as zero")
	}
}

func TestCreateItemDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := permanence.NewItem("item-1", "user-1", permanence.KindTip, t0)
	if err := db.CreateItem(ctx, &it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	err := db.CreateItem(ctx, &it)
	if !errors.Is(err, permanence.ErrDuplicateItem) {
		t.Errorf("second CreateItem = %v, want ErrDuplicateItem", err)
	}
}

func TestGetItemNotFound(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetItem(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveItem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := permanence.NewItem("item-1", "user-1", permanence.KindAchievement, t0)
	if err := db.CreateItem(ctx, &it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	it.CurrentScore = 0.91
	it.State = permanence.StateFading
	it.SustainStreak = 2
	it.StreakAt = t0.Add(2 * time.Hour)
	it.LastEvaluatedAt = t0.Add(3 * time.Hour)
	if err := db.SaveItem(ctx, &it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	got, err := db.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.CurrentScore != 0.91 || got.State != permanence.StateFading || got.SustainStreak != 2 {
		t.Errorf("got score %v state %q streak %d", got.CurrentScore, got.State, got.SustainStreak)
	}
	if !got.StreakAt.Equal(it.StreakAt) || !got.LastEvaluatedAt.Equal(it.LastEvaluatedAt) {
		t.Errorf("got streak_at %v evaluated_at %v", got.StreakAt, got.LastEvaluatedAt)
	}

	missing := permanence.NewItem("nope", "user-1", permanence.KindTip, t0)
	if err := db.SaveItem(ctx, &missing); !errors.Is(err, permanence.ErrItemNotFound) {
		t.Errorf("SaveItem(missing) = %v, want ErrItemNotFound", err)
	}
}

func TestRecordEventAndListEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := permanence.NewItem("item-1", "user-1", permanence.KindTip, t0)
	if err := db.CreateItem(ctx, &it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	acc := permanence.NewAccumulator(permanence.DefaultParams())
	events := []permanence.Event{
		{Type: permanence.EventLike, At: t0.Add(time.Minute)},
		{Type: permanence.EventWatchTime, Ratio: 0.5, At: t0.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		c, err := acc.Contribution(ev)
		if err != nil {
			t.Fatalf("Contribution: %v", err)
		}
		if _, err := acc.Record(&it, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := db.RecordEvent(ctx, &it, ev, c); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	got, err := db.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.EventCount != 2 || got.RawEngagement != 5 {
		t.Errorf("event_count = %d raw = %v, want 2 and 5", got.EventCount, got.RawEngagement)
	}
	if !got.LastInteractionAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("LastInteractionAt = %v", got.LastInteractionAt)
	}

	logged, err := db.ListEvents(ctx, "item-1", 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("ListEvents len = %d, want 2", len(logged))
	}
	if logged[0].Type != permanence.EventWatchTime || logged[0].Contribution != 2 {
		t.Errorf("newest event = %+v", logged[0])
	}
	if logged[1].Weight != 1 {
		t.Errorf("default weight = %v, want 1", logged[1].Weight)
	}
}

func TestListEvaluableIDs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	states := map[string]permanence.State{
		"a": permanence.StateActive,
		"b": permanence.StateFading,
		"c": permanence.StateExpired,
		"d": permanence.StateArchived,
		"e": permanence.StateActive,
	}
	for id, state := range states {
		it := permanence.NewItem(id, "user-1", permanence.KindTip, t0)
		it.State = state
		if err := db.CreateItem(ctx, &it); err != nil {
			t.Fatalf("CreateItem(%s): %v", id, err)
		}
	}

	page, err := db.ListEvaluableIDs(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListEvaluableIDs: %v", err)
	}
	if len(page) != 2 || page[0] != "a" || page[1] != "b" {
		t.Errorf("first page = %v, want [a b]", page)
	}

	page, err = db.ListEvaluableIDs(ctx, "b", 2)
	if err != nil {
		t.Fatalf("ListEvaluableIDs: %v", err)
	}
	if len(page) != 1 || page[0] != "e" {
		t.Errorf("second page = %v, want [e]", page)
	}

	counts, err := db.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState: %v", err)
	}
	if counts[permanence.StateActive] != 2 || counts[permanence.StateExpired] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPurgeExpired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := permanence.NewItem("old", "user-1", permanence.KindRoutine, t0)
	old.State = permanence.StateExpired
	old.LastEvaluatedAt = t0.Add(time.Hour)

	recent := permanence.NewItem("recent", "user-1", permanence.KindRoutine, t0)
	recent.State = permanence.StateExpired
	recent.LastEvaluatedAt = t0.Add(100 * time.Hour)

	kept := permanence.NewItem("kept", "user-1", permanence.KindMilestone, t0)
	kept.State = permanence.StateArchived
	kept.LastEvaluatedAt = t0

	for _, it := range []*permanence.Item{&old, &recent, &kept} {
		if err := db.CreateItem(ctx, it); err != nil {
			t.Fatalf("CreateItem(%s): %v", it.ID, err)
		}
	}
	if err := db.RecordEvent(ctx, &old, permanence.Event{Type: permanence.EventView, At: t0}, 1); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	n, err := db.PurgeExpired(ctx, t0.Add(50*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if got, _ := db.GetItem(ctx, "old"); got != nil {
		t.Error("old expired item should be purged")
	}
	if got, _ := db.GetItem(ctx, "recent"); got == nil {
		t.Error("recent expired item should survive")
	}
	if got, _ := db.GetItem(ctx, "kept"); got == nil {
		t.Error("archived item should never be purged")
	}

	var events int
	if err := db.QueryRow("SELECT COUNT(*) FROM engagement_events WHERE item_id = 'old'").Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 0 {
		t.Errorf("events for purged item = %d, want 0", events)
	}
}
