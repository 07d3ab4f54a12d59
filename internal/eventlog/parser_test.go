package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/permanence/internal/permanence"
)

func TestParse(t *testing.T) {
	lines := `{"item_id":"p1","user_id":"u1","kind":"achievement","created_at":"2026-03-01T12:00:00Z"}
{"item_id":"p1","type":"share","weight":3,"at":"2026-03-01T12:05:00Z"}

{"item_id":"p1","type":"watch_time","ratio":0.8}`

	res, err := Parse(strings.NewReader(lines))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Skipped) != 0 {
		t.Fatalf("skipped = %v", res.Skipped)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}

	item := res.Records[0]
	if !item.IsItem() || item.Kind != "achievement" || item.UserID != "u1" {
		t.Errorf("record[0] = %+v", item)
	}
	if !item.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at = %v", item.CreatedAt)
	}

	ev, err := res.Records[1].Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if ev.Type != permanence.EventShare || ev.Weight != 3 {
		t.Errorf("event = %+v", ev)
	}

	if res.Records[2].Line != 4 {
		t.Errorf("line = %d, want 4", res.Records[2].Line)
	}
	ev, err = res.Records[2].Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if ev.Type != permanence.EventWatchTime || ev.Ratio != 0.8 || !ev.At.IsZero() {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseSkipsMalformed(t *testing.T) {
	lines := `not json
{"type":"like"}
{"item_id":"p1","kind":"tip"}
{"item_id":"p1"}
{"item_id":"p1","type":"like"}`

	res, err := Parse(strings.NewReader(lines))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	if len(res.Skipped) != 4 {
		t.Fatalf("expected 4 skipped, got %d", len(res.Skipped))
	}
	for i, want := range []int{1, 2, 3, 4} {
		if res.Skipped[i].Line != want {
			t.Errorf("skipped[%d].Line = %d, want %d", i, res.Skipped[i].Line, want)
		}
	}
}

func TestRecordUnknownEventType(t *testing.T) {
	rec := Record{ItemID: "p1", Type: "poke"}
	if _, err := rec.Event(); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(`{"item_id":"p1","type":"view"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(res.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(res.Records))
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}
