package cli

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/permanence/internal/archive"
	"github.com/lazypower/permanence/internal/client"
	"github.com/lazypower/permanence/internal/config"
	"github.com/lazypower/permanence/internal/engine"
	"github.com/lazypower/permanence/internal/eventlog"
	"github.com/lazypower/permanence/internal/metrics"
	"github.com/lazypower/permanence/internal/permanence"
	"github.com/lazypower/permanence/internal/server"
	"github.com/lazypower/permanence/internal/store"
)

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("at", "2026-03-01T12:00:00Z")
	if err != nil {
		t.Fatalf("parseTimeFlag: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}

	if got, err := parseTimeFlag("at", ""); err != nil || !got.IsZero() {
		t.Errorf("empty flag: got %v, %v", got, err)
	}
	if _, err := parseTimeFlag("at", "tomorrow"); err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", logger.GetLevel())
	}

	logger = newLogger(config.LogConfig{Level: "loud", Format: "console"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info fallback", logger.GetLevel())
	}
}

func TestOpenArchiveBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "permanence.db")

	db, err := openDB(&cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	defer db.Close()

	arch, err := openArchive(&cfg, db)
	if err != nil {
		t.Fatalf("openArchive sqlite: %v", err)
	}
	if _, ok := arch.(*archive.SQLArchive); !ok {
		t.Errorf("sqlite backend = %T", arch)
	}
	arch.Close()

	cfg.Archive.Backend = config.ArchiveBadger
	arch, err = openArchive(&cfg, db)
	if err != nil {
		t.Fatalf("openArchive badger: %v", err)
	}
	defer arch.Close()
	if _, ok := arch.(*archive.BadgerArchive); !ok {
		t.Errorf("badger backend = %T", arch)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive")); err != nil {
		t.Errorf("badger dir not created next to the database: %v", err)
	}
}

func TestIngestRecord(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := metrics.New()
	eng, err := engine.New(db, archive.NewSQL(db, 0), engine.Config{Params: permanence.DefaultParams()}, m, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer eng.Stop()

	ts := httptest.NewServer(server.New(db, eng, m, zerolog.Nop(), "test"))
	defer ts.Close()
	c := client.New(ts.URL, 0)
	ctx := context.Background()

	recs := []eventlog.Record{
		{ItemID: "p1", UserID: "u1", Kind: "tip"},
		{ItemID: "p1", Type: "like", Weight: 2},
		{ItemID: "p1", Type: "watch_time", Ratio: 0.5},
	}
	for _, rec := range recs {
		if err := ingestRecord(ctx, c, rec); err != nil {
			t.Fatalf("ingestRecord %+v: %v", rec, err)
		}
	}

	it, err := db.GetItem(ctx, "p1")
	if err != nil || it == nil {
		t.Fatalf("GetItem: %v, %v", it, err)
	}
	if it.EventCount != 2 {
		t.Errorf("event count = %d, want 2", it.EventCount)
	}

	if err := ingestRecord(ctx, c, eventlog.Record{ItemID: "p1", Type: "poke"}); err == nil {
		t.Error("expected error for unknown event type")
	}
}
