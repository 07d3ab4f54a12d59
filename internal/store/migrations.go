package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "items: permanence metadata per content item",
		SQL: `
CREATE TABLE items (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    kind                TEXT NOT NULL CHECK (kind IN ('routine', 'tip', 'achievement', 'milestone')),
    created_at          INTEGER NOT NULL,

    -- Engagement (accumulator-owned)
    raw_engagement      REAL NOT NULL DEFAULT 0,
    engagement          REAL NOT NULL DEFAULT 0,
    event_count         INTEGER NOT NULL DEFAULT 0,
    last_interaction_at INTEGER NOT NULL,

    -- Scoring and lifecycle (scheduler-owned)
    current_score       REAL NOT NULL DEFAULT 0,
    state               TEXT NOT NULL CHECK (state IN ('active', 'fading', 'expired', 'archived')),
    sustain_streak      INTEGER NOT NULL DEFAULT 0,
    streak_at           INTEGER,
    last_evaluated_at   INTEGER,

    updated_at          INTEGER NOT NULL
);

CREATE INDEX idx_items_state ON items(state, id);
CREATE INDEX idx_items_user  ON items(user_id, created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "engagement_events: accepted engagement events per item",
		SQL: `
CREATE TABLE engagement_events (
    id            INTEGER PRIMARY KEY,
    item_id       TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    ratio         REAL NOT NULL DEFAULT 0,
    weight        REAL NOT NULL DEFAULT 1,
    contribution  REAL NOT NULL,
    occurred_at   INTEGER NOT NULL,
    recorded_at   INTEGER NOT NULL,
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX idx_events_item ON engagement_events(item_id, occurred_at);
`,
	},
	{
		Version:     3,
		Description: "sweep_runs: batch evaluation runs and checkpoints",
		SQL: `
CREATE TABLE sweep_runs (
    id            TEXT PRIMARY KEY,
    evaluated_at  INTEGER NOT NULL,
    started_at    INTEGER NOT NULL,
    finished_at   INTEGER,
    status        TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'interrupted')),
    checkpoint    TEXT NOT NULL DEFAULT '',
    evaluated     INTEGER NOT NULL DEFAULT 0,
    transitioned  INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_sweeps_started ON sweep_runs(started_at DESC);
`,
	},
	{
		Version:     4,
		Description: "milestones: append-only archive of permanent items",
		SQL: `
CREATE TABLE milestones (
    item_id             TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    kind                TEXT NOT NULL,
    created_at          INTEGER NOT NULL,
    raw_engagement      REAL NOT NULL,
    engagement          REAL NOT NULL,
    event_count         INTEGER NOT NULL,
    last_interaction_at INTEGER NOT NULL,
    current_score       REAL NOT NULL,
    archived_at         INTEGER NOT NULL
);

CREATE INDEX idx_milestones_user ON milestones(user_id, created_at DESC, item_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
