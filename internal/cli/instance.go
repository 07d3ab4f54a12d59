package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lazypower/permanence/internal/archive"
	"github.com/lazypower/permanence/internal/client"
	"github.com/lazypower/permanence/internal/config"
	"github.com/lazypower/permanence/internal/engine"
	"github.com/lazypower/permanence/internal/metrics"
	"github.com/lazypower/permanence/internal/store"
)

// instance is a locally opened engine and everything it owns.
type instance struct {
	cfg     *config.Config
	logger  zerolog.Logger
	db      *store.DB
	archive archive.Archive
	metrics *metrics.Metrics
	engine  *engine.Engine
}

func openDB(cfg *config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func openArchive(cfg *config.Config, db *store.DB) (archive.Archive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveBadger:
		dir := cfg.Archive.Path
		if dir == "" {
			dir = filepath.Join(filepath.Dir(db.Path), "archive")
		}
		a, err := archive.OpenBadger(dir, cfg.Archive.PageSize)
		if err != nil {
			return nil, fmt.Errorf("open badger archive %s: %w", dir, err)
		}
		return a, nil
	default:
		return archive.NewSQL(db, cfg.Archive.PageSize), nil
	}
}

// openInstance loads config and opens the database, archive and engine.
// Callers must call close.
func openInstance() (*instance, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log)

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	arch, err := openArchive(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()
	eng, err := engine.New(db, arch, engine.Config{
		Params:           cfg.Scoring,
		Workers:          cfg.Sweep.Workers,
		PageSize:         cfg.Sweep.PageSize,
		ExpiredRetention: cfg.Sweep.ExpiredRetention,
	}, m, logger)
	if err != nil {
		arch.Close()
		db.Close()
		return nil, err
	}
	return &instance{cfg: cfg, logger: logger, db: db, archive: arch, metrics: m, engine: eng}, nil
}

func (rt *instance) close() {
	rt.engine.Stop()
	if err := rt.archive.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("close archive")
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("close database")
	}
}

// newClient returns a client for --server, or the configured server URL.
func newClient() (*client.Client, error) {
	url := serverURL
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		url = cfg.ServerURL()
	}
	return client.New(url, 0), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
