package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/permanence/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the periodic sweep",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openInstance()
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	if cfg.Sweep.Enabled {
		rt.engine.StartSweepTimer(cfg.Sweep.Interval)
	}

	srv := server.New(rt.db, rt.engine, rt.metrics, rt.logger, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info().
			Str("addr", addr).
			Str("db", rt.db.Path).
			Str("archive", cfg.Archive.Backend).
			Bool("sweep", cfg.Sweep.Enabled).
			Dur("sweep_interval", cfg.Sweep.Interval).
			Msg("permanence serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return err
	}
	rt.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
