package engine

import (
	"context"
	"time"
)

// StartSweepTimer runs a sweep on startup and then every interval until
// Stop is called. Each tick also purges Expired items past the configured
// retention. The engine never starts this on its own.
func (e *Engine) StartSweepTimer(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		<-e.stopCh
		cancel()
	}()
	go func() {
		defer e.wg.Done()
		e.tick(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) tick(ctx context.Context) {
	report, err := e.Sweep(ctx, e.Now())
	if err != nil {
		e.logger.Error().Err(err).Msg("sweep")
	} else if report.Interrupted {
		e.logger.Warn().Str("run_id", report.RunID).Msg("sweep interrupted; resume with the run id")
	}

	if e.retention > 0 && ctx.Err() == nil {
		if _, err := e.Purge(ctx, e.retention); err != nil {
			e.logger.Error().Err(err).Msg("purge expired")
		}
	}
	if _, err := e.Stats(ctx); err != nil && ctx.Err() == nil {
		e.logger.Warn().Err(err).Msg("refresh state gauge")
	}
}

// Stop shuts down the engine's background goroutines and waits for an
// in-flight sweep to reach a safe point.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
