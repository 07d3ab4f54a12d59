package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lazypower/permanence/internal/permanence"
	"github.com/lazypower/permanence/internal/store"
)

var (
	ErrSweepRunNotFound = errors.New("sweep run not found")
	ErrSweepRunFinished = errors.New("sweep run already completed")
)

// SweepFailure names an item the sweep could not evaluate.
type SweepFailure struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// SweepReport summarizes one sweep invocation. Counters are cumulative over
// the whole run, including earlier attempts of a resumed run; Failures lists
// only what failed in this invocation.
type SweepReport struct {
	RunID        string         `json:"run_id"`
	EvaluatedAt  time.Time      `json:"evaluated_at"`
	Evaluated    int            `json:"evaluated"`
	Transitioned int            `json:"transitioned"`
	Failed       int            `json:"failed"`
	Failures     []SweepFailure `json:"failures,omitempty"`
	Interrupted  bool           `json:"interrupted"`
	Checkpoint   string         `json:"checkpoint,omitempty"`
	Duration     time.Duration  `json:"duration_ns"`
}

// Sweep evaluates every Active and Fading item at now. Items are visited in
// id pages with a bounded number in flight; a failing item is recorded and
// skipped. Cancelling ctx stops the sweep between items and the run can be
// continued with ResumeSweep.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	run, err := e.store.CreateSweepRun(ctx, uuid.NewString(), permanence.Millis(now))
	if err != nil {
		return nil, err
	}
	return e.runSweep(ctx, run)
}

// ResumeSweep continues an interrupted run from its checkpoint, scoring at
// the run's original evaluation time.
func (e *Engine) ResumeSweep(ctx context.Context, runID string) (*SweepReport, error) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	run, err := e.store.GetSweepRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrSweepRunNotFound, runID)
	}
	if run.Status == store.SweepCompleted {
		return nil, fmt.Errorf("%w: %s", ErrSweepRunFinished, runID)
	}
	if err := e.store.ReopenSweepRun(ctx, run); err != nil {
		return nil, err
	}
	e.logger.Info().Str("run_id", run.ID).Str("checkpoint", run.Checkpoint).Msg("resuming sweep")
	return e.runSweep(ctx, run)
}

// GetSweepRun returns the persisted record of a run.
func (e *Engine) GetSweepRun(ctx context.Context, runID string) (*store.SweepRun, error) {
	run, err := e.store.GetSweepRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrSweepRunNotFound, runID)
	}
	return run, nil
}

func (e *Engine) runSweep(ctx context.Context, run *store.SweepRun) (*SweepReport, error) {
	start := time.Now()
	now := run.EvaluatedAt
	report := &SweepReport{RunID: run.ID, EvaluatedAt: now}
	logger := e.logger.With().Str("run_id", run.ID).Logger()

	// Bookkeeping writes must land even when ctx is what stopped the sweep.
	bg := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(e.workers))

	var pageErr error
	for {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		ids, err := e.store.ListEvaluableIDs(ctx, run.Checkpoint, e.pageSize)
		if err != nil {
			if ctx.Err() != nil {
				report.Interrupted = true
			} else {
				pageErr = err
			}
			break
		}
		if len(ids) == 0 {
			break
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, id := range ids {
			if err := sem.Acquire(ctx, 1); err != nil {
				report.Interrupted = true
				break
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer sem.Release(1)

				tr, evaluated, err := e.sweepItem(ctx, id, now)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil && ctx.Err() != nil:
					// Cancelled mid-item; the item is picked up again on resume.
				case err != nil:
					run.Failed++
					report.Failures = append(report.Failures, SweepFailure{ItemID: id, Error: err.Error()})
					logger.Warn().Err(err).Str("item_id", id).Msg("sweep item failed")
				case evaluated:
					run.Evaluated++
					if tr.Changed() {
						run.Transitioned++
					}
				}
			}(id)
		}
		wg.Wait()

		if ctx.Err() != nil {
			// The page may be partly done. Re-running it is harmless because
			// evaluation at the same instant is idempotent.
			report.Interrupted = true
			break
		}
		run.Checkpoint = ids[len(ids)-1]
		if err := e.store.CheckpointSweepRun(bg, run); err != nil {
			pageErr = err
			break
		}
		if len(ids) < e.pageSize {
			break
		}
	}

	status := store.SweepCompleted
	if report.Interrupted || pageErr != nil {
		status = store.SweepInterrupted
	}
	if err := e.store.FinishSweepRun(bg, run, status); err != nil {
		logger.Error().Err(err).Msg("record sweep run")
	}

	report.Evaluated = run.Evaluated
	report.Transitioned = run.Transitioned
	report.Failed = run.Failed
	report.Checkpoint = run.Checkpoint
	report.Duration = time.Since(start)
	e.metrics.ObserveSweep(report.Duration.Seconds(), report.Evaluated, len(report.Failures))

	logger.Info().
		Time("evaluated_at", now).
		Int("evaluated", report.Evaluated).
		Int("transitioned", report.Transitioned).
		Int("failed", report.Failed).
		Bool("interrupted", report.Interrupted).
		Dur("duration", report.Duration).
		Msg("sweep finished")

	if pageErr != nil {
		return report, fmt.Errorf("sweep %s: %w", run.ID, pageErr)
	}
	return report, nil
}

// sweepItem is the atomic unit of a sweep: lock, load, evaluate, persist.
// Items that vanished or turned terminal since the page was listed are
// skipped without counting.
func (e *Engine) sweepItem(ctx context.Context, id string, now time.Time) (tr permanence.Transition, evaluated bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating item: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return tr, false, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	it, err := e.store.GetItem(ctx, id)
	if err != nil {
		return tr, false, err
	}
	if it == nil || it.State.Terminal() {
		return tr, false, nil
	}
	tr, err = e.settle(ctx, it, now)
	if err != nil {
		return tr, false, err
	}
	return tr, true, nil
}
