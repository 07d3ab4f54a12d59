package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lazypower/permanence/internal/archive"
	"github.com/lazypower/permanence/internal/metrics"
	"github.com/lazypower/permanence/internal/permanence"
	"github.com/lazypower/permanence/internal/store"
)

// Store is the persistence the engine needs. *store.DB implements it.
type Store interface {
	CreateItem(ctx context.Context, it *permanence.Item) error
	GetItem(ctx context.Context, id string) (*permanence.Item, error)
	SaveItem(ctx context.Context, it *permanence.Item) error
	RecordEvent(ctx context.Context, it *permanence.Item, ev permanence.Event, contribution float64) error
	ListEvents(ctx context.Context, itemID string, limit int) ([]store.EventRecord, error)
	ListEvaluableIDs(ctx context.Context, after string, limit int) ([]string, error)
	CountByState(ctx context.Context) (map[permanence.State]int, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)

	CreateSweepRun(ctx context.Context, id string, evaluatedAt time.Time) (*store.SweepRun, error)
	CheckpointSweepRun(ctx context.Context, run *store.SweepRun) error
	FinishSweepRun(ctx context.Context, run *store.SweepRun, status string) error
	ReopenSweepRun(ctx context.Context, run *store.SweepRun) error
	GetSweepRun(ctx context.Context, id string) (*store.SweepRun, error)
}

// Config tunes the engine. Params are validated by New.
type Config struct {
	Params   permanence.Params
	Workers  int // concurrent item evaluations per sweep
	PageSize int // item ids fetched per sweep page
	// ExpiredRetention is how long Expired items are kept before the
	// sweep timer purges them. Zero disables purging.
	ExpiredRetention time.Duration
}

// Engine orchestrates scoring, lifecycle transitions, persistence and the
// milestone archive. Every mutation of an item happens under that item's
// lock, so concurrent events, lazy reads and sweeps never interleave on the
// same id.
type Engine struct {
	store   Store
	archive archive.Archive
	sched   *permanence.Scheduler
	acc     permanence.Accumulator
	metrics *metrics.Metrics
	logger  zerolog.Logger

	locks   *keyedMutex
	sweepMu sync.Mutex
	now     func() time.Time

	workers   int
	pageSize  int
	retention time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Engine. An invalid scoring configuration is rejected
// with an error matching permanence.ErrConfiguration.
func New(st Store, arch archive.Archive, cfg Config, m *metrics.Metrics, logger zerolog.Logger) (*Engine, error) {
	sched, err := permanence.NewScheduler(cfg.Params)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 200
	}
	if m == nil {
		m = metrics.New()
	}
	return &Engine{
		store:     st,
		archive:   arch,
		sched:     sched,
		acc:       permanence.NewAccumulator(cfg.Params),
		metrics:   m,
		logger:    logger.With().Str("component", "engine").Logger(),
		locks:     newKeyedMutex(),
		now:       time.Now,
		workers:   cfg.Workers,
		pageSize:  cfg.PageSize,
		retention: cfg.ExpiredRetention,
		stopCh:    make(chan struct{}),
	}, nil
}

// SetClock replaces the clock used when no explicit evaluation time is given.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Now returns the engine clock, truncated to storage precision.
func (e *Engine) Now() time.Time {
	return permanence.Millis(e.now())
}

// Params returns the active scoring parameters.
func (e *Engine) Params() permanence.Params {
	return e.sched.Params()
}

// CreateItem registers a newly published item. An empty id gets a generated
// one and a zero createdAt means now. Milestones are archived immediately.
func (e *Engine) CreateItem(ctx context.Context, id, userID, kindLabel string, createdAt time.Time) (permanence.Item, error) {
	kind, err := permanence.ParseKind(kindLabel)
	if err != nil {
		return permanence.Item{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return permanence.Item{}, fmt.Errorf("%w: user id is required", permanence.ErrInvalidItem)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := e.Now()
	if createdAt.IsZero() {
		createdAt = now
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	it := permanence.NewItem(id, userID, kind, permanence.Millis(createdAt))
	if err := e.store.CreateItem(ctx, &it); err != nil {
		return permanence.Item{}, err
	}
	e.logger.Debug().Str("item_id", id).Str("user_id", userID).Str("kind", string(kind)).Msg("item created")

	if kind == permanence.KindMilestone {
		at := now
		if it.CreatedAt.After(at) {
			at = it.CreatedAt
		}
		if _, err := e.settle(ctx, &it, at); err != nil {
			// The item row exists; the next evaluation re-applies the archival.
			e.logger.Warn().Err(err).Str("item_id", id).Msg("archive milestone on create")
			return it, &permanence.ItemError{ItemID: id, Op: "archive milestone", Err: err}
		}
	}
	return it, nil
}

// GetItem returns the stored record without evaluating it.
func (e *Engine) GetItem(ctx context.Context, id string) (*permanence.Item, error) {
	it, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, &permanence.ItemError{ItemID: id, Op: "get item", Err: permanence.ErrItemNotFound}
	}
	return it, nil
}

// RecordEvent applies an engagement event and returns the item's new
// engagement metric. The item is brought up to date first, so an event
// arriving after the item has lazily expired is rejected. A zero ev.At
// means now.
func (e *Engine) RecordEvent(ctx context.Context, itemID string, ev permanence.Event) (float64, error) {
	now := e.Now()
	if ev.At.IsZero() {
		ev.At = now
	}
	ev.At = permanence.Millis(ev.At)

	unlock := e.locks.Lock(itemID)
	defer unlock()

	it, err := e.GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if _, err := e.settle(ctx, it, now); err != nil {
		return it.Engagement, err
	}

	next := *it
	metric, err := e.acc.Record(&next, ev)
	if err != nil {
		e.metrics.RecordEvent(string(ev.Type), false)
		return metric, err
	}
	contribution, _ := e.acc.Contribution(ev)
	if err := e.store.RecordEvent(ctx, &next, ev, contribution); err != nil {
		return it.Engagement, err
	}
	*it = next
	e.metrics.RecordEvent(string(ev.Type), true)

	if _, err := e.settle(ctx, it, now); err != nil {
		// The event is stored; a later evaluation catches the state up.
		e.logger.Warn().Err(err).Str("item_id", itemID).Msg("evaluate after event")
	}
	return metric, nil
}

// Evaluate scores the item at now, applies the resulting transition and
// returns the visibility state. A terminal item is not re-evaluated: its
// frozen state is returned with an error matching permanence.ErrItemTerminal.
func (e *Engine) Evaluate(ctx context.Context, itemID string, now time.Time) (permanence.Visibility, error) {
	unlock := e.locks.Lock(itemID)
	defer unlock()

	it, err := e.GetItem(ctx, itemID)
	if err != nil {
		return permanence.Visibility{}, err
	}
	if it.State.Terminal() {
		return it.Visibility(), &permanence.ItemError{ItemID: itemID, Op: "evaluate", Err: permanence.ErrItemTerminal}
	}
	if _, err := e.settle(ctx, it, permanence.Millis(now)); err != nil {
		return it.Visibility(), err
	}
	return it.Visibility(), nil
}

// GetVisibilityState evaluates the item at the engine clock. Terminal items
// report their frozen state without error.
func (e *Engine) GetVisibilityState(ctx context.Context, itemID string) (permanence.Visibility, error) {
	vis, err := e.Evaluate(ctx, itemID, e.Now())
	if errors.Is(err, permanence.ErrItemTerminal) {
		return vis, nil
	}
	return vis, err
}

// Explanation is a read-only look at how an item would score at an instant.
type Explanation struct {
	Item       permanence.Item       `json:"-"`
	Stored     permanence.Visibility `json:"stored"`
	At         time.Time             `json:"at"`
	Breakdown  permanence.Breakdown  `json:"breakdown"`
	Hint       permanence.State      `json:"hint"`
	Rule       permanence.Rule       `json:"rule"`
	Streak     int                   `json:"sustain_streak"`
	Engagement float64               `json:"engagement"`
	EventCount int                   `json:"event_count"`
}

// Explain scores the item at now without persisting anything.
func (e *Engine) Explain(ctx context.Context, itemID string, now time.Time) (Explanation, error) {
	it, err := e.GetItem(ctx, itemID)
	if err != nil {
		return Explanation{}, err
	}
	now = permanence.Millis(now)
	ev := e.sched.Evaluate(*it, now)
	b := ev.Breakdown
	if ev.Rule == permanence.RuleTerminal {
		// Frozen items are explained as of the evaluation that froze them.
		if it.Kind == permanence.KindMilestone {
			b = permanence.Breakdown{Total: it.CurrentScore}
		} else {
			b = e.sched.Scorer().Explain(*it, it.LastEvaluatedAt)
		}
	}
	return Explanation{
		Item:       *it,
		Stored:     it.Visibility(),
		At:         now,
		Breakdown:  b,
		Hint:       ev.Hint,
		Rule:       ev.Rule,
		Streak:     ev.Streak,
		Engagement: it.Engagement,
		EventCount: it.EventCount,
	}, nil
}

// ForceArchive archives the item only if the milestone or sustained rule
// yields Archived at now. Any other request fails with
// permanence.ErrInvalidTransition and leaves the item unchanged.
func (e *Engine) ForceArchive(ctx context.Context, itemID string, now time.Time) (permanence.Visibility, error) {
	now = permanence.Millis(now)

	unlock := e.locks.Lock(itemID)
	defer unlock()

	it, err := e.GetItem(ctx, itemID)
	if err != nil {
		return permanence.Visibility{}, err
	}
	if it.State.Terminal() {
		return it.Visibility(), &permanence.ItemError{ItemID: itemID, Op: "force archive", Err: permanence.ErrItemTerminal}
	}
	ev := e.sched.Evaluate(*it, now)
	if ev.Hint != permanence.StateArchived {
		return it.Visibility(), &permanence.ItemError{
			ItemID: itemID,
			Op:     "force archive",
			Err:    fmt.Errorf("%w: archive conditions not met (rule %s, score %.3f)", permanence.ErrInvalidTransition, ev.Rule, ev.Score),
		}
	}
	if _, err := e.settle(ctx, it, now); err != nil {
		return it.Visibility(), err
	}
	if it.State != permanence.StateArchived {
		return it.Visibility(), &permanence.ItemError{
			ItemID: itemID,
			Op:     "force archive",
			Err:    fmt.Errorf("%w: evaluated later than %s", permanence.ErrInvalidTransition, now.Format(time.RFC3339)),
		}
	}
	return it.Visibility(), nil
}

// ListArchive lazily lists a user's permanent items, newest first.
func (e *Engine) ListArchive(ctx context.Context, userID string) iter.Seq2[permanence.Item, error] {
	return e.archive.List(ctx, userID)
}

// ListEvents returns an item's most recent engagement events.
func (e *Engine) ListEvents(ctx context.Context, itemID string, limit int) ([]store.EventRecord, error) {
	return e.store.ListEvents(ctx, itemID, limit)
}

// Stats returns item counts per state and refreshes the state gauge.
func (e *Engine) Stats(ctx context.Context) (map[permanence.State]int, error) {
	counts, err := e.store.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	gauge := make(map[string]int, len(counts))
	for state, n := range counts {
		gauge[string(state)] = n
	}
	e.metrics.SetItemsByState(gauge)
	return counts, nil
}

// Purge deletes Expired items whose last evaluation is older than retention.
func (e *Engine) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := e.Now().Add(-retention)
	n, err := e.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("purged expired items")
	}
	return n, nil
}

// settle evaluates it at now and persists the outcome. The caller holds the
// item lock. An evaluation older than the stored one is skipped so a stale
// clock never rewinds an item. On an Archived outcome the archive entry is
// written before the item row; a retry after a crash between the two finds
// the entry already present and completes the transition.
func (e *Engine) settle(ctx context.Context, it *permanence.Item, now time.Time) (permanence.Transition, error) {
	noop := permanence.Transition{ItemID: it.ID, From: it.State, To: it.State, Rule: permanence.RuleTerminal}
	if it.State.Terminal() {
		return noop, nil
	}
	if !it.LastEvaluatedAt.IsZero() && now.Before(it.LastEvaluatedAt) {
		return noop, nil
	}

	ev := e.sched.Evaluate(*it, now)
	next := *it
	tr, err := permanence.Apply(&next, ev)
	if err != nil {
		return tr, err
	}
	e.metrics.RecordEvaluation(string(ev.Rule))

	if next.State == permanence.StateArchived {
		err := e.archive.Add(ctx, next)
		switch {
		case err == nil:
			e.metrics.RecordArchived()
		case errors.Is(err, permanence.ErrDuplicateArchive):
			e.logger.Debug().Str("item_id", it.ID).Msg("archive entry already present")
		default:
			return tr, &permanence.ItemError{ItemID: it.ID, Op: "archive", Err: err}
		}
	}
	if err := e.store.SaveItem(ctx, &next); err != nil {
		return tr, &permanence.ItemError{ItemID: it.ID, Op: "save evaluation", Err: err}
	}
	*it = next

	if tr.Changed() {
		e.metrics.RecordTransition(string(tr.From), string(tr.To))
		e.logger.Info().
			Str("item_id", it.ID).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Str("rule", string(tr.Rule)).
			Float64("score", it.CurrentScore).
			Msg("state transition")
	}
	return tr, nil
}
