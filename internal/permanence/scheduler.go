package permanence

import "time"

// Rule names the scheduler rule that produced a state hint.
type Rule string

const (
	RuleMilestone Rule = "milestone" // kind is Milestone
	RuleSustained Rule = "sustained" // sustained viral engagement
	RuleFloor     Rule = "floor"     // score under the expire threshold
	RuleIdle      Rule = "idle"      // fading and idle past the idle expiry
	RuleFading    Rule = "fading"    // score under the fading threshold
	RuleActive    Rule = "active"    // everything else
	RuleTerminal  Rule = "terminal"  // item already terminal; nothing recomputed
	RuleManual    Rule = "manual"    // application-requested change, never valid for Archived
)

// Evaluation is the scheduler's verdict for an item at one instant.
// It is a value; nothing changes until it is passed to Apply.
type Evaluation struct {
	At        time.Time
	Score     float64
	Hint      State
	Rule      Rule
	Streak    int
	StreakAt  time.Time
	Breakdown Breakdown
}

// Scheduler turns items plus elapsed time into scores and state hints.
type Scheduler struct {
	scorer *Scorer
	p      Params
}

// NewScheduler validates p and returns a Scheduler. An invalid weight table
// fails with a *ConfigError, which prevents the engine from starting.
func NewScheduler(p Params) (*Scheduler, error) {
	sc, err := NewScorer(p)
	if err != nil {
		return nil, err
	}
	return &Scheduler{scorer: sc, p: p}, nil
}

// Scorer returns the underlying scorer.
func (s *Scheduler) Scorer() *Scorer { return s.scorer }

// Params returns the parameters the scheduler was built with.
func (s *Scheduler) Params() Params { return s.p }

// Evaluate recomputes the item's score from scratch at now and derives a
// state hint. It is a pure function of (it, now): evaluating the same item
// twice at the same instant yields the same Evaluation.
//
// Rules, first match wins:
//  1. Milestone kind: Archived, score forced to 1.
//  2. score >= archive and engagement >= archive engagement for
//     SustainEvaluations consecutive counted evaluations: Archived.
//  3. score < expire: Expired.
//  4. score < fading and no interaction for IdleExpiry: Expired.
//  5. score < fading: Fading.
//  6. Active.
func (s *Scheduler) Evaluate(it Item, now time.Time) Evaluation {
	if it.State.Terminal() {
		return Evaluation{
			At:       it.LastEvaluatedAt,
			Score:    it.CurrentScore,
			Hint:     it.State,
			Rule:     RuleTerminal,
			Streak:   it.SustainStreak,
			StreakAt: it.StreakAt,
		}
	}
	if it.Kind == KindMilestone {
		return Evaluation{
			At:       now,
			Score:    1.0,
			Hint:     StateArchived,
			Rule:     RuleMilestone,
			Streak:   it.SustainStreak,
			StreakAt: it.StreakAt,
			Breakdown: Breakdown{
				Total: 1.0,
			},
		}
	}

	b := s.scorer.Explain(it, now)
	ev := Evaluation{
		At:        now,
		Score:     b.Total,
		Breakdown: b,
	}

	th := s.p.Thresholds
	ev.Streak, ev.StreakAt = s.advanceStreak(it, now, b.Total >= th.Archive && it.Engagement >= th.ArchiveEngagement)

	switch {
	case ev.Streak >= s.p.SustainEvaluations:
		ev.Hint, ev.Rule = StateArchived, RuleSustained
	case ev.Score < th.Expire:
		ev.Hint, ev.Rule = StateExpired, RuleFloor
	case ev.Score < th.Fading && s.idle(it, now):
		ev.Hint, ev.Rule = StateExpired, RuleIdle
	case ev.Score < th.Fading:
		ev.Hint, ev.Rule = StateFading, RuleFading
	default:
		ev.Hint, ev.Rule = StateActive, RuleActive
	}
	return ev
}

// advanceStreak updates the sustained-engagement counter. An evaluation only
// counts when it lands strictly after the previous counted one and at least
// SustainInterval later; a failed condition resets the streak.
func (s *Scheduler) advanceStreak(it Item, now time.Time, qualifies bool) (int, time.Time) {
	if !qualifies {
		return 0, time.Time{}
	}
	if it.StreakAt.IsZero() {
		return 1, now
	}
	if now.After(it.StreakAt) && now.Sub(it.StreakAt) >= s.p.SustainInterval {
		return it.SustainStreak + 1, now
	}
	return it.SustainStreak, it.StreakAt
}

func (s *Scheduler) idle(it Item, now time.Time) bool {
	if s.p.IdleExpiry <= 0 {
		return false
	}
	return now.Sub(it.LastInteractionAt) >= s.p.IdleExpiry
}
