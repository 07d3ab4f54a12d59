package permanence

import (
	"math"
	"time"
)

// Breakdown is the weighted contribution of each score term.
type Breakdown struct {
	Engagement   float64 `json:"engagement"`
	Significance float64 `json:"significance"`
	Recency      float64 `json:"recency"`
	Temporal     float64 `json:"temporal"`
	Total        float64 `json:"total"`
}

// Scorer computes the permanence score. It holds no state beyond its
// parameters and never mutates the item it scores.
type Scorer struct {
	p Params
}

// NewScorer validates p and returns a Scorer.
func NewScorer(p Params) (*Scorer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{p: p}, nil
}

// Score returns the item's permanence score at now, in [0,1].
func (s *Scorer) Score(it Item, now time.Time) float64 {
	return s.Explain(it, now).Total
}

// Explain returns the per-term breakdown of the score at now.
func (s *Scorer) Explain(it Item, now time.Time) Breakdown {
	w := s.p.Weights
	b := Breakdown{
		Engagement:   w.Engagement * clamp01(it.Engagement),
		Significance: w.Significance * s.p.Significance.For(it.Kind),
		Recency:      w.Recency * s.InteractionRecency(it.LastInteractionAt, now),
		Temporal:     w.Temporal * s.TemporalRelevance(it.CreatedAt, now),
	}
	b.Total = clamp01(b.Engagement + b.Significance + b.Recency + b.Temporal)
	return b
}

// InteractionRecency is exp(-hoursSinceLastInteraction / recencyScale).
func (s *Scorer) InteractionRecency(lastInteraction, now time.Time) float64 {
	return expDecay(now.Sub(lastInteraction), s.p.RecencyScale)
}

// TemporalRelevance is exp(-hoursSinceCreation / temporalScale).
func (s *Scorer) TemporalRelevance(createdAt, now time.Time) float64 {
	return expDecay(now.Sub(createdAt), s.p.TemporalScale)
}

// expDecay evaluates exp(-elapsed/scale) in hours. Elapsed time before the
// reference point counts as zero, so the term never exceeds 1.
func expDecay(elapsed, scale time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Exp(-elapsed.Hours() / scale.Hours())
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
