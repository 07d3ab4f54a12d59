package permanence

import (
	"math"
	"time"
)

// weightSumTolerance absorbs float64 rounding in 0.40+0.30+0.20+0.10.
const weightSumTolerance = 1e-9

// Weights are the coefficients of the four score terms. They must sum to 1.
type Weights struct {
	Engagement   float64 `yaml:"engagement"`
	Significance float64 `yaml:"significance"`
	Recency      float64 `yaml:"recency"`
	Temporal     float64 `yaml:"temporal"`
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.Engagement + w.Significance + w.Recency + w.Temporal
}

// SignificanceTable maps each Kind to its fixed significance weight.
type SignificanceTable struct {
	Routine     float64 `yaml:"routine"`
	Tip         float64 `yaml:"tip"`
	Achievement float64 `yaml:"achievement"`
	Milestone   float64 `yaml:"milestone"`
}

// For returns the significance weight of k, or 0 for an unknown kind.
func (t SignificanceTable) For(k Kind) float64 {
	switch k {
	case KindRoutine:
		return t.Routine
	case KindTip:
		return t.Tip
	case KindAchievement:
		return t.Achievement
	case KindMilestone:
		return t.Milestone
	}
	return 0
}

// Thresholds drive the scheduler's state hints.
type Thresholds struct {
	Archive           float64 `yaml:"archive"`
	ArchiveEngagement float64 `yaml:"archive_engagement" split_words:"true"`
	Fading            float64 `yaml:"fading"`
	Expire            float64 `yaml:"expire"`
}

// Params is the complete tunable surface of the scoring core.
type Params struct {
	Weights      Weights           `yaml:"weights"`
	Significance SignificanceTable `yaml:"significance"`
	Thresholds   Thresholds        `yaml:"thresholds"`

	// NormalizationConstant scales the saturating engagement transform.
	NormalizationConstant float64 `yaml:"normalization_constant" split_words:"true"`
	// RecencyScale is the e-folding time of the interaction recency term.
	RecencyScale time.Duration `yaml:"recency_scale" split_words:"true"`
	// TemporalScale is the e-folding time of the raw-age term.
	TemporalScale time.Duration `yaml:"temporal_scale" split_words:"true"`

	// SustainEvaluations is how many consecutive counted evaluations must
	// satisfy the archive condition before a non-milestone item is archived.
	SustainEvaluations int `yaml:"sustain_evaluations" split_words:"true"`
	// SustainInterval is the minimum spacing between two counted evaluations.
	SustainInterval time.Duration `yaml:"sustain_interval" split_words:"true"`
	// IdleExpiry expires a fading item that has seen no interaction for this long.
	// Zero disables the rule.
	IdleExpiry time.Duration `yaml:"idle_expiry" split_words:"true"`
}

// DefaultParams returns the documented production constants.
func DefaultParams() Params {
	return Params{
		Weights: Weights{
			Engagement:   0.40,
			Significance: 0.30,
			Recency:      0.20,
			Temporal:     0.10,
		},
		Significance: SignificanceTable{
			Routine:     0.1,
			Tip:         0.3,
			Achievement: 0.7,
			Milestone:   1.0,
		},
		Thresholds: Thresholds{
			Archive:           0.85,
			ArchiveEngagement: 0.8,
			Fading:            0.35,
			Expire:            0.05,
		},
		NormalizationConstant: 50,
		RecencyScale:          72 * time.Hour,
		TemporalScale:         240 * time.Hour,
		SustainEvaluations:    3,
		SustainInterval:       time.Hour,
		IdleExpiry:            14 * 24 * time.Hour,
	}
}

// Validate checks every invariant the scorer relies on. The returned error
// is a *ConfigError and matches ErrConfiguration.
func (p Params) Validate() error {
	w := p.Weights
	if err := checkUnit([]fieldValue{
		{"weights.engagement", w.Engagement},
		{"weights.significance", w.Significance},
		{"weights.recency", w.Recency},
		{"weights.temporal", w.Temporal},
	}); err != nil {
		return err
	}
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return &ConfigError{Field: "weights", Reason: "must sum to 1.0"}
	}

	sig := p.Significance
	if err := checkUnit([]fieldValue{
		{"significance.routine", sig.Routine},
		{"significance.tip", sig.Tip},
		{"significance.achievement", sig.Achievement},
		{"significance.milestone", sig.Milestone},
	}); err != nil {
		return err
	}

	t := p.Thresholds
	if err := checkUnit([]fieldValue{
		{"thresholds.archive", t.Archive},
		{"thresholds.archive_engagement", t.ArchiveEngagement},
		{"thresholds.fading", t.Fading},
		{"thresholds.expire", t.Expire},
	}); err != nil {
		return err
	}
	if !(t.Expire < t.Fading && t.Fading < t.Archive) {
		return &ConfigError{Field: "thresholds", Reason: "must satisfy expire < fading < archive"}
	}

	if !(p.NormalizationConstant > 0) || math.IsInf(p.NormalizationConstant, 0) {
		return &ConfigError{Field: "normalization_constant", Reason: "must be positive"}
	}
	if p.RecencyScale <= 0 {
		return &ConfigError{Field: "recency_scale", Reason: "must be positive"}
	}
	if p.TemporalScale <= 0 {
		return &ConfigError{Field: "temporal_scale", Reason: "must be positive"}
	}
	if p.SustainEvaluations < 1 {
		return &ConfigError{Field: "sustain_evaluations", Reason: "must be at least 1"}
	}
	if p.SustainInterval < 0 {
		return &ConfigError{Field: "sustain_interval", Reason: "must not be negative"}
	}
	if p.IdleExpiry < 0 {
		return &ConfigError{Field: "idle_expiry", Reason: "must not be negative"}
	}
	return nil
}

type fieldValue struct {
	field string
	value float64
}

// checkUnit reports the first field outside [0,1], in the order given.
func checkUnit(fields []fieldValue) error {
	for _, f := range fields {
		if !unit(f.value) {
			return &ConfigError{Field: f.field, Reason: "must be within [0,1]"}
		}
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}
