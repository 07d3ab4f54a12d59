package permanence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		from    State
		to      State
		rule    Rule
		wantErr error
	}{
		{"active to fading", KindTip, StateActive, StateFading, RuleFading, nil},
		{"fading back to active", KindTip, StateFading, StateActive, RuleActive, nil},
		{"fading to expired", KindRoutine, StateFading, StateExpired, RuleFloor, nil},
		{"idle expiry", KindRoutine, StateFading, StateExpired, RuleIdle, nil},
		{"sustained archive", KindAchievement, StateActive, StateArchived, RuleSustained, nil},
		{"milestone archive", KindMilestone, StateActive, StateArchived, RuleMilestone, nil},
		{"manual archive", KindAchievement, StateActive, StateArchived, RuleManual, ErrInvalidTransition},
		{"active rule cannot archive", KindTip, StateActive, StateArchived, RuleActive, ErrInvalidTransition},
		{"milestone rule on tip", KindTip, StateActive, StateArchived, RuleMilestone, ErrInvalidTransition},
		{"milestone cannot fade", KindMilestone, StateActive, StateFading, RuleFading, ErrInvalidTransition},
		{"expired is terminal", KindTip, StateExpired, StateActive, RuleActive, ErrItemTerminal},
		{"archived is terminal", KindTip, StateArchived, StateExpired, RuleFloor, ErrItemTerminal},
		{"unknown target", KindTip, StateActive, State("hidden"), RuleManual, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.kind, tt.from, tt.to, tt.rule)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApplyForcedArchiveFails(t *testing.T) {
	it := NewItem("a1", "u1", KindAchievement, t0)
	before := it

	_, err := Apply(&it, Evaluation{At: t0, Score: 0.99, Hint: StateArchived, Rule: RuleManual})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, before, it)
}

func TestApplyWritesEvaluation(t *testing.T) {
	it := NewItem("t1", "u1", KindTip, t0)
	at := t0.Add(time.Hour)

	tr, err := Apply(&it, Evaluation{At: at, Score: 0.3, Hint: StateFading, Rule: RuleFading})
	require.NoError(t, err)
	assert.True(t, tr.Changed())
	assert.Equal(t, 0.3, it.CurrentScore)
	assert.Equal(t, StateFading, it.State)
	assert.Equal(t, at, it.LastEvaluatedAt)

	tr, err = Apply(&it, Evaluation{At: at, Score: 0.3, Hint: StateFading, Rule: RuleFading})
	require.NoError(t, err)
	assert.False(t, tr.Changed())
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"routine":      KindRoutine,
		"Tip":          KindTip,
		" ACHIEVEMENT": KindAchievement,
		"milestone":    KindMilestone,
		"mile_stone":   KindMilestone,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "viral", "milestone!", "routine2"} {
		_, err := ParseKind(in)
		assert.ErrorIs(t, err, ErrUnknownKind, in)
	}
}
