package permanence

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestContribution(t *testing.T) {
	acc := NewAccumulator(DefaultParams())

	tests := []struct {
		name string
		ev   Event
		want float64
	}{
		{"view", Event{Type: EventView}, 1},
		{"like", Event{Type: EventLike}, 3},
		{"comment", Event{Type: EventComment}, 5},
		{"share", Event{Type: EventShare}, 8},
		{"full watch", Event{Type: EventWatchTime, Ratio: 1}, 4},
		{"half watch", Event{Type: EventWatchTime, Ratio: 0.5}, 2},
		{"no watch", Event{Type: EventWatchTime, Ratio: 0}, 0},
		{"batched likes", Event{Type: EventLike, Weight: 10}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := acc.Contribution(tt.ev)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestContributionRejectsMalformed(t *testing.T) {
	acc := NewAccumulator(DefaultParams())

	bad := []Event{
		{Type: "poke"},
		{Type: EventWatchTime, Ratio: 1.5},
		{Type: EventWatchTime, Ratio: -0.1},
		{Type: EventWatchTime, Ratio: math.NaN()},
		{Type: EventLike, Weight: -2},
		{Type: EventLike, Weight: math.Inf(1)},
	}
	for _, ev := range bad {
		_, err := acc.Contribution(ev)
		assert.ErrorIs(t, err, ErrInvalidEvent, "event %+v", ev)
	}
}

func TestMetricSaturates(t *testing.T) {
	acc := NewAccumulator(DefaultParams())

	assert.Equal(t, 0.0, acc.Metric(0))
	assert.InDelta(t, 1-math.Exp(-1), acc.Metric(50), 1e-12)
	assert.LessOrEqual(t, acc.Metric(1e6), 1.0)

	// Diminishing returns: the first like is worth more than the hundredth.
	first := acc.Metric(3) - acc.Metric(0)
	hundredth := acc.Metric(300) - acc.Metric(297)
	assert.Greater(t, first, hundredth)
}

func TestRecordFiftyLikes(t *testing.T) {
	acc := NewAccumulator(DefaultParams())
	it := NewItem("tip-1", "u1", KindTip, t0)

	var metric float64
	for i := 0; i < 50; i++ {
		var err error
		metric, err = acc.Record(&it, Event{Type: EventLike, At: t0})
		require.NoError(t, err)
	}

	assert.InDelta(t, 150, it.RawEngagement, 1e-9)
	assert.InDelta(t, 1-math.Exp(-3), metric, 1e-12)
	assert.InDelta(t, 0.9502, metric, 1e-4)
	assert.Equal(t, 50, it.EventCount)
}

func TestRecordRejectsTerminal(t *testing.T) {
	acc := NewAccumulator(DefaultParams())

	for _, st := range []State{StateExpired, StateArchived} {
		it := NewItem("x", "u1", KindRoutine, t0)
		it.State = st
		before := it

		_, err := acc.Record(&it, Event{Type: EventShare, At: t0.Add(time.Hour)})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.ErrorIs(t, err, ErrItemTerminal)

		var ie *ItemError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, "x", ie.ItemID)
		assert.Equal(t, before, it, "terminal item must not change")
	}
}

func TestRecordInteractionClockOnlyMovesForward(t *testing.T) {
	acc := NewAccumulator(DefaultParams())
	it := NewItem("x", "u1", KindRoutine, t0)

	_, err := acc.Record(&it, Event{Type: EventView, At: t0.Add(5 * time.Hour)})
	require.NoError(t, err)
	_, err = acc.Record(&it, Event{Type: EventView, At: t0.Add(2 * time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, t0.Add(5*time.Hour), it.LastInteractionAt)
	assert.InDelta(t, 2, it.RawEngagement, 1e-12)
}

func TestParseEventType(t *testing.T) {
	for in, want := range map[string]EventType{
		"view":       EventView,
		" Like ":     EventLike,
		"COMMENT":    EventComment,
		"share":      EventShare,
		"watch_time": EventWatchTime,
		"watch-time": EventWatchTime,
		"watchtime":  EventWatchTime,
	} {
		got, err := ParseEventType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEventType("repost")
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
