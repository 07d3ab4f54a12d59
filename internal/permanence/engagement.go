package permanence

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EventType is a kind of engagement signal.
type EventType string

const (
	EventView      EventType = "view"
	EventLike      EventType = "like"
	EventComment   EventType = "comment"
	EventShare     EventType = "share"
	EventWatchTime EventType = "watch_time"
)

// Fixed per-event contributions to the raw engagement sum.
// WatchTime contributes ratio * watchTimeWeight.
var eventWeights = map[EventType]float64{
	EventView:    1,
	EventLike:    3,
	EventComment: 5,
	EventShare:   8,
}

const watchTimeWeight = 4

// ParseEventType resolves a wire name such as "like" or "watch-time".
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if t == "watchtime" {
		t = EventWatchTime
	}
	if _, ok := eventWeights[t]; ok || t == EventWatchTime {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, s)
}

// Event is one engagement signal for an item.
type Event struct {
	Type EventType
	// Ratio is the watched fraction for EventWatchTime, in [0,1]. Ignored otherwise.
	Ratio float64
	// Weight multiplies the fixed contribution, letting a collaborator report
	// several identical events at once. Zero means 1.
	Weight float64
	At     time.Time
}

// Accumulator folds engagement events into an item's bounded engagement metric.
type Accumulator struct {
	NormalizationConstant float64
}

// NewAccumulator returns an Accumulator using p's normalization constant.
func NewAccumulator(p Params) Accumulator {
	return Accumulator{NormalizationConstant: p.NormalizationConstant}
}

// Contribution returns the raw-sum contribution of ev, or ErrInvalidEvent.
func (a Accumulator) Contribution(ev Event) (float64, error) {
	weight := ev.Weight
	if weight == 0 {
		weight = 1
	}
	if !(weight > 0) || math.IsInf(weight, 0) {
		return 0, fmt.Errorf("%w: weight %v must be positive", ErrInvalidEvent, ev.Weight)
	}

	if ev.Type == EventWatchTime {
		if !(ev.Ratio >= 0 && ev.Ratio <= 1) {
			return 0, fmt.Errorf("%w: watch ratio %v outside [0,1]", ErrInvalidEvent, ev.Ratio)
		}
		return ev.Ratio * watchTimeWeight * weight, nil
	}

	base, ok := eventWeights[ev.Type]
	if !ok {
		return 0, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
	return base * weight, nil
}

// Metric is the saturating transform 1 - exp(-raw/N). It is 0 for no
// engagement, strictly increasing, and never reaches 1.
func (a Accumulator) Metric(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return 1 - math.Exp(-raw/a.NormalizationConstant)
}

// Record applies ev to it and returns the new engagement metric.
// Terminal items reject every event; the error matches both ErrInvalidEvent
// and ErrItemTerminal. On error the item is left untouched.
func (a Accumulator) Record(it *Item, ev Event) (float64, error) {
	if it.State.Terminal() {
		return it.Engagement, itemErr("record event", it.ID,
			fmt.Errorf("%w: %w (%s)", ErrInvalidEvent, ErrItemTerminal, it.State))
	}
	c, err := a.Contribution(ev)
	if err != nil {
		return it.Engagement, itemErr("record event", it.ID, err)
	}

	it.RawEngagement += c
	it.Engagement = a.Metric(it.RawEngagement)
	it.EventCount++
	if ev.At.After(it.LastInteractionAt) {
		it.LastInteractionAt = ev.At
	}
	return it.Engagement, nil
}
