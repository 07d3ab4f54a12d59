// Package permanence holds the pure scoring core: engagement accumulation,
// the permanence score, time decay, and the item lifecycle.
//
// Nothing in this package reads a clock or touches storage. Every function
// takes the evaluation time as an argument, so a periodic sweep and a lazy
// read at the same instant produce the same result.
package permanence

import "time"

// State is an item's position in the lifecycle.
type State string

const (
	StateActive   State = "active"
	StateFading   State = "fading"
	StateExpired  State = "expired"
	StateArchived State = "archived"
)

// Terminal reports whether no further input may change an item in this state.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateArchived
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateFading, StateExpired, StateArchived:
		return true
	}
	return false
}

// Item is the metadata record for one piece of ephemeral content.
//
// ID, UserID, Kind and CreatedAt are immutable. RawEngagement, Engagement,
// EventCount and LastInteractionAt are written only by the Accumulator.
// CurrentScore, State, SustainStreak, StreakAt and LastEvaluatedAt are written
// only through Apply with an Evaluation from the Scheduler.
type Item struct {
	ID        string
	UserID    string
	Kind      Kind
	CreatedAt time.Time

	RawEngagement     float64
	Engagement        float64
	EventCount        int
	LastInteractionAt time.Time

	CurrentScore    float64
	State           State
	SustainStreak   int
	StreakAt        time.Time // zero until an evaluation first counts toward the streak
	LastEvaluatedAt time.Time // zero until first evaluated
}

// NewItem builds a freshly published item. The interaction clock starts at
// creation so an untouched item decays from its publish time.
func NewItem(id, userID string, kind Kind, createdAt time.Time) Item {
	return Item{
		ID:                id,
		UserID:            userID,
		Kind:              kind,
		CreatedAt:         createdAt,
		LastInteractionAt: createdAt,
		State:             StateActive,
	}
}

// Visibility is what feed consumers see for an item.
type Visibility struct {
	ItemID       string    `json:"item_id"`
	State        State     `json:"state"`
	CurrentScore float64   `json:"current_score"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Visibility returns the item's externally visible state.
func (it *Item) Visibility() Visibility {
	return Visibility{
		ItemID:       it.ID,
		State:        it.State,
		CurrentScore: it.CurrentScore,
		EvaluatedAt:  it.LastEvaluatedAt,
	}
}

// Millis truncates t to millisecond precision, the resolution items are
// persisted at. The engine normalizes every timestamp through it so that an
// in-memory evaluation and one replayed from storage agree bit for bit.
func Millis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}
