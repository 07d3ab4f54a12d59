// Package api holds the JSON wire types shared by the HTTP server and client.
package api

import (
	"errors"
	"time"

	"github.com/lazypower/permanence/internal/engine"
	"github.com/lazypower/permanence/internal/permanence"
	"github.com/lazypower/permanence/internal/store"
)

// CreateItemRequest is the body of POST /api/items. An empty ID is assigned
// by the server and a zero CreatedAt means now.
type CreateItemRequest struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Item is the full wire form of a content item.
type Item struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Kind              string    `json:"kind"`
	CreatedAt         time.Time `json:"created_at"`
	State             string    `json:"state"`
	CurrentScore      float64   `json:"current_score"`
	Engagement        float64   `json:"engagement"`
	EventCount        int       `json:"event_count"`
	SustainStreak     int       `json:"sustain_streak"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	LastEvaluatedAt   time.Time `json:"last_evaluated_at,omitzero"`
}

// FromItem converts a domain item to its wire form.
func FromItem(it permanence.Item) Item {
	return Item{
		ID:                it.ID,
		UserID:            it.UserID,
		Kind:              string(it.Kind),
		CreatedAt:         it.CreatedAt,
		State:             string(it.State),
		CurrentScore:      it.CurrentScore,
		Engagement:        it.Engagement,
		EventCount:        it.EventCount,
		SustainStreak:     it.SustainStreak,
		LastInteractionAt: it.LastInteractionAt,
		LastEvaluatedAt:   it.LastEvaluatedAt,
	}
}

// EventRequest is the body of POST /api/items/{id}/events. A zero At means now.
type EventRequest struct {
	Type   string    `json:"type"`
	Ratio  float64   `json:"ratio,omitempty"`
	Weight float64   `json:"weight,omitempty"`
	At     time.Time `json:"at,omitzero"`
}

// EventResponse reports the item's engagement metric after an event.
type EventResponse struct {
	ItemID           string  `json:"item_id"`
	EngagementMetric float64 `json:"engagement_metric"`
}

// Event is one logged engagement event.
type Event struct {
	ID           int64     `json:"id"`
	ItemID       string    `json:"item_id"`
	Type         string    `json:"type"`
	Ratio        float64   `json:"ratio,omitempty"`
	Weight       float64   `json:"weight"`
	Contribution float64   `json:"contribution"`
	OccurredAt   time.Time `json:"occurred_at"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// FromEventRecord converts a stored event to its wire form.
func FromEventRecord(rec store.EventRecord) Event {
	return Event{
		ID:           rec.ID,
		ItemID:       rec.ItemID,
		Type:         string(rec.Type),
		Ratio:        rec.Ratio,
		Weight:       rec.Weight,
		Contribution: rec.Contribution,
		OccurredAt:   rec.OccurredAt,
		RecordedAt:   rec.RecordedAt,
	}
}

// EventsResponse is the body of GET /api/items/{id}/events.
type EventsResponse struct {
	ItemID string  `json:"item_id"`
	Events []Event `json:"events"`
}

// AtRequest carries an optional evaluation instant. A zero At means now.
type AtRequest struct {
	At time.Time `json:"at,omitzero"`
}

// SweepRun is the persisted record of a sweep run.
type SweepRun struct {
	ID           string    `json:"id"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	Status       string    `json:"status"`
	Checkpoint   string    `json:"checkpoint,omitempty"`
	Evaluated    int       `json:"evaluated"`
	Transitioned int       `json:"transitioned"`
	Failed       int       `json:"failed"`
}

// FromSweepRun converts a stored run to its wire form.
func FromSweepRun(run store.SweepRun) SweepRun {
	return SweepRun(run)
}

// ArchiveResponse is one page of a user's permanent archive, newest first.
type ArchiveResponse struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
	Count  int    `json:"count"`
}

// StatsResponse counts items per lifecycle state.
type StatsResponse struct {
	Items map[string]int `json:"items"`
	Total int            `json:"total"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes. Each maps to exactly one sentinel so a client can rebuild
// errors that match with errors.Is.
const (
	CodeItemNotFound      = "item_not_found"
	CodeDuplicateItem     = "duplicate_item"
	CodeDuplicateArchive  = "duplicate_archive"
	CodeInvalidTransition = "invalid_transition"
	CodeItemTerminal      = "item_terminal"
	CodeInvalidEvent      = "invalid_event"
	CodeUnknownKind       = "unknown_kind"
	CodeInvalidItem       = "invalid_item"
	CodeSweepNotFound     = "sweep_not_found"
	CodeSweepFinished     = "sweep_finished"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeItemNotFound, permanence.ErrItemNotFound},
	{CodeDuplicateItem, permanence.ErrDuplicateItem},
	{CodeDuplicateArchive, permanence.ErrDuplicateArchive},
	{CodeInvalidTransition, permanence.ErrInvalidTransition},
	{CodeItemTerminal, permanence.ErrItemTerminal},
	{CodeInvalidEvent, permanence.ErrInvalidEvent},
	{CodeUnknownKind, permanence.ErrUnknownKind},
	{CodeInvalidItem, permanence.ErrInvalidItem},
	{CodeSweepNotFound, engine.ErrSweepRunNotFound},
	{CodeSweepFinished, engine.ErrSweepRunFinished},
}

// CodeOf returns the wire code for err. Order matters: an event rejected on
// a terminal item wraps both ErrInvalidEvent and ErrItemTerminal.
func CodeOf(err error) string {
	if errors.Is(err, permanence.ErrItemTerminal) {
		return CodeItemTerminal
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Sentinel returns the sentinel error for a wire code, or nil.
func Sentinel(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
