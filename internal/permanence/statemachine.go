package permanence

import "fmt"

// Transition records a state change applied to an item.
type Transition struct {
	ItemID string
	From   State
	To     State
	Rule   Rule
}

// Changed reports whether the state actually moved.
func (t Transition) Changed() bool { return t.From != t.To }

// CheckTransition enforces the lifecycle rules:
//   - terminal states accept nothing (ErrItemTerminal)
//   - Archived is reachable only through the milestone or sustained rules
//   - Milestone items go straight to Archived and never rest in Active or Fading
//   - everything else moves freely between Active, Fading and Expired
func CheckTransition(kind Kind, from, to State, rule Rule) error {
	if from.Terminal() {
		return ErrItemTerminal
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if to == StateArchived && rule != RuleMilestone && rule != RuleSustained {
		return fmt.Errorf("%w: %s -> archived requires the milestone or sustained rule, got %s",
			ErrInvalidTransition, from, rule)
	}
	if rule == RuleMilestone && kind != KindMilestone {
		return fmt.Errorf("%w: milestone rule applied to %s item", ErrInvalidTransition, kind)
	}
	if kind == KindMilestone && to != StateArchived {
		return fmt.Errorf("%w: milestone items can only be archived", ErrInvalidTransition)
	}
	return nil
}

// Apply writes an evaluation into the item after validating the transition.
// Terminal items are left untouched and the error matches ErrItemTerminal.
func Apply(it *Item, ev Evaluation) (Transition, error) {
	tr := Transition{ItemID: it.ID, From: it.State, To: ev.Hint, Rule: ev.Rule}
	if err := CheckTransition(it.Kind, it.State, ev.Hint, ev.Rule); err != nil {
		return tr, itemErr("apply evaluation", it.ID, err)
	}

	it.CurrentScore = ev.Score
	it.State = ev.Hint
	it.SustainStreak = ev.Streak
	it.StreakAt = ev.StreakAt
	it.LastEvaluatedAt = ev.At
	return tr, nil
}
