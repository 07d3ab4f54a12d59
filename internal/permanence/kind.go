package permanence

import (
	"fmt"
	"strings"
)

// Kind is the significance class assigned by the external classifier when
// content is published. It never changes afterwards.
type Kind string

const (
	KindRoutine     Kind = "routine"
	KindTip         Kind = "tip"
	KindAchievement Kind = "achievement"
	KindMilestone   Kind = "milestone"
)

var validKinds = map[Kind]bool{
	KindRoutine:     true,
	KindTip:         true,
	KindAchievement: true,
	KindMilestone:   true,
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool { return validKinds[k] }

// ParseKind translates a classifier label into a Kind.
// Labels are trimmed and lowercased; spaces, dashes and underscores are ignored,
// so "Milestone", " ACHIEVEMENT " and "mile_stone" all resolve.
func ParseKind(label string) (Kind, error) {
	k := Kind(normalizeLabel(label))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, label)
	}
	return k, nil
}

func normalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			// separators dropped
		default:
			// anything else makes the label unknown
			b.WriteRune('?')
		}
	}
	return b.String()
}
