package materialize

import "github.com/stablehq/farrier/internal/db"

// assigner yields the assignee for each successive occurrence of one
// definition within a run.
type assigner interface {
	next() string
}

type fixedAssigner struct {
	userID string
}

func (a fixedAssigner) next() string { return a.userID }

// noAssigner leaves occurrences unassigned. Fair-distribution balancing is
// done later by staff, not at generation time.
type noAssigner struct{}

func (noAssigner) next() string { return "" }

// rotationAssigner walks the rotation group round-robin, starting from the
// cursor persisted on the definition so rotation continues across runs.
type rotationAssigner struct {
	group  []string
	cursor int
}

func (a *rotationAssigner) next() string {
	user := a.group[a.cursor]
	a.cursor = (a.cursor + 1) % len(a.group)
	return user
}

func newAssigner(def db.RecurringDefinition) assigner {
	switch def.AssignmentMode {
	case db.AssignRotation:
		if len(def.RotationGroup) == 0 {
			return noAssigner{}
		}
		cursor := def.CurrentRotationIndex
		if cursor < 0 || cursor >= len(def.RotationGroup) {
			cursor = 0
		}
		return &rotationAssigner{group: def.RotationGroup, cursor: cursor}
	case db.AssignFairDistribution:
		return noAssigner{}
	default:
		return fixedAssigner{userID: def.AssignedTo}
	}
}
