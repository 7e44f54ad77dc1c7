package dashboard

import (
	"slices"

	"github.com/cultimatics/growstudio/internal/commands"
)

// DoserAssignment is the set of doser indices currently on pH duty.
// It only decides which nutrient schedule rows are read-only.
type DoserAssignment struct {
	ids map[int]struct{}
}

// NewDoserAssignment returns an empty assignment.
func NewDoserAssignment() *DoserAssignment {
	return &DoserAssignment{ids: make(map[int]struct{})}
}

// Swap removes prev and adds next as one step. prev == next is a no-op,
// and the "none" index is never stored.
func (a *DoserAssignment) Swap(prev, next int) {
	if prev == next {
		return
	}
	delete(a.ids, prev)
	if next != commands.NoDoser {
		a.ids[next] = struct{}{}
	}
}

// Has reports whether id is on pH duty.
func (a *DoserAssignment) Has(id int) bool {
	_, ok := a.ids[id]
	return ok
}

// IDs returns the assigned indices in ascending order.
func (a *DoserAssignment) IDs() []int {
	out := make([]int, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
